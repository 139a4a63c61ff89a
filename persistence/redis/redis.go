package redis

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/zhimiaox/zmqx-retained/consts"
	"github.com/zhimiaox/zmqx-retained/persistence"
)

const (
	// bucket => {topic => record} 保留消息
	retainedDataKey = "%s:retained:data:%d"
	// payload id => payload bytes
	payloadDataKey = "%s:retained:payload:data"
	// payload id => reference count
	payloadRefsKey = "%s:retained:payload:refs"
)

type Option func(*store)

// WithKeyPrefix namespaces every key, consts.GlobalPrefix by default.
func WithKeyPrefix(prefix string) Option {
	return func(s *store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithClock replaces time.Now, used to decide message expiry.
func WithClock(now func() time.Time) Option {
	return func(s *store) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type store struct {
	rdb      redis.UniversalClient
	prefix   string
	now      func() time.Time
	logger   *slog.Logger
	retained *retained
	payloads *payloads
}

func (s *store) Local() persistence.RetainedLocal {
	return s.retained
}

func (s *store) Payloads() persistence.PayloadStore {
	return s.payloads
}

// Close closes the client handed to New.
func (s *store) Close() error {
	return s.payloads.Close()
}

// New returns a backend keeping one hash per bucket and a shared payload hash pair.
// The backend owns rdb from now on and closes it in Close.
func New(rdb redis.UniversalClient, bucketCount int, opts ...Option) persistence.Backend {
	s := &store{
		rdb:    rdb,
		prefix: consts.GlobalPrefix,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.retained = s.newRetained(bucketCount)
	s.payloads = s.newPayloads()
	return s
}

func (s *store) bucketKey(bucket int) string {
	return fmt.Sprintf(retainedDataKey, s.prefix, bucket)
}
