package memory

import (
	"time"

	"github.com/zhimiaox/zmqx-retained/persistence"
)

type Option func(*store)

// WithClock replaces time.Now, used to decide message expiry.
func WithClock(now func() time.Time) Option {
	return func(s *store) {
		if now != nil {
			s.now = now
		}
	}
}

type store struct {
	retained *retained
	payloads *payloads
	now      func() time.Time
}

func (s *store) Local() persistence.RetainedLocal {
	return s.retained
}

func (s *store) Payloads() persistence.PayloadStore {
	return s.payloads
}

func (s *store) Close() error {
	return s.payloads.Close()
}

// New returns an in-memory backend with bucketCount buckets. Nothing survives a restart.
func New(bucketCount int, opts ...Option) persistence.Backend {
	s := &store{now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.retained = newRetained(bucketCount, s.now)
	s.payloads = newPayloads()
	return s
}
