package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/zhimiaox/zmqx-retained/config"
	"github.com/zhimiaox/zmqx-retained/consts"
	"github.com/zhimiaox/zmqx-retained/persistence"
	pbbolt "github.com/zhimiaox/zmqx-retained/persistence/bbolt"
	pmemory "github.com/zhimiaox/zmqx-retained/persistence/memory"
	"github.com/zhimiaox/zmqx-retained/persistence/retained"
	predis "github.com/zhimiaox/zmqx-retained/persistence/redis"
	"github.com/zhimiaox/zmqx-retained/persistence/singlewriter"
)

// retainedStore wires a backend, the single writer and the orchestrator together
// and owns their shutdown order.
type retainedStore struct {
	backend  persistence.Backend
	writer   *singlewriter.Service
	retained *retained.Persistence
}

func newBackend(cfg *config.Config, logger *slog.Logger) (persistence.Backend, error) {
	buckets := cfg.Retained.Buckets
	switch cfg.Server.Persistence.Type {
	case consts.Memory:
		return pmemory.New(buckets), nil
	case consts.Bolt:
		conf := cfg.Server.Persistence.BBolt
		if conf == nil {
			return nil, fmt.Errorf("bbolt persistence requires a path")
		}
		return pbbolt.New(pbbolt.Config{Path: conf.Path, NoSync: conf.NoSync}, buckets)
	case consts.Redis:
		conf := cfg.Server.Persistence.Redis
		if conf == nil {
			return nil, fmt.Errorf("redis persistence requires an addr")
		}
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    conf.Addr,
			Password: conf.Password,
			DB:       conf.Database,
		})
		return predis.New(rdb, buckets, predis.WithLogger(logger)), nil
	}
	return nil, fmt.Errorf("invalid persistence type: %s", cfg.Server.Persistence.Type)
}

func openRetainedStore(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*retainedStore, error) {
	backend, err := newBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	opts := []singlewriter.Option{
		singlewriter.WithQueueDepth(cfg.Retained.QueueDepth),
		singlewriter.WithLogger(logger),
	}
	if reg != nil {
		opts = append(opts, singlewriter.WithRegisterer(reg))
	}
	writer := singlewriter.New(cfg.Retained.Buckets, opts...)
	writer.Start()
	logger.Info("retained persistence ready",
		"type", cfg.Server.Persistence.Type,
		"buckets", cfg.Retained.Buckets,
		"queue_depth", cfg.Retained.QueueDepth)
	return &retainedStore{
		backend:  backend,
		writer:   writer,
		retained: retained.New(backend.Local(), backend.Payloads(), writer, retained.WithLogger(logger)),
	}, nil
}

// Close closes every bucket, drains the writer and then releases the backend.
func (s *retainedStore) Close(ctx context.Context) error {
	var result *multierror.Error
	if _, err := s.retained.CloseDB().Get(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("close buckets: %w", err))
	}
	if _, err := s.writer.Stop().Get(ctx); err != nil {
		result = multierror.Append(result, fmt.Errorf("stop writer: %w", err))
	}
	if err := s.backend.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close backend: %w", err))
	}
	return result.ErrorOrNil()
}
