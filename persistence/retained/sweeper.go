package retained

import (
	"context"
	"log/slog"
	"time"

	"github.com/zhimiaox/zmqx-retained/errors"
)

// Sweeper purges expired retained messages in the background,
// one bucket per tick in round-robin order. A failed bucket is simply
// visited again on its next turn.
type Sweeper struct {
	p        *Persistence
	interval time.Duration
	logger   *slog.Logger
	next     int
}

func NewSweeper(p *Persistence, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		p:        p,
		interval: interval,
		logger:   logger.With("component", "sweeper"),
	}
}

// Run blocks until ctx is done or the persistence is closed.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.sweep(ctx); errors.Is(err, errors.ErrClosed) {
				s.logger.Debug("retained persistence closed, sweeper exits")
				return
			}
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) error {
	bucket := s.next
	s.next = (s.next + 1) % s.p.BucketCount()
	_, err := s.p.CleanUp(bucket).Get(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("clean up retained bucket", "bucket", bucket, "err", err)
	}
	return err
}
