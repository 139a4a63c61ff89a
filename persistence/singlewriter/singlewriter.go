// Package singlewriter runs tasks on a fixed set of lanes.
// Every lane owns one goroutine, so tasks submitted to the same lane never overlap
// and run in submission order, while different lanes make progress in parallel.
package singlewriter

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zhimiaox/zmqx-retained/common"
	"github.com/zhimiaox/zmqx-retained/consts"
	"github.com/zhimiaox/zmqx-retained/errors"
)

type Option func(*Service)

// WithQueueDepth bounds the number of pending tasks per lane.
func WithQueueDepth(depth int) Option {
	return func(s *Service) {
		if depth > 0 {
			s.queueDepth = depth
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRegisterer exports lane metrics to reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Service) {
		s.registerer = reg
	}
}

type lane struct {
	tasks     chan func() error
	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// Service is the sequential execution service.
type Service struct {
	queueDepth int
	logger     *slog.Logger
	registerer prometheus.Registerer
	metrics    *metrics

	lanes []*lane
	wg    sync.WaitGroup

	// mu guards the lifecycle: submitters hold the read lock while enqueueing,
	// Stop takes the write lock before closing the lane channels.
	mu       sync.RWMutex
	started  bool
	stopped  bool
	stopping *common.Future[struct{}]
}

// New creates a service with bucketCount lanes. It accepts tasks once started.
func New(bucketCount int, opts ...Option) *Service {
	if bucketCount <= 0 {
		bucketCount = consts.BucketCount
	}
	s := &Service{
		queueDepth: consts.QueueDepth,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "singlewriter")
	s.lanes = make([]*lane, bucketCount)
	for i := range s.lanes {
		s.lanes[i] = &lane{tasks: make(chan func() error, s.queueDepth)}
	}
	if s.registerer != nil {
		s.metrics = newMetrics(s.registerer, s.logger)
	}
	return s
}

// BucketCount returns the number of lanes.
func (s *Service) BucketCount() int {
	return len(s.lanes)
}

// Start launches one goroutine per lane. Calling it again, or after Stop, does nothing.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	for i, l := range s.lanes {
		s.wg.Add(1)
		go s.run(i, l)
	}
	s.logger.Debug("single writer started", "lanes", len(s.lanes), "queue_depth", s.queueDepth)
}

// Stop refuses new tasks and returns a future completed once every lane
// has drained the tasks queued before the call. Repeated calls return the same future.
func (s *Service) Stop() *common.Future[struct{}] {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping != nil {
		return s.stopping
	}
	s.stopping = common.NewFuture[struct{}]()
	s.stopped = true
	if !s.started {
		s.stopping.Complete(struct{}{})
		return s.stopping
	}
	for _, l := range s.lanes {
		close(l.tasks)
	}
	go func(f *common.Future[struct{}]) {
		s.wg.Wait()
		s.logger.Debug("single writer stopped")
		f.Complete(struct{}{})
	}(s.stopping)
	return s.stopping
}

// Submit queues task on the lane of bucket and returns its future.
// It never blocks: a full lane fails the future with errors.ErrQueueFull,
// a service not running fails it with errors.ErrClosed.
func Submit[T any](s *Service, bucket int, task func() (T, error)) *common.Future[T] {
	if bucket < 0 || bucket >= len(s.lanes) {
		return common.Failed[T](errors.ErrInvalidBucket)
	}
	f := common.NewFuture[T]()
	wrapped := func() error {
		v, err := call(bucket, task)
		if err != nil {
			f.Fail(err)
			return err
		}
		f.Complete(v)
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.started || s.stopped {
		return common.Failed[T](errors.ErrClosed)
	}
	l := s.lanes[bucket]
	select {
	case l.tasks <- wrapped:
		l.submitted.Add(1)
		if s.metrics != nil {
			s.metrics.queueDepth.WithLabelValues(laneLabel(bucket)).Set(float64(len(l.tasks)))
		}
		return f
	default:
		l.dropped.Add(1)
		if s.metrics != nil {
			s.metrics.tasks.WithLabelValues(statusDropped).Inc()
		}
		return common.Failed[T](errors.ErrQueueFull)
	}
}

// call runs task, turning an error or a panic into a CollaboratorError.
func call[T any](bucket int, task func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			v = zero
			err = &errors.CollaboratorError{Op: "task", Bucket: bucket, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	v, err = task()
	return v, errors.Collaborator("task", bucket, err)
}

func (s *Service) run(bucket int, l *lane) {
	defer s.wg.Done()
	label := laneLabel(bucket)
	for task := range l.tasks {
		start := time.Now()
		err := s.exec(bucket, task)
		l.processed.Add(1)
		if err != nil {
			l.failed.Add(1)
		}
		if s.metrics != nil {
			status := statusSuccess
			if err != nil {
				status = statusError
			}
			s.metrics.tasks.WithLabelValues(status).Inc()
			s.metrics.duration.Observe(time.Since(start).Seconds())
			s.metrics.queueDepth.WithLabelValues(label).Set(float64(len(l.tasks)))
		}
	}
}

// exec runs one queued task and reports its failure.
func (s *Service) exec(bucket int, task func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("single writer task panicked", "bucket", bucket, "panic", r)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task()
}

// LaneStats is a snapshot of the counters of one lane.
type LaneStats struct {
	Bucket     int   `json:"bucket"`
	QueueDepth int   `json:"queue_depth"`
	Submitted  int64 `json:"submitted"`
	Processed  int64 `json:"processed"`
	Failed     int64 `json:"failed"`
	Dropped    int64 `json:"dropped"`
}

// Stats returns the counters of every lane.
func (s *Service) Stats() []LaneStats {
	stats := make([]LaneStats, len(s.lanes))
	for i, l := range s.lanes {
		stats[i] = LaneStats{
			Bucket:     i,
			QueueDepth: len(l.tasks),
			Submitted:  l.submitted.Load(),
			Processed:  l.processed.Load(),
			Failed:     l.failed.Load(),
			Dropped:    l.dropped.Load(),
		}
	}
	return stats
}
