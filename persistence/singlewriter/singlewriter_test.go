package singlewriter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhimiaox/zmqx-retained/common"
	"github.com/zhimiaox/zmqx-retained/errors"
)

func wait[T any](t *testing.T, f *common.Future[T]) (T, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := f.Get(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
	return v, err
}

func TestService_SameLaneOrder(t *testing.T) {
	s := New(4)
	s.Start()
	defer s.Stop()

	var (
		mu    sync.Mutex
		order []int
	)
	futures := make([]*common.Future[int], 0, 1000)
	for i := 0; i < 1000; i++ {
		i := i
		futures = append(futures, Submit(s, 2, func() (int, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		}))
	}
	values, err := wait(t, common.All(futures))
	require.NoError(t, err)
	for i, v := range values {
		assert.Equal(t, i, v)
	}
	for i, v := range order {
		require.Equal(t, i, v, "tasks of one lane must run in submission order")
	}
}

func TestService_NoOverlapWithinLane(t *testing.T) {
	s := New(8)
	s.Start()
	defer s.Stop()

	var running [8]atomic.Int32
	var overlap atomic.Bool
	var futures []*common.Future[struct{}]
	for i := 0; i < 800; i++ {
		bucket := i % 8
		futures = append(futures, Submit(s, bucket, func() (struct{}, error) {
			if running[bucket].Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(10 * time.Microsecond)
			running[bucket].Add(-1)
			return struct{}{}, nil
		}))
	}
	_, err := wait(t, common.All(futures))
	require.NoError(t, err)
	assert.False(t, overlap.Load())
}

func TestService_FailureIsolation(t *testing.T) {
	s := New(1)
	s.Start()
	defer s.Stop()

	boom := errors.New("boom")
	failed := Submit(s, 0, func() (int, error) { return 0, boom })
	panicked := Submit(s, 0, func() (int, error) { panic("kaboom") })
	ok := Submit(s, 0, func() (int, error) { return 42, nil })

	_, err := wait(t, failed)
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, errors.ErrCollaboratorFailure)

	_, err = wait(t, panicked)
	var ce *errors.CollaboratorError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 0, ce.Bucket)
	assert.Contains(t, ce.Error(), "kaboom")

	v, err := wait(t, ok)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	st := s.Stats()[0]
	assert.Equal(t, int64(3), st.Submitted)
	assert.Equal(t, int64(3), st.Processed)
	assert.Equal(t, int64(2), st.Failed)
}

func TestService_Lifecycle(t *testing.T) {
	s := New(2)
	_, err := wait(t, Submit(s, 0, func() (int, error) { return 1, nil }))
	assert.ErrorIs(t, err, errors.ErrClosed, "submit before start")

	s.Start()
	_, err = wait(t, Submit(s, 5, func() (int, error) { return 1, nil }))
	assert.ErrorIs(t, err, errors.ErrInvalidBucket)

	release := make(chan struct{})
	blocked := Submit(s, 0, func() (int, error) {
		<-release
		return 7, nil
	})
	queued := Submit(s, 0, func() (int, error) { return 8, nil })

	stop := s.Stop()
	assert.Same(t, stop, s.Stop(), "stop is idempotent")
	_, err = wait(t, Submit(s, 1, func() (int, error) { return 1, nil }))
	assert.ErrorIs(t, err, errors.ErrClosed, "submit after stop")

	select {
	case <-stop.Done():
		t.Fatal("stop completed before the lanes drained")
	default:
	}
	close(release)
	_, err = wait(t, stop)
	require.NoError(t, err)

	v, err := wait(t, blocked)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
	v, err = wait(t, queued)
	require.NoError(t, err)
	assert.Equal(t, 8, v)
}

func TestService_StopBeforeStart(t *testing.T) {
	s := New(2)
	_, err := wait(t, s.Stop())
	require.NoError(t, err)
	s.Start()
	_, err = wait(t, Submit(s, 0, func() (int, error) { return 1, nil }))
	assert.ErrorIs(t, err, errors.ErrClosed)
}

func TestService_QueueFull(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(1, WithQueueDepth(2), WithRegisterer(reg))
	s.Start()

	release := make(chan struct{})
	started := make(chan struct{})
	first := Submit(s, 0, func() (int, error) {
		close(started)
		<-release
		return 0, nil
	})
	<-started
	second := Submit(s, 0, func() (int, error) { return 0, nil })
	third := Submit(s, 0, func() (int, error) { return 0, nil })
	full := Submit(s, 0, func() (int, error) { return 0, nil })

	_, err := wait(t, full)
	assert.ErrorIs(t, err, errors.ErrQueueFull)
	assert.Equal(t, int64(1), s.Stats()[0].Dropped)

	close(release)
	for _, f := range []*common.Future[int]{first, second, third} {
		_, err := wait(t, f)
		assert.NoError(t, err)
	}
	_, err = wait(t, s.Stop())
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.tasks.WithLabelValues(statusDropped)))
	assert.Equal(t, float64(3), testutil.ToFloat64(s.metrics.tasks.WithLabelValues(statusSuccess)))
}

func TestService_SharedRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := New(1, WithRegisterer(reg))
	b := New(1, WithRegisterer(reg))
	assert.Same(t, a.metrics.tasks, b.metrics.tasks)
}
