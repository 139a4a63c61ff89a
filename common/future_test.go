package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFuture_ResolveOnce(t *testing.T) {
	f := NewFuture[int]()
	assert.NoError(t, f.Err())

	assert.True(t, f.Complete(1))
	assert.False(t, f.Complete(2))
	assert.False(t, f.Fail(errors.New("late")))

	v, err := f.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestFuture_GetContextDone(t *testing.T) {
	f := NewFuture[string]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	f.Complete("later")
	v, err := f.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "later", v)
}

func TestFailed(t *testing.T) {
	cause := errors.New("boom")
	f := Failed[int](cause)

	select {
	case <-f.Done():
	default:
		t.Fatal("failed future must be resolved")
	}
	assert.ErrorIs(t, f.Err(), cause)
}

func TestAll(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		v, err := All[int](nil).Get(context.Background())
		require.NoError(t, err)
		assert.Empty(t, v)
	})

	t.Run("keeps_input_order", func(t *testing.T) {
		futures := []*Future[int]{NewFuture[int](), NewFuture[int](), NewFuture[int]()}
		all := All(futures)

		futures[2].Complete(3)
		futures[0].Complete(1)
		select {
		case <-all.Done():
			t.Fatal("resolved before every future completed")
		case <-time.After(10 * time.Millisecond):
		}
		futures[1].Complete(2)

		v, err := all.Get(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, v)
	})

	t.Run("fails_fast", func(t *testing.T) {
		cause := errors.New("bucket 1 failed")
		futures := []*Future[int]{NewFuture[int](), NewFuture[int]()}
		all := All(futures)

		futures[1].Fail(cause)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_, err := all.Get(ctx)
		assert.ErrorIs(t, err, cause)

		// the pending future never blocks the aggregate failure
		futures[0].Complete(1)
	})
}

func TestDiscard(t *testing.T) {
	v, err := Discard(Completed(42)).Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, struct{}{}, v)

	cause := errors.New("boom")
	_, err = Discard(Failed[int](cause)).Get(context.Background())
	assert.ErrorIs(t, err, cause)
}

func TestMap(t *testing.T) {
	v, err := Map(Completed(2), func(i int) (string, error) {
		return "two", nil
	}).Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "two", v)

	cause := errors.New("boom")
	_, err = Map(Completed(2), func(int) (string, error) { return "", cause }).Get(context.Background())
	assert.ErrorIs(t, err, cause)

	called := false
	_, err = Map(Failed[int](cause), func(int) (string, error) {
		called = true
		return "", nil
	}).Get(context.Background())
	assert.ErrorIs(t, err, cause)
	assert.False(t, called)
}
