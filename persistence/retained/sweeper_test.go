package retained

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/zhimiaox/zmqx-retained/errors"
	"github.com/zhimiaox/zmqx-retained/persistence/singlewriter"
)

func TestSweeper_RoundRobin(t *testing.T) {
	local := &mockLocal{}
	visited := make(chan int, 16)
	local.On("CleanUp", 1).Return(nil, errors.New("busy"))
	local.On("CleanUp", mock.Anything).
		Run(func(args mock.Arguments) { visited <- args.Int(0) }).
		Return(nil, nil)

	writer := singlewriter.New(3)
	writer.Start()
	defer writer.Stop()
	p := New(local, &mockPayloads{}, writer)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(p, time.Millisecond, nil).Run(ctx)
		close(done)
	}()

	var got []int
	for len(got) < 3 {
		select {
		case b := <-visited:
			got = append(got, b)
		case <-time.After(5 * time.Second):
			t.Fatal("sweeper did not visit buckets")
		}
	}
	cancel()
	<-done
	assert.Equal(t, []int{0, 2, 0}, got, "bucket 1 fails and is skipped until its next turn")
	local.AssertCalled(t, "CleanUp", 1)
}

func TestSweeper_StopsWhenClosed(t *testing.T) {
	local := &mockLocal{}
	local.On("CloseDB", mock.Anything).Return(nil)
	writer := singlewriter.New(2)
	writer.Start()
	defer writer.Stop()
	p := New(local, &mockPayloads{}, writer)
	_, err := await(p.CloseDB())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		NewSweeper(p, time.Millisecond, nil).Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper kept running on a closed persistence")
	}
	local.AssertNotCalled(t, "CleanUp", mock.Anything)
}

func TestSweeper_Disabled(t *testing.T) {
	NewSweeper(nil, 0, nil).Run(context.Background())
}
