package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrainContext(t *testing.T) {
	t.Run("outlives parent until timeout", func(t *testing.T) {
		parent, cancel := context.WithCancel(context.Background())
		ctx, stop := drainContext(parent, 50*time.Millisecond)
		defer stop()

		cancel()
		time.Sleep(10 * time.Millisecond)
		assert.NoError(t, ctx.Err())

		select {
		case <-ctx.Done():
		case <-time.After(time.Second):
			t.Fatal("drain context was not cancelled after the timeout")
		}
	})

	t.Run("zero timeout follows parent", func(t *testing.T) {
		parent, cancel := context.WithCancel(context.Background())
		ctx, stop := drainContext(parent, 0)
		defer stop()

		cancel()
		require.Eventually(t, func() bool { return ctx.Err() != nil }, time.Second, 5*time.Millisecond)
	})

	t.Run("stop releases", func(t *testing.T) {
		ctx, stop := drainContext(context.Background(), time.Hour)
		stop()
		assert.Error(t, ctx.Err())
	})
}

func TestBackoffInterruptedByCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan *Task, 1)
	task := &Task{Sequence: 7}

	go backoff(ctx, task, time.Hour, out)
	cancel()

	select {
	case got := <-out:
		assert.Same(t, task, got)
	case <-time.After(time.Second):
		t.Fatal("backoff ignored cancellation")
	}
}
