package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherRunsTasks(t *testing.T) {
	d := NewDispatcher(2, 16)
	d.Start(context.Background())

	var wg sync.WaitGroup
	var n atomic.Int32
	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.True(t, d.Submit("count", func(ctx context.Context) {
			defer wg.Done()
			n.Add(1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(10), n.Load())
	d.Stop(context.Background())
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	d := NewDispatcher(1, 1)
	// not started: nothing drains the queue
	assert.True(t, d.Submit("first", func(context.Context) {}))
	assert.False(t, d.Submit("second", func(context.Context) {}))
	assert.Equal(t, 1, d.Pending())
}

func TestDispatcherStopDrainsQueue(t *testing.T) {
	d := NewDispatcher(1, 8)
	var n atomic.Int32
	for i := 0; i < 5; i++ {
		require.True(t, d.Submit("drain", func(context.Context) { n.Add(1) }))
	}
	d.Start(context.Background())
	d.Stop(context.Background())
	assert.Equal(t, int32(5), n.Load())
	assert.False(t, d.Submit("late", func(context.Context) {}))
}

func TestDispatcherRecoversPanics(t *testing.T) {
	d := NewDispatcher(1, 4)
	d.Start(context.Background())
	defer d.Stop(context.Background())

	done := make(chan struct{})
	require.True(t, d.Submit("boom", func(context.Context) { panic("boom") }))
	require.True(t, d.Submit("after", func(context.Context) { close(done) }))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
}

func TestDispatcherTaskContextOutlivesParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(1, 4)
	d.Start(ctx)
	cancel()

	got := make(chan error, 1)
	require.True(t, d.Submit("ctx", func(ctx context.Context) { got <- ctx.Err() }))
	select {
	case err := <-got:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("task not run")
	}
	d.Stop(context.Background())
}
