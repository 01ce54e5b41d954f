package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestPoolRunsTasks(t *testing.T) {
	p := NewPool(2, 8, zaptest.NewLogger(t))

	var n atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func(ctx context.Context) {
			n.Add(1)
			wg.Done()
		}))
	}
	wg.Wait()
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, int32(8), n.Load())
}

func TestPoolSaturation(t *testing.T) {
	p := NewPool(1, 1, zaptest.NewLogger(t))

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func(ctx context.Context) {
		close(started)
		<-block
	}))
	<-started // worker busy; queue empty

	require.NoError(t, p.Submit(func(ctx context.Context) {})) // fills the queue
	err := p.Submit(func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrSaturated)

	close(block)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPoolSubmitAfterShutdown(t *testing.T) {
	p := NewPool(1, 1, zaptest.NewLogger(t))
	require.NoError(t, p.Shutdown(context.Background()))
	assert.ErrorIs(t, p.Submit(func(ctx context.Context) {}), ErrClosed)
}

func TestPoolShutdownDeadlineCancelsTasks(t *testing.T) {
	p := NewPool(1, 1, zaptest.NewLogger(t))

	started := make(chan struct{})
	require.NoError(t, p.Submit(func(ctx context.Context) {
		close(started)
		<-ctx.Done() // runs until hard shutdown
	}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := p.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
