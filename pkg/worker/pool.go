// Package worker runs work-order tasks on a bounded pool with a bounded
// queue. When the queue is full, submission fails fast instead of blocking
// the caller.
package worker

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrSaturated rejects a submission when the queue is full.
var ErrSaturated = errors.New("worker: queue is full")

// ErrClosed rejects a submission after shutdown began.
var ErrClosed = errors.New("worker: pool is shut down")

// Task is one unit of work. The context is cancelled on hard shutdown.
type Task func(ctx context.Context)

// Pool is a fixed-size worker pool over a bounded queue.
type Pool struct {
	log    *zap.Logger
	queue  chan Task
	cancel context.CancelFunc
	g      *errgroup.Group

	mu     sync.Mutex
	closed bool
}

// NewPool starts workers goroutines draining a queue of depth queueDepth.
func NewPool(workers, queueDepth int, log *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	p := &Pool{
		log:    log,
		queue:  make(chan Task, queueDepth),
		cancel: cancel,
		g:      g,
	}
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			p.drain(ctx)
			return nil
		})
	}
	log.Info("worker pool started",
		zap.Int("workers", workers),
		zap.Int("queue_depth", queueDepth))
	return p
}

func (p *Pool) drain(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-p.queue:
			if !ok {
				return
			}
			t(ctx)
		}
	}
}

// Submit enqueues a task. Fails with ErrSaturated when the queue is full
// and ErrClosed after shutdown began; never blocks.
func (p *Pool) Submit(t Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	select {
	case p.queue <- t:
		return nil
	default:
		return ErrSaturated
	}
}

// Shutdown stops intake and drains the queue. If ctx expires first, running
// tasks are cancelled and the pool exits without finishing the queue.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.g.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.log.Info("worker pool drained")
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		p.log.Warn("worker pool shut down before draining", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}
