// Package worker runs selfie generation jobs in the background.
package worker

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Schedule after Close.
var ErrPoolClosed = errors.New("worker: pool closed")

// Handler processes one scheduled task.
type Handler interface {
	Run(ctx context.Context, task Task)
}

// Pool starts one goroutine per scheduled task. Tasks run on the pool's
// context, not the caller's, so they outlive the request that scheduled them.
type Pool struct {
	ctx     context.Context
	cancel  context.CancelFunc
	handler Handler

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewPool returns a pool whose tasks are cancelled when parent is.
func NewPool(parent context.Context, handler Handler) *Pool {
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	return &Pool{ctx: ctx, cancel: cancel, handler: handler}
}

// Schedule starts task in the background.
func (p *Pool) Schedule(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.handler.Run(p.ctx, task)
	}()
	return nil
}

// Close stops accepting new tasks. Running tasks continue.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
}

// Wait blocks until every scheduled task has returned or ctx is done. On
// timeout the remaining tasks are cancelled and abandoned.
func (p *Pool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}
