// Package admission bounds how many selfie jobs may be queued or running at once.
package admission

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/caminocomms/flames-selfie-test/internal/domain"
)

// Controller owns the queued-or-running counter and the generation semaphore.
// Construct one per process and share it between handlers and workers.
type Controller struct {
	mu       sync.Mutex
	inflight int
	running  int
	maxQueue int
	sem      *semaphore.Weighted

	onChange func(inflight, running int)
}

// New returns a controller admitting up to maxQueue jobs of which at most
// maxConcurrency run at the same time.
func New(maxConcurrency, maxQueue int) *Controller {
	if maxConcurrency < 1 {
		maxConcurrency = 1
	}
	if maxQueue < maxConcurrency {
		maxQueue = maxConcurrency
	}
	return &Controller{
		maxQueue: maxQueue,
		sem:      semaphore.NewWeighted(int64(maxConcurrency)),
	}
}

// OnChange registers a callback invoked with the new counts after every change.
// It is called with the controller's lock held and must not call back into it.
func (c *Controller) OnChange(fn func(inflight, running int)) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Admit reserves a queue slot. It fails with domain.ErrOverloaded when the
// queue is full.
func (c *Controller) Admit() (*Ticket, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight >= c.maxQueue {
		return nil, domain.ErrOverloaded
	}
	c.inflight++
	c.notify()
	return &Ticket{c: c}, nil
}

// InFlight returns the number of admitted jobs that have not released their ticket.
func (c *Controller) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight
}

// Running returns the number of tickets currently holding a semaphore slot.
func (c *Controller) Running() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Controller) notify() {
	if c.onChange != nil {
		c.onChange(c.inflight, c.running)
	}
}

// Ticket is one admitted job's claim on the controller.
type Ticket struct {
	c *Controller

	mu       sync.Mutex
	acquired bool
	released bool
}

// Acquire blocks until a generation slot is free or ctx is done.
func (t *Ticket) Acquire(ctx context.Context) error {
	if err := t.c.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		t.c.sem.Release(1)
		return context.Canceled
	}
	t.acquired = true
	t.mu.Unlock()

	t.c.mu.Lock()
	t.c.running++
	t.c.notify()
	t.c.mu.Unlock()
	return nil
}

// Release gives back the generation slot, if held, and the queue slot. It is
// safe to call more than once; only the first call has an effect.
func (t *Ticket) Release() {
	t.mu.Lock()
	if t.released {
		t.mu.Unlock()
		return
	}
	t.released = true
	acquired := t.acquired
	t.mu.Unlock()

	if acquired {
		t.c.sem.Release(1)
	}
	t.c.mu.Lock()
	t.c.inflight--
	if acquired {
		t.c.running--
	}
	t.c.notify()
	t.c.mu.Unlock()
}
