package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caminocomms/flames-selfie-test/internal/domain"
)

func TestAdmitRejectsBeyondQueue(t *testing.T) {
	c := New(2, 3)
	var tickets []*Ticket
	for i := 0; i < 3; i++ {
		tk, err := c.Admit()
		require.NoError(t, err)
		tickets = append(tickets, tk)
	}
	_, err := c.Admit()
	require.True(t, errors.Is(err, domain.ErrOverloaded), "got %v", err)
	assert.Equal(t, 3, c.InFlight())

	tickets[0].Release()
	_, err = c.Admit()
	require.NoError(t, err)
}

func TestReleaseIsIdempotent(t *testing.T) {
	c := New(1, 2)
	tk, err := c.Admit()
	require.NoError(t, err)
	require.NoError(t, tk.Acquire(context.Background()))
	assert.Equal(t, 1, c.Running())

	tk.Release()
	tk.Release()
	assert.Equal(t, 0, c.InFlight())
	assert.Equal(t, 0, c.Running())

	// The semaphore slot came back exactly once.
	other, err := c.Admit()
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, other.Acquire(ctx))
	other.Release()
}

func TestCompensatingReleaseWithoutAcquire(t *testing.T) {
	c := New(1, 1)
	tk, err := c.Admit()
	require.NoError(t, err)
	tk.Release()
	assert.Equal(t, 0, c.InFlight())
	assert.Equal(t, 0, c.Running())
}

func TestAcquireRespectsConcurrency(t *testing.T) {
	c := New(2, 10)
	first, _ := c.Admit()
	second, _ := c.Admit()
	third, _ := c.Admit()
	require.NoError(t, first.Acquire(context.Background()))
	require.NoError(t, second.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := third.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, c.Running())

	first.Release()
	require.NoError(t, third.Acquire(context.Background()))
	second.Release()
	third.Release()
	assert.Equal(t, 0, c.InFlight())
}

func TestInflightReturnsToZero(t *testing.T) {
	c := New(3, 20)
	var (
		wg   sync.WaitGroup
		peak int
	)
	c.OnChange(func(inflight, running int) {
		if running > peak {
			peak = running
		}
	})
	for i := 0; i < 30; i++ {
		tk, err := c.Admit()
		if err != nil {
			continue
		}
		wg.Add(1)
		go func(tk *Ticket) {
			defer wg.Done()
			defer tk.Release()
			if err := tk.Acquire(context.Background()); err != nil {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}(tk)
	}
	wg.Wait()
	assert.Equal(t, 0, c.InFlight())
	assert.Equal(t, 0, c.Running())
	assert.LessOrEqual(t, peak, 3)
}
