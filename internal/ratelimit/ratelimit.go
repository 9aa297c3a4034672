// Package ratelimit implements the per-client dual sliding-window limiter that
// guards selfie submissions.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/caminocomms/flames-selfie-test/internal/domain"
)

// window is one sliding window with its own threshold.
type window struct {
	Limit    int
	Duration time.Duration
	// MinRetry is the floor for the retry hint when this window rejects.
	MinRetry time.Duration
}

// Limiter tracks request timestamps per client key. State is process-local
// and resets on restart.
type Limiter struct {
	mu      sync.Mutex
	short   window
	long    window
	clients map[string]*history
	now     func() time.Time
}

type history struct {
	short []time.Time
	long  []time.Time
}

// New returns a limiter with a 60 second window and a 24 hour window.
func New(perMinute, perDay int) *Limiter {
	return newWithWindows(
		window{Limit: perMinute, Duration: time.Minute, MinRetry: time.Second},
		window{Limit: perDay, Duration: 24 * time.Hour, MinRetry: time.Minute},
	)
}

// newWithWindows builds a limiter from two windows. A limit below one is
// raised to one so a misconfigured window still admits a request.
func newWithWindows(short, long window) *Limiter {
	short.Limit = max(short.Limit, 1)
	long.Limit = max(long.Limit, 1)
	return &Limiter{
		short:   short,
		long:    long,
		clients: make(map[string]*history),
		now:     time.Now,
	}
}

// Check admits one request for key or returns a *domain.RateLimitedError.
// A rejected request is not recorded.
func (l *Limiter) Check(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	h := l.clients[key]
	if h == nil {
		h = &history{}
		l.clients[key] = h
	}
	h.short = evict(h.short, now.Add(-l.short.Duration))
	h.long = evict(h.long, now.Add(-l.long.Duration))

	if len(h.short) >= l.short.Limit {
		return &domain.RateLimitedError{RetryAfter: retryAfter(h.short[0], l.short, now)}
	}
	if len(h.long) >= l.long.Limit {
		return &domain.RateLimitedError{RetryAfter: retryAfter(h.long[0], l.long, now)}
	}
	h.short = append(h.short, now)
	h.long = append(h.long, now)
	return nil
}

// evict drops timestamps at or before cutoff. Entries are appended in order,
// so the survivors are always a suffix.
func evict(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}

func retryAfter(oldest time.Time, w window, now time.Time) time.Duration {
	wait := oldest.Add(w.Duration).Sub(now)
	if wait < w.MinRetry {
		return w.MinRetry
	}
	return wait
}

// Prune forgets clients with no timestamps left in the long window.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	removed := 0
	for key, h := range l.clients {
		h.long = evict(h.long, now.Add(-l.long.Duration))
		if len(h.long) == 0 {
			delete(l.clients, key)
			removed++
		}
	}
	return removed
}

// Clients returns the number of tracked client keys.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Run prunes idle clients every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Prune()
		}
	}
}
