// Package ratelimit implements the per-connection sliding-window throttle.
// The limiter only reports; callers decide the consequence.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type window struct {
	start time.Time // first message of the current window
	count int
	last  time.Time // most recent message, used by the idle sweep
}

type Limiter struct {
	max      int
	interval time.Duration

	mu      sync.Mutex
	windows map[uuid.UUID]*window

	logger *slog.Logger
	now    func() time.Time // overridable in tests
}

func New(logger *slog.Logger, max int, interval time.Duration) *Limiter {
	return &Limiter{
		max:      max,
		interval: interval,
		windows:  make(map[uuid.UUID]*window),
		logger:   logger.With(slog.String("component", "ratelimit")),
		now:      time.Now,
	}
}

// Allow records one message for the connection and reports whether it is
// under the cap. The window resets lazily once the interval has elapsed
// since the first message recorded in the current window.
func (l *Limiter) Allow(id uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[id]
	if !ok || now.Sub(w.start) >= l.interval {
		l.windows[id] = &window{start: now, count: 1, last: now}
		return true
	}

	w.count++
	w.last = now
	return w.count <= l.max
}

// Forget drops the counter for a connection that went away.
func (l *Limiter) Forget(id uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, id)
}

// Sweep evicts counters idle for at least a full window. Returns the number
// evicted.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	evicted := 0
	for id, w := range l.windows {
		if now.Sub(w.last) >= l.interval {
			delete(l.windows, id)
			evicted++
		}
	}
	return evicted
}

// Run sweeps on the given interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, sweepInterval time.Duration) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.logger.Debug("evicted idle rate counters", slog.Int("count", n))
			}
		}
	}
}
