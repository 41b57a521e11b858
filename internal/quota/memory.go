package quota

import (
	"context"
	"sync"
	"time"
)

const sweepEvery = 1024

type window struct {
	count        int
	windowEnd    time.Time
	blockedUntil time.Time
}

// MemoryBackend keeps counters in process memory. Counters are lost on restart.
type MemoryBackend struct {
	mu       sync.Mutex
	windows  map[string]*window
	now      func() time.Time
	consumed int
}

type MemoryOption func(*MemoryBackend)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryBackend) {
		m.now = now
	}
}

func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	m := &MemoryBackend{
		windows: make(map[string]*window),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemoryBackend) Consume(_ context.Context, key string, b Budget) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.consumed++
	if m.consumed%sweepEvery == 0 {
		m.sweepLocked(now)
	}

	w, ok := m.windows[key]
	if !ok {
		w = &window{}
		m.windows[key] = w
	}

	if now.Before(w.blockedUntil) {
		return Decision{RetryAfter: w.retryAfter(now)}, nil
	}
	if !now.Before(w.windowEnd) {
		w.count = 0
		w.windowEnd = now.Add(b.Window)
	}

	if w.count < b.Capacity {
		w.count++
		return Decision{Allowed: true}, nil
	}

	w.blockedUntil = now.Add(b.Penalty)
	return Decision{RetryAfter: w.retryAfter(now)}, nil
}

func (w *window) retryAfter(now time.Time) time.Duration {
	until := w.windowEnd
	if w.blockedUntil.After(until) {
		until = w.blockedUntil
	}
	return until.Sub(now)
}

// sweepLocked drops keys whose window and block have both passed.
func (m *MemoryBackend) sweepLocked(now time.Time) {
	for key, w := range m.windows {
		if !now.Before(w.windowEnd) && !now.Before(w.blockedUntil) {
			delete(m.windows, key)
		}
	}
}
