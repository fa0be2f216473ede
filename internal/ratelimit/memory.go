package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	hits   []time.Time
	length time.Duration
}

// Memory is a process-local sliding-window log. Entries are pruned lazily on access
// and by Sweep.
type Memory struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

// MemoryOption configures a Memory limiter
type MemoryOption func(*Memory)

// WithMemoryClock overrides the time source
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory creates an empty in-memory limiter
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{windows: make(map[string]*window), now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Allow records a hit for key if fewer than limit hits fall inside the window
func (m *Memory) Allow(_ context.Context, key string, limit int, length time.Duration) (Decision, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok {
		w = &window{}
		m.windows[key] = w
	}
	w.length = length
	w.prune(now)

	if len(w.hits) >= limit {
		retry := time.Duration(0)
		if len(w.hits) > 0 {
			retry = w.hits[0].Add(length).Sub(now)
		}
		return Decision{Allowed: false, Limit: limit, Remaining: 0, RetryAfter: retry}, nil
	}

	w.hits = append(w.hits, now)
	return Decision{Allowed: true, Limit: limit, Remaining: limit - len(w.hits)}, nil
}

// prune drops hits at or before now-length
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.length)
	i := 0
	for i < len(w.hits) && !w.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}
}

// Sweep removes keys with no hits left in their window and returns how many went
func (m *Memory) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, w := range m.windows {
		w.prune(now)
		if len(w.hits) == 0 {
			delete(m.windows, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// Run sweeps every interval until ctx is done
func (m *Memory) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
