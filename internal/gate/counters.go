package gate

import (
	"context"
	"sync"
	"time"
)

// Decision is the outcome of charging one request against a budget.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// CounterStore charges requests against per-key budgets. Implementations
// must update each key atomically.
type CounterStore interface {
	Take(ctx context.Context, key string, b Budget) (Decision, error)
}

// MemoryCounters is a process-local fixed-window CounterStore. A key's
// window opens with its first request and admits Limit requests until it
// closes Window later; the next request after that opens a fresh window.
// Counters reset when the process restarts.
type MemoryCounters struct {
	mu           sync.Mutex
	entries      map[string]*counterEntry
	idleTTL      time.Duration
	cleanupEvery time.Duration
	now          func() time.Time
}

type counterEntry struct {
	start    time.Time
	resetAt  time.Time
	count    int
	lastSeen time.Time
}

// MemoryOption configures MemoryCounters.
type MemoryOption func(*MemoryCounters)

// WithIdleTTL sets how long an unused key is kept before the janitor drops it.
func WithIdleTTL(d time.Duration) MemoryOption {
	return func(m *MemoryCounters) { m.idleTTL = d }
}

// WithCleanupEvery sets the janitor interval.
func WithCleanupEvery(d time.Duration) MemoryOption {
	return func(m *MemoryCounters) { m.cleanupEvery = d }
}

// WithMemoryClock overrides the time source.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *MemoryCounters) { m.now = now }
}

// NewMemoryCounters creates an empty in-memory counter store.
func NewMemoryCounters(opts ...MemoryOption) *MemoryCounters {
	m := &MemoryCounters{
		entries:      make(map[string]*counterEntry),
		idleTTL:      15 * time.Minute,
		cleanupEvery: 2 * time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Take implements CounterStore.
func (m *MemoryCounters) Take(_ context.Context, key string, b Budget) (Decision, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	ent, ok := m.entries[key]
	if !ok {
		ent = &counterEntry{start: now}
		m.entries[key] = ent
	}
	ent.lastSeen = now
	if !now.Before(ent.start.Add(b.Window)) {
		ent.start, ent.count = now, 0
	}
	ent.resetAt = ent.start.Add(b.Window)

	if ent.count >= b.Limit {
		return Decision{Allowed: false, RetryAfter: ent.resetAt.Sub(now)}, nil
	}
	ent.count++
	return Decision{Allowed: true, Remaining: b.Limit - ent.count}, nil
}

// Len returns the number of tracked keys.
func (m *MemoryCounters) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Cleanup drops keys idle for longer than the idle TTL whose window has
// closed. A key is never forgotten while its budget is spent.
func (m *MemoryCounters) Cleanup() {
	now := m.now()
	cutoff := now.Add(-m.idleTTL)

	m.mu.Lock()
	defer m.mu.Unlock()

	for k, ent := range m.entries {
		if ent.lastSeen.Before(cutoff) && !now.Before(ent.resetAt) {
			delete(m.entries, k)
		}
	}
}

// StartJanitor runs Cleanup periodically until ctx is done.
func (m *MemoryCounters) StartJanitor(ctx context.Context) {
	if m.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(m.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.Cleanup()
			}
		}
	}()
}
