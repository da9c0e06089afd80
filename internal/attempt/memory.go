package attempt

import (
	"context"
	"sync"
	"time"
)

type record struct {
	count         int
	lastAttemptAt time.Time
}

// MemoryTracker keeps counters in process memory. Counters are not shared
// between instances, so behind a load balancer each instance enforces its own
// lockout.
type MemoryTracker struct {
	mu      sync.Mutex
	records map[string]*record
	now     func() time.Time
}

func NewMemory() *MemoryTracker {
	return &MemoryTracker{
		records: make(map[string]*record),
		now:     time.Now,
	}
}

// WithClock replaces the wall clock, for tests.
func (m *MemoryTracker) WithClock(now func() time.Time) *MemoryTracker {
	m.now = now
	return m
}

func (m *MemoryTracker) RecordFailure(_ context.Context, session string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	r := m.current(session, now)
	if r == nil {
		r = &record{}
		m.records[session] = r
	}
	r.count++
	r.lastAttemptAt = now
	return nil
}

func (m *MemoryTracker) IsLocked(_ context.Context, session string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.current(session, m.now())
	return r != nil && r.count >= MaxFailures, nil
}

func (m *MemoryTracker) Reset(_ context.Context, session string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, session)
	return nil
}

func (m *MemoryTracker) Count(_ context.Context, session string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r := m.current(session, m.now()); r != nil {
		return r.count, nil
	}
	return 0, nil
}

// current returns the live record for session, dropping it once the window
// has elapsed since the last attempt. Caller holds m.mu.
func (m *MemoryTracker) current(session string, now time.Time) *record {
	r, ok := m.records[session]
	if !ok {
		return nil
	}
	if now.Sub(r.lastAttemptAt) >= LockoutWindow {
		delete(m.records, session)
		return nil
	}
	return r
}
