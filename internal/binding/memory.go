package binding

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryStore struct {
	mu       sync.Mutex
	bindings map[string]*Binding
	now      func() time.Time
}

// NewMemory returns a process-local store. Bindings do not survive a restart.
func NewMemory() Store {
	return &memoryStore{
		bindings: make(map[string]*Binding),
		now:      time.Now,
	}
}

func (s *memoryStore) ResolveOrBind(_ context.Context, keyDigest, device string) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	b, ok := s.bindings[keyDigest]
	if !ok {
		b = &Binding{
			KeyDigest:    keyDigest,
			BoundDevice:  device,
			FirstBoundAt: now,
			LastUsedAt:   now,
			UseCount:     1,
		}
		s.bindings[keyDigest] = b
		return Result{Status: FirstUse, Binding: *b}, nil
	}
	if b.BoundDevice != device {
		return Result{}, mismatch(*b)
	}
	b.UseCount++
	b.LastUsedAt = now
	return Result{Status: Bound, Binding: *b}, nil
}

func (s *memoryStore) Get(_ context.Context, keyDigest string) (Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bindings[keyDigest]
	if !ok {
		return Binding{}, ErrNotFound
	}
	return *b, nil
}

func (s *memoryStore) Unbind(_ context.Context, keyDigest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bindings[keyDigest]; !ok {
		return ErrNotFound
	}
	delete(s.bindings, keyDigest)
	return nil
}

func (s *memoryStore) List(context.Context) ([]Binding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Binding, 0, len(s.bindings))
	for _, b := range s.bindings {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstBoundAt.Before(out[j].FirstBoundAt) })
	return out, nil
}

func (s *memoryStore) Stats(context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Bound: int64(len(s.bindings))}
	for _, b := range s.bindings {
		st.TotalUses += b.UseCount
	}
	return st, nil
}

func (s *memoryStore) Close(context.Context) error { return nil }
