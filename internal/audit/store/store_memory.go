package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"shadowgate/internal/audit"
)

// InMemoryStore keeps audit entries in memory for unit tests and local runs.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, entry audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *InMemoryStore) CountByActionSince(_ context.Context, action audit.Action, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, e := range s.entries {
		if e.Action == action && e.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (s *InMemoryStore) ListByActionsSince(_ context.Context, actions []audit.Action, since time.Time) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Entry
	for _, e := range s.entries {
		if e.CreatedAt.After(since) && slices.Contains(actions, e.Action) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b audit.Entry) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Entry
	for _, e := range s.entries {
		if e.UserID == userID {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b audit.Entry) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len reports the number of stored entries (test helper).
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
