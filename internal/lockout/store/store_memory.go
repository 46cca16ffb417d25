package store

import (
	"context"
	"sync"
	"time"

	"shadowgate/internal/lockout"
	domain "shadowgate/pkg/domain"
	"shadowgate/pkg/platform/sentinel"
)

// InMemoryStore is the test double for the lockout store.
type InMemoryStore struct {
	mu    sync.RWMutex
	locks map[domain.UserID]*lockout.Lockout
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{locks: make(map[domain.UserID]*lockout.Lockout)}
}

func (s *InMemoryStore) Upsert(_ context.Context, lock *lockout.Lockout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *lock
	s.locks[lock.UserID] = &copied
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, userID domain.UserID) (*lockout.Lockout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lock, ok := s.locks[userID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *lock
	return &copied, nil
}

func (s *InMemoryStore) Delete(_ context.Context, userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, userID)
	return nil
}

func (s *InMemoryStore) CountActiveAt(_ context.Context, now time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, lock := range s.locks {
		if lock.ActiveAt(now) {
			count++
		}
	}
	return count, nil
}

// Len reports the number of stored rows including expired ones (test helper).
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.locks)
}
