package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"shadowgate/internal/session"
	domain "shadowgate/pkg/domain"
	"shadowgate/pkg/platform/sentinel"
)

// InMemoryStore is the test double for the session registry. Semantics match
// the postgres store, including the ErrInvalidState contract on terminate and
// heartbeat.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*session.Session
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[domain.SessionID]*session.Session)}
}

func (s *InMemoryStore) Create(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *sess
	s.sessions[sess.ID] = &copied
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id domain.SessionID) (*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *sess
	return &copied, nil
}

func (s *InMemoryStore) Terminate(_ context.Context, id domain.SessionID, reason string, at time.Time) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if sess.Status == session.StatusTerminated {
		copied := *sess
		return &copied, sentinel.ErrInvalidState
	}
	sess.Status = session.StatusTerminated
	ended := at
	sess.EndedAt = &ended
	sess.EndReason = reason
	sess.LastActivityAt = at
	copied := *sess
	return &copied, nil
}

func (s *InMemoryStore) RecordHeartbeat(_ context.Context, id domain.SessionID, at time.Time) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return time.Time{}, sentinel.ErrNotFound
	}
	if sess.Status == session.StatusTerminated {
		return time.Time{}, sentinel.ErrInvalidState
	}
	sess.LastActivityAt = at
	return at, nil
}

func (s *InMemoryStore) List(_ context.Context, filter session.ListFilter) ([]session.Session, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []session.Session
	for _, sess := range s.sessions {
		if filter.Status != "" && sess.Status != filter.Status {
			continue
		}
		matched = append(matched, *sess)
	}
	slices.SortFunc(matched, func(a, b session.Session) int {
		return b.LastActivityAt.Compare(a.LastActivityAt)
	})

	total := len(matched)
	if filter.Offset >= total {
		return nil, total, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

func (s *InMemoryStore) ListActive(_ context.Context) ([]session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []session.Session
	for _, sess := range s.sessions {
		if sess.Status == session.StatusActive {
			out = append(out, *sess)
		}
	}
	return out, nil
}

func (s *InMemoryStore) ListStartedSince(_ context.Context, since time.Time) ([]session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []session.Session
	for _, sess := range s.sessions {
		if sess.StartedAt.After(since) {
			out = append(out, *sess)
		}
	}
	return out, nil
}
