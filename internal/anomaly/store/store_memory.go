package store

import (
	"context"
	"slices"
	"sync"
	"time"

	"shadowgate/internal/anomaly"
	domain "shadowgate/pkg/domain"
	"shadowgate/pkg/platform/sentinel"
)

// InMemoryStore is the test double for the alert store.
type InMemoryStore struct {
	mu     sync.RWMutex
	alerts map[domain.AlertID]*anomaly.Alert
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{alerts: make(map[domain.AlertID]*anomaly.Alert)}
}

func (s *InMemoryStore) Create(_ context.Context, alert *anomaly.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *alert
	s.alerts[alert.ID] = &copied
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id domain.AlertID) (*anomaly.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.alerts[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	copied := *alert
	return &copied, nil
}

func (s *InMemoryStore) Resolve(_ context.Context, id domain.AlertID, resolution, notes string, at time.Time) (*anomaly.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	resolvedAt := at
	alert.ResolvedAt = &resolvedAt
	alert.Resolution = resolution
	alert.Notes = notes
	copied := *alert
	return &copied, nil
}

func (s *InMemoryStore) List(_ context.Context, filter anomaly.ListFilter) ([]anomaly.Alert, int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := []anomaly.Alert{}
	active := 0
	for _, alert := range s.alerts {
		if filter.Severity != "" && alert.Severity != filter.Severity {
			continue
		}
		if !alert.Resolved() {
			active++
		}
		switch filter.Status {
		case anomaly.StatusActive:
			if alert.Resolved() {
				continue
			}
		case anomaly.StatusResolved:
			if !alert.Resolved() {
				continue
			}
		}
		matched = append(matched, *alert)
	}
	slices.SortFunc(matched, func(a, b anomaly.Alert) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	total := len(matched)
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, total, active, nil
}

func (s *InMemoryStore) HasUnresolved(_ context.Context, typ anomaly.Type, subject string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, alert := range s.alerts {
		if alert.Type == typ && alert.Subject == subject && !alert.Resolved() {
			return true, nil
		}
	}
	return false, nil
}

// Len reports the number of stored alerts (test helper).
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.alerts)
}
