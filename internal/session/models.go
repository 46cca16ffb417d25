// Package session tracks shadow-session lifecycle: creation on shadow-mode
// entry, heartbeats, and terminal termination.
package session

import (
	"time"

	domain "shadowgate/pkg/domain"
	dErrors "shadowgate/pkg/domain-errors"
)

// Status is the session lifecycle state. Terminated is terminal: a session
// never transitions back to active.
type Status string

const (
	StatusActive     Status = "active"
	StatusTerminated Status = "terminated"
)

// IsValid checks the status against the supported set.
func (s Status) IsValid() bool {
	return s == StatusActive || s == StatusTerminated
}

// ProfileType distinguishes shadow (pseudonymous) from real profile sessions.
type ProfileType string

const (
	ProfileShadow ProfileType = "shadow"
	ProfileReal   ProfileType = "real"
)

// Session is the canonical session record. The registry owns it exclusively;
// other components read it and mutate only through the termination and
// heartbeat paths.
type Session struct {
	ID             domain.SessionID `json:"id"`
	UserID         domain.UserID    `json:"userId"`
	ProfileType    ProfileType      `json:"profileType"`
	Status         Status           `json:"status"`
	IPAddress      string           `json:"ipAddress,omitempty"`
	DeviceType     string           `json:"deviceType"`
	StartedAt      time.Time        `json:"startedAt"`
	LastActivityAt time.Time        `json:"lastActivityAt"`
	EndedAt        *time.Time       `json:"endedAt,omitempty"`
	EndReason      string           `json:"endReason,omitempty"`
}

// ListFilter narrows and pages the session listing. Zero Status means all.
type ListFilter struct {
	Status Status
	Sort   string
	Limit  int
	Offset int
}

// SortLastActivity is the only supported ordering, most recent activity
// first.
const SortLastActivity = "last_activity_at"

// Normalize applies defaults and validates the filter.
func (f *ListFilter) Normalize() error {
	if f.Status != "" && !f.Status.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid status filter")
	}
	if f.Sort == "" {
		f.Sort = SortLastActivity
	}
	if f.Sort != SortLastActivity {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid sort field")
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return nil
}
