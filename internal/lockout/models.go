// Package lockout owns the durable mapping from user to current lock state.
// The auth path consults it on every login/PIN/biometric attempt.
package lockout

import (
	"time"

	domain "shadowgate/pkg/domain"
)

// Lockout is the single live lock row for a user. A new lock fully replaces
// the previous one (upsert): it does not stack or extend.
type Lockout struct {
	UserID      domain.UserID `json:"userId"`
	Reason      string        `json:"reason"`
	LockedUntil time.Time     `json:"lockedUntil"`
	CreatedAt   time.Time     `json:"createdAt"`
	CreatedBy   string        `json:"createdBy,omitempty"`
}

// ActiveAt reports whether the lock is still in force at the given instant.
// An expired row is equivalent to no row; reads never require a delete.
func (l *Lockout) ActiveAt(now time.Time) bool {
	return l != nil && now.Before(l.LockedUntil)
}

// Status is the read-path answer for the auth collaborator.
type Status struct {
	Locked bool       `json:"locked"`
	Until  *time.Time `json:"until,omitempty"`
	Reason string     `json:"reason,omitempty"`
}
