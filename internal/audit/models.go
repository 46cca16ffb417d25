// Package audit is the append-only record of every security-relevant action.
// It is the ground truth for violation counts and for incident review; nothing
// mutates an entry once written.
package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action names a security-relevant event. The set is closed on purpose:
// derived metrics (violation counts) match on these strings.
type Action string

const (
	// Authentication path (written by the auth collaborator via /internal/auth-events).
	ActionPINAttemptFailed       Action = "pin_attempt_failed"
	ActionBiometricAttemptFailed Action = "biometric_attempt_failed"

	// Session lifecycle.
	ActionSessionStarted         Action = "session_started"
	ActionSessionTerminated      Action = "session_terminated"
	ActionSessionTerminatedByOps Action = "session_terminated_by_ops"

	// Lockouts.
	ActionUserLockedByOps   Action = "user_locked_by_ops"
	ActionUserLockedAuto    Action = "user_locked_auto"
	ActionUserUnlockedByOps Action = "user_unlocked_by_ops"

	// Configuration.
	ActionRateLimitConfigUpdated Action = "rate_limit_config_updated"
	ActionAnomalyConfigUpdated   Action = "anomaly_config_updated"

	// Anomaly detection.
	ActionAnomalyAlertRaised   Action = "anomaly_alert_raised"
	ActionAnomalyAlertResolved Action = "anomaly_alert_resolved"
)

// FailureAction returns the audit action recorded for a failed attempt on the
// given channel ("pin" or "biometric"), or "" for unknown channels.
func FailureAction(channel string) Action {
	switch channel {
	case "pin":
		return ActionPINAttemptFailed
	case "biometric":
		return ActionBiometricAttemptFailed
	}
	return ""
}

// Entry is one immutable audit record.
type Entry struct {
	ID          uuid.UUID      `json:"id"`
	UserID      string         `json:"user_id,omitempty"`
	Action      Action         `json:"action"`
	ProfileType string         `json:"profile_type"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}
