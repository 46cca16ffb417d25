// Package events defines the wire-level control events delivered to connected
// clients. An event is a low-latency hint, not a source of truth: clients must
// tolerate both missed and duplicated deliveries and reconcile against the
// durable state they can read back.
package events

import (
	"encoding/json"
	"time"
)

// Type discriminates the closed set of control events.
type Type string

const (
	TypeSessionTerminated             Type = "session_terminated"
	TypeUserLocked                    Type = "user_locked"
	TypeUserUnlocked                  Type = "user_unlocked"
	TypeRateLimitConfigUpdated        Type = "rate_limit_config_updated"
	TypeAnomalyDetectionConfigUpdated Type = "anomaly_detection_config_updated"
	TypeAnomalyAlert                  Type = "anomaly_alert"
)

// BroadcastAll addresses an event to every connected client rather than a
// single user (policy/config changes).
const BroadcastAll = "all"

// Event is the unit handed to the broadcaster. UserID addresses the connected
// client(s) concerned; it is not serialized into the payload envelope.
type Event struct {
	UserID    string          `json:"-"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// SessionTerminatedPayload notifies a client its shadow session was ended.
type SessionTerminatedPayload struct {
	SessionID string    `json:"sessionId"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// UserLockedPayload notifies a client its user was locked out.
type UserLockedPayload struct {
	Reason      string    `json:"reason"`
	Duration    int       `json:"duration"`
	LockedUntil time.Time `json:"locked_until"`
	Timestamp   time.Time `json:"timestamp"`
}

// UserUnlockedPayload notifies a client its lockout was lifted.
type UserUnlockedPayload struct {
	Timestamp time.Time `json:"timestamp"`
}

// RateLimitConfig mirrors the per-channel policy pushed to clients.
type RateLimitConfig struct {
	MaxAttempts    int `json:"maxAttempts"`
	WindowMinutes  int `json:"windowMinutes"`
	LockoutMinutes int `json:"lockoutMinutes"`
}

// RateLimitConfigUpdatedPayload announces a per-channel policy change.
type RateLimitConfigUpdatedPayload struct {
	Channel   string          `json:"channel"`
	Config    RateLimitConfig `json:"config"`
	Timestamp time.Time       `json:"timestamp"`
}

// AnomalyConfigUpdatedPayload announces a detector threshold change. Config
// carries only the fields that changed.
type AnomalyConfigUpdatedPayload struct {
	Config    map[string]any `json:"config"`
	Timestamp time.Time      `json:"timestamp"`
}

// AnomalyAlertPayload pushes a raised alert to the concerned client.
type AnomalyAlertPayload struct {
	Type      string    `json:"type"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// New builds an Event addressed to userID with payload marshaled in place.
// Marshal failures cannot happen for the closed payload set above, so the
// error is folded into an empty payload rather than propagated.
func New(userID string, typ Type, payload any, at time.Time) Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte(`{}`)
	}
	return Event{
		UserID:    userID,
		Type:      typ,
		Payload:   raw,
		Timestamp: at,
	}
}
