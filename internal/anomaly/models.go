// Package anomaly owns behavioral anomaly alerts: the fixed check set that
// raises them, the durable rows, and the resolution workflow.
package anomaly

import (
	"time"

	domain "shadowgate/pkg/domain"
	dErrors "shadowgate/pkg/domain-errors"
)

// Type names one of the four fixed checks. The set is closed on purpose: the
// detector is a small threshold battery, not a rule engine.
type Type string

const (
	TypeExcessiveFailedAttempts Type = "excessive_failed_attempts"
	TypeMultipleIPs             Type = "multiple_ips"
	TypeLongSession             Type = "long_session"
	TypeUnusualTime             Type = "unusual_time"
)

// Severity of an alert.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// IsValid reports whether s is a known severity.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return true
	}
	return false
}

// Alert is one raised anomaly. Immutable after creation except for the single
// resolution patch; rows are never deleted. Subject identifies what the check
// fired on: a user id for account-level checks, a session id for
// session-level ones. Resolution and Notes are present only when ResolvedAt
// is set.
type Alert struct {
	ID         domain.AlertID `json:"id"`
	Type       Type           `json:"type"`
	Severity   Severity       `json:"severity"`
	Subject    string         `json:"subject"`
	Message    string         `json:"message"`
	CreatedAt  time.Time      `json:"createdAt"`
	ResolvedAt *time.Time     `json:"resolvedAt,omitempty"`
	Resolution string         `json:"resolution,omitempty"`
	Notes      string         `json:"notes,omitempty"`
}

// Resolved reports whether the alert has been resolved.
func (a *Alert) Resolved() bool {
	return a != nil && a.ResolvedAt != nil
}

// Status filter values for listing.
const (
	StatusActive   = "active"
	StatusResolved = "resolved"
)

// ListFilter narrows an alert listing.
type ListFilter struct {
	Severity Severity
	Status   string
	Limit    int
}

// Normalize validates filter values and applies paging defaults.
func (f *ListFilter) Normalize() error {
	if f.Severity != "" && !f.Severity.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid severity filter")
	}
	switch f.Status {
	case "", StatusActive, StatusResolved:
	default:
		return dErrors.New(dErrors.CodeInvalidInput, "status must be active or resolved")
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	if f.Limit > 200 {
		f.Limit = 200
	}
	return nil
}

// Config holds the detector thresholds. All fields are mutable at runtime
// through the partial-update operation.
type Config struct {
	// Excessive failed attempts: more than FailureThreshold failures for one
	// user within FailureWindowMinutes.
	FailureThreshold     int `json:"failureThreshold"`
	FailureWindowMinutes int `json:"failureWindowMinutes"`

	// Multiple IPs: sessions for one user within SessionWindowMinutes from
	// more than one distinct address.
	SessionWindowMinutes int `json:"sessionWindowMinutes"`

	// Long session: an active session older than MaxSessionMinutes.
	MaxSessionMinutes int `json:"maxSessionMinutes"`

	// Unusual time: session started outside [NormalHoursStart, NormalHoursEnd)
	// in UTC.
	NormalHoursStart int `json:"normalHoursStart"`
	NormalHoursEnd   int `json:"normalHoursEnd"`
}

// DefaultConfig is the boot-time detector policy.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:     5,
		FailureWindowMinutes: 10,
		SessionWindowMinutes: 60,
		MaxSessionMinutes:    240,
		NormalHoursStart:     6,
		NormalHoursEnd:       23,
	}
}

// Validate rejects out-of-range thresholds.
func (c Config) Validate() error {
	if c.FailureThreshold <= 0 || c.FailureWindowMinutes <= 0 ||
		c.SessionWindowMinutes <= 0 || c.MaxSessionMinutes <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "thresholds must be positive")
	}
	if c.NormalHoursStart < 0 || c.NormalHoursStart > 23 ||
		c.NormalHoursEnd < 0 || c.NormalHoursEnd > 24 {
		return dErrors.New(dErrors.CodeInvalidInput, "normal hours must be within a day")
	}
	return nil
}

// ConfigPatch is a partial update; nil fields keep their current value.
type ConfigPatch struct {
	FailureThreshold     *int `json:"failureThreshold,omitempty"`
	FailureWindowMinutes *int `json:"failureWindowMinutes,omitempty"`
	SessionWindowMinutes *int `json:"sessionWindowMinutes,omitempty"`
	MaxSessionMinutes    *int `json:"maxSessionMinutes,omitempty"`
	NormalHoursStart     *int `json:"normalHoursStart,omitempty"`
	NormalHoursEnd       *int `json:"normalHoursEnd,omitempty"`
}

// Apply overlays the patch onto cfg and returns the changed fields for the
// broadcast payload.
func (p ConfigPatch) Apply(cfg Config) (Config, map[string]any) {
	changed := map[string]any{}
	if p.FailureThreshold != nil {
		cfg.FailureThreshold = *p.FailureThreshold
		changed["failureThreshold"] = *p.FailureThreshold
	}
	if p.FailureWindowMinutes != nil {
		cfg.FailureWindowMinutes = *p.FailureWindowMinutes
		changed["failureWindowMinutes"] = *p.FailureWindowMinutes
	}
	if p.SessionWindowMinutes != nil {
		cfg.SessionWindowMinutes = *p.SessionWindowMinutes
		changed["sessionWindowMinutes"] = *p.SessionWindowMinutes
	}
	if p.MaxSessionMinutes != nil {
		cfg.MaxSessionMinutes = *p.MaxSessionMinutes
		changed["maxSessionMinutes"] = *p.MaxSessionMinutes
	}
	if p.NormalHoursStart != nil {
		cfg.NormalHoursStart = *p.NormalHoursStart
		changed["normalHoursStart"] = *p.NormalHoursStart
	}
	if p.NormalHoursEnd != nil {
		cfg.NormalHoursEnd = *p.NormalHoursEnd
		changed["normalHoursEnd"] = *p.NormalHoursEnd
	}
	return cfg, changed
}
