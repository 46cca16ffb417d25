// Package ratelimit tracks failed authentication attempts per channel and
// holds the per-channel policy. Counts are derived from the audit log rather
// than a separate counter, so the count and the lock decision can never
// disagree with the audit trail.
package ratelimit

import (
	"fmt"
	"time"

	dErrors "shadowgate/pkg/domain-errors"
)

// Channel is an authentication channel subject to rate limiting.
type Channel string

const (
	ChannelPIN       Channel = "pin"
	ChannelBiometric Channel = "biometric"
)

// Channels lists the closed channel set in summary order.
var Channels = []Channel{ChannelPIN, ChannelBiometric}

// ParseChannel validates a channel name from a request path or body.
func ParseChannel(s string) (Channel, error) {
	switch Channel(s) {
	case ChannelPIN, ChannelBiometric:
		return Channel(s), nil
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown channel %q", s))
}

// Config is the per-channel policy: lock a user out for LockoutMinutes once
// MaxAttempts failures land within WindowMinutes.
type Config struct {
	MaxAttempts    int `json:"maxAttempts"`
	WindowMinutes  int `json:"windowMinutes"`
	LockoutMinutes int `json:"lockoutMinutes"`
}

// Validate rejects non-positive policy fields.
func (c Config) Validate() error {
	if c.MaxAttempts <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "maxAttempts must be positive")
	}
	if c.WindowMinutes <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "windowMinutes must be positive")
	}
	if c.LockoutMinutes <= 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "lockoutMinutes must be positive")
	}
	return nil
}

// Window returns the sliding window as a duration.
func (c Config) Window() time.Duration {
	return time.Duration(c.WindowMinutes) * time.Minute
}

// DefaultConfigs returns the boot-time policy. Biometric gets a tighter
// attempt budget; sensor failures retry client-side before reporting.
func DefaultConfigs() map[Channel]Config {
	return map[Channel]Config{
		ChannelPIN:       {MaxAttempts: 5, WindowMinutes: 15, LockoutMinutes: 30},
		ChannelBiometric: {MaxAttempts: 3, WindowMinutes: 15, LockoutMinutes: 30},
	}
}

// ChannelSummary is the operator-facing rollup for one channel.
type ChannelSummary struct {
	TotalViolations   int `json:"total_violations"`
	LockedUsers       int `json:"locked_users"`
	ViolationsLast24h int `json:"violations_last_24h"`
}

// Summary is the GET /rate-limits response body, keyed pin_attempts and
// biometric_attempts.
type Summary map[string]ChannelSummary

// SummaryKey maps a channel to its summary field name.
func SummaryKey(ch Channel) string {
	return string(ch) + "_attempts"
}
