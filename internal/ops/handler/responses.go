package handler

import (
	"time"

	"shadowgate/internal/anomaly"
	"shadowgate/internal/session"
)

type terminateResponse struct {
	Success      bool      `json:"success"`
	SessionID    string    `json:"sessionId"`
	TerminatedAt time.Time `json:"terminatedAt"`
}

type lockResponse struct {
	Success     bool      `json:"success"`
	UserID      string    `json:"userId"`
	LockedUntil time.Time `json:"lockedUntil"`
	Reason      string    `json:"reason"`
}

type unlockResponse struct {
	Success bool   `json:"success"`
	UserID  string `json:"userId"`
}

type sessionsResponse struct {
	Data  []session.Session `json:"data"`
	Total int               `json:"total"`
	Page  int               `json:"page"`
	Limit int               `json:"limit"`
}

type anomaliesResponse struct {
	Data   []anomaly.Alert `json:"data"`
	Total  int             `json:"total"`
	Active int             `json:"active"`
}

type resolveResponse struct {
	Success    bool      `json:"success"`
	AnomalyID  string    `json:"anomalyId"`
	ResolvedAt time.Time `json:"resolvedAt"`
}
