package handler

// terminateRequest is the body of POST /sessions/{id}/terminate. UserID is
// informational (the session row is authoritative for ownership).
type terminateRequest struct {
	UserID string `json:"userId"`
	Reason string `json:"reason"`
}

// lockRequest is the body of POST /users/{id}/lock. DurationMinutes omitted
// or zero selects the default policy duration.
type lockRequest struct {
	Reason          string `json:"reason"`
	DurationMinutes int    `json:"durationMinutes"`
}

// resolveRequest is the body of POST /anomalies/{id}/resolve.
type resolveRequest struct {
	Resolution string `json:"resolution"`
	Notes      string `json:"notes"`
}
