package client

import "time"

// ActionResult is the response to toggle, start and stop.
// OK is false when the daemon refused the transition; Status explains why.
type ActionResult struct {
	OK     bool   `json:"ok"`
	State  string `json:"state"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Status describes the daemon's dictation session.
type Status struct {
	State       string    `json:"state"`
	Status      string    `json:"status"`
	PID         int       `json:"pid,omitempty"`
	Since       time.Time `json:"since"`
	Transitions uint64    `json:"transitions"`
	APIKeySet   bool      `json:"api_key_set"`
}

// Event is one recorded transition.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Source     string    `json:"source,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	PID        int       `json:"pid,omitempty"`
	Outcome    string    `json:"outcome,omitempty"`
	Duration   string    `json:"duration,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
