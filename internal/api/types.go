package api

import (
	stdcontext "context"
	"errors"
	"time"
)

var (
	ErrShuttingDown   = errors.New("launcher is shutting down")
	ErrRetryRejected  = errors.New("retry not allowed in current state")
	ErrNothingStarted = errors.New("server has not been started")
)

// Status describes the supervised server and the launcher around it.
type Status struct {
	Server      string    `json:"server"`
	Phase       string    `json:"phase"`
	State       string    `json:"state"`
	Ready       bool      `json:"ready"`
	PID         int       `json:"pid,omitempty"`
	Attempt     int       `json:"attempt"`
	AttemptID   string    `json:"attempt_id,omitempty"`
	LastReason  string    `json:"last_reason,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	Target      string    `json:"target"`
	WindowURL   string    `json:"window_url,omitempty"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	ReadyAt     time.Time `json:"ready_at,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
	Version     string    `json:"version"`
}

// RetryResult acknowledges an accepted retry request. Readiness is reported
// asynchronously through Status.
type RetryResult struct {
	Accepted    bool      `json:"accepted"`
	RequestedAt time.Time `json:"requested_at"`
}

// Controller exposes launcher operations to control servers.
type Controller interface {
	Status(stdcontext.Context) (*Status, error)
	Retry(stdcontext.Context) (*RetryResult, error)
	Close(stdcontext.Context) error
}
