package session

import (
	"errors"
	"time"
)

var (
	// ErrBusy rejects a second chat while one analysis is in flight.
	ErrBusy = errors.New("session busy")
	// ErrTooManySessions is returned when the open-session limit is reached.
	ErrTooManySessions = errors.New("too many sessions")
	// ErrSessionClosed is returned for operations on a closed session.
	ErrSessionClosed = errors.New("session closed")
)

// ConnectionState of one physical connection
type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateOpen       ConnectionState = "open"
	StateProcessing ConnectionState = "processing"
	StateClosed     ConnectionState = "closed"
)

// Snapshot is a read-only view of a session.
type Snapshot struct {
	SessionID       string          `json:"session_id"`
	State           ConnectionState `json:"state"`
	InFlightRequest string          `json:"in_flight_request,omitempty"`
	ConnectedAt     time.Time       `json:"connected_at"`
	LastActivity    time.Time       `json:"last_activity"`
}
