package session

import "encoding/json"

// Message types on the wire.
const (
	TypeChat           = "chat"
	TypeConnection     = "connection"
	TypeAnalysisUpdate = "analysis_update"
	TypeError          = "error"
	TypePing           = "ping"
	TypePong           = "pong"
)

// Error codes carried in error payloads.
const (
	CodeInvalidTarget       = "invalid_target"
	CodeUnknownCapability   = "unknown_capability"
	CodeTooManyCapabilities = "too_many_capabilities"
	CodeBusy                = "busy"
	CodeInvalidMessage      = "invalid_message"
	CodeTooManySessions     = "too_many_sessions"
	CodeInternal            = "internal"
)

// Envelope is the outbound frame.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Inbound is the decoded inbound frame; payload is decoded per type.
type Inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ChatPayload is used both ways: user input inbound, synthesized reply outbound.
type ChatPayload struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// UpdatePayload is an analysis_update body.
type UpdatePayload struct {
	Progress     int    `json:"progress"`
	Message      string `json:"message"`
	CapabilityID string `json:"capabilityId,omitempty"`
}

// ErrorPayload is an error body.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ConnectionPayload is sent once when a connection opens.
type ConnectionPayload struct {
	SessionID     string   `json:"sessionId"`
	Status        string   `json:"status"`
	Rehydrated    bool     `json:"rehydrated"`
	RecentTargets []string `json:"recentTargets,omitempty"`
}
