package failures

import "time"

// CapabilityFailure is a persisted non-ok capability result. Timeouts and
// failures share the table but keep a distinct status.
type CapabilityFailure struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"request_id"`
	CacheKey   string    `json:"cache_key"`
	Target     string    `json:"target"`
	Capability string    `json:"capability"`
	Status     string    `json:"status"` // failed | timed_out
	Reason     string    `json:"reason,omitempty"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
}
