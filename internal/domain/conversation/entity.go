package conversation

import (
	"time"

	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
)

// Context is the bounded per-session memory used to resolve follow-ups.
type Context struct {
	SessionID     string                     `json:"session_id"`
	RecentTargets []string                   `json:"recent_targets"` // newest first
	LastReport    *analysis.AggregatedReport `json:"last_report,omitempty"`
	UpdatedAt     time.Time                  `json:"updated_at"`
}

// PrimaryTarget is the most recently mentioned primary target, whether or
// not its analysis completed. LastReport is only context for replies.
func (c *Context) PrimaryTarget() (string, bool) {
	if c == nil {
		return "", false
	}
	if len(c.RecentTargets) > 0 {
		return c.RecentTargets[0], true
	}
	return "", false
}

// Remember moves target to the front of RecentTargets, keeping at most max
// distinct entries.
func (c *Context) Remember(target string, max int) {
	out := make([]string, 0, max)
	out = append(out, target)
	for _, t := range c.RecentTargets {
		if len(out) >= max {
			break
		}
		if t != target {
			out = append(out, t)
		}
	}
	c.RecentTargets = out
}

// Clone returns a copy safe to hand to readers.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	cp := *c
	cp.RecentTargets = append([]string(nil), c.RecentTargets...)
	return &cp
}

// Expired reports whether the context has been idle for longer than ttl.
func (c *Context) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(c.UpdatedAt) > ttl
}
