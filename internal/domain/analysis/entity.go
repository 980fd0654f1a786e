package analysis

import (
	"time"
)

// CapabilityID identifies one analysis routine
type CapabilityID string

const (
	CapabilityTechnical   CapabilityID = "technical"
	CapabilityContent     CapabilityID = "content"
	CapabilityConversion  CapabilityID = "conversion"
	CapabilityCompetitive CapabilityID = "competitive"
	CapabilityMobile      CapabilityID = "mobile"
)

// ResultStatus of a single capability run
type ResultStatus string

const (
	StatusOk       ResultStatus = "ok"
	StatusFailed   ResultStatus = "failed"
	StatusTimedOut ResultStatus = "timed_out"
)

// OverallStatus of an aggregated report
type OverallStatus string

const (
	OverallComplete OverallStatus = "complete"
	OverallPartial  OverallStatus = "partial"
	OverallFailed   OverallStatus = "failed"
)

// Severity enum
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Reason codes carried by non-ok results.
const (
	ReasonCapabilityTimeout   = "capability_timeout"
	ReasonOverallTimeout      = "overall_timeout"
	ReasonUpstreamUnavailable = "upstream_unavailable"
	ReasonCompetitorRequired  = "competitor_required"
	ReasonCancelled           = "cancelled"
	ReasonPanic               = "panic"
	ReasonError               = "error"
)

// Finding value object
type Finding struct {
	Severity        Severity `json:"severity"`
	Summary         string   `json:"summary"`
	EstimatedImpact string   `json:"estimated_impact,omitempty"`
}

// AnalyzerResult is produced once per capability per request attempt.
type AnalyzerResult struct {
	CapabilityID CapabilityID `json:"capability_id"`
	Status       ResultStatus `json:"status"`
	Score        *float64     `json:"score,omitempty"`
	Findings     []Finding    `json:"findings"`
	Reason       string       `json:"reason,omitempty"`
	Message      string       `json:"message,omitempty"`
	ComputedAt   time.Time    `json:"computed_at"`
}

// OK reports whether the capability succeeded.
func (r AnalyzerResult) OK() bool { return r.Status == StatusOk }

// ScoreValue returns the score or 0 when absent.
func (r AnalyzerResult) ScoreValue() float64 {
	if r.Score == nil {
		return 0
	}
	return *r.Score
}

// Score is a helper to build the optional score field.
func Score(v float64) *float64 { return &v }

// AggregatedReport is the fan-in of every capability result for one request.
// Results keep dispatch order and hold at most one entry per capability.
type AggregatedReport struct {
	ID            string           `json:"id"`
	Key           string           `json:"key"`
	Targets       []string         `json:"targets"`
	Results       []AnalyzerResult `json:"results"`
	OverallStatus OverallStatus    `json:"overall_status"`
	StartedAt     time.Time        `json:"started_at"`
	CompletedAt   time.Time        `json:"completed_at"`
}

// Result looks up the entry for a capability.
func (r *AggregatedReport) Result(id CapabilityID) (AnalyzerResult, bool) {
	for _, res := range r.Results {
		if res.CapabilityID == id {
			return res, true
		}
	}
	return AnalyzerResult{}, false
}

// Capabilities returns the capability ids in dispatch order.
func (r *AggregatedReport) Capabilities() []CapabilityID {
	out := make([]CapabilityID, 0, len(r.Results))
	for _, res := range r.Results {
		out = append(out, res.CapabilityID)
	}
	return out
}

// CountByStatus counts results with the given status.
func (r *AggregatedReport) CountByStatus(s ResultStatus) int {
	n := 0
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

// PrimaryTarget is the first requested target.
func (r *AggregatedReport) PrimaryTarget() string {
	if len(r.Targets) == 0 {
		return ""
	}
	return r.Targets[0]
}

// Aggregate derives the overall status from individual results.
func Aggregate(results []AnalyzerResult) OverallStatus {
	ok := 0
	for _, res := range results {
		if res.OK() {
			ok++
		}
	}
	switch {
	case len(results) > 0 && ok == len(results):
		return OverallComplete
	case ok > 0:
		return OverallPartial
	default:
		return OverallFailed
	}
}

// AnalysisRequest is immutable once dispatched.
type AnalysisRequest struct {
	ID           string         `json:"id"`
	Targets      []string       `json:"targets"`
	Capabilities []CapabilityID `json:"capabilities"`
	SessionID    string         `json:"session_id,omitempty"`
	RequestedAt  time.Time      `json:"requested_at"`
}

// ResolvedRequest is what the conversation layer hands to the orchestrator
// and what analyzers receive as context.
type ResolvedRequest struct {
	Targets      []string       `json:"targets"`
	Capabilities []CapabilityID `json:"capabilities,omitempty"`
	RawInput     string         `json:"raw_input,omitempty"`
	// History holds recently mentioned targets; only filled when enhanced
	// context is enabled.
	History []string `json:"history,omitempty"`
}

// Primary returns the first target.
func (r ResolvedRequest) Primary() string {
	if len(r.Targets) == 0 {
		return ""
	}
	return r.Targets[0]
}

// Competitor returns the second target when present.
func (r ResolvedRequest) Competitor() (string, bool) {
	if len(r.Targets) < 2 {
		return "", false
	}
	return r.Targets[1], true
}

// ProgressEvent is emitted whenever a capability finishes, plus one initial
// and one terminal event per run.
type ProgressEvent struct {
	RequestID    string            `json:"request_id"`
	CapabilityID CapabilityID      `json:"capability_id,omitempty"`
	Status       ResultStatus      `json:"status,omitempty"`
	Progress     int               `json:"progress"`
	Message      string            `json:"message"`
	Terminal     bool              `json:"terminal"`
	Report       *AggregatedReport `json:"report,omitempty"`
}

// CacheState of a cache entry
type CacheState string

const (
	CacheAbsent   CacheState = "absent"
	CacheInFlight CacheState = "in_flight"
	CacheReady    CacheState = "ready"
	CacheExpired  CacheState = "expired"
)

// CacheEntry is a stored Ready report.
type CacheEntry struct {
	Key     string            `json:"key"`
	Report  *AggregatedReport `json:"report"`
	ReadyAt time.Time         `json:"ready_at"`
	TTL     time.Duration     `json:"ttl"`
}

// ExpiresAt is readyAt + ttl.
func (e *CacheEntry) ExpiresAt() time.Time { return e.ReadyAt.Add(e.TTL) }

// Expired reports whether the entry is logically expired at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt())
}
