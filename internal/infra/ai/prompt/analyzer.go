package prompt

import (
	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
)

const (
	maxFindings   = 20
	maxSummaryLen = 240
)

// DigestFinding is one finding as the model sees it.
type DigestFinding struct {
	Capability string `json:"capability"`
	Severity   string `json:"severity"`
	Summary    string `json:"summary"`
	Impact     string `json:"impact,omitempty"`
}

// DigestCheck is the outcome of one capability.
type DigestCheck struct {
	Capability string   `json:"capability"`
	Status     string   `json:"status"`
	Score      *float64 `json:"score,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// ReportDigest is the compact report sent to the model.
type ReportDigest struct {
	Targets         []string        `json:"targets"`
	OverallStatus   string          `json:"overall_status"`
	Checks          []DigestCheck   `json:"checks"`
	Findings        []DigestFinding `json:"findings"`
	PreviousTargets []string        `json:"previous_targets,omitempty"`
}

// Digest strips a report down to what the reply needs, most severe findings
// first and capped to keep the prompt small.
func Digest(report *analysis.AggregatedReport) ReportDigest {
	trim := func(s string, n int) string {
		if len(s) <= n {
			return s
		}
		return s[:n] + "..."
	}

	out := ReportDigest{
		Targets:       report.Targets,
		OverallStatus: string(report.OverallStatus),
		Checks:        make([]DigestCheck, 0, len(report.Results)),
		Findings:      make([]DigestFinding, 0, maxFindings),
	}

	// Bucket by severity so output order is stable: severity, then dispatch order.
	buckets := map[analysis.Severity][]DigestFinding{}
	for _, res := range report.Results {
		out.Checks = append(out.Checks, DigestCheck{
			Capability: string(res.CapabilityID),
			Status:     string(res.Status),
			Score:      res.Score,
			Reason:     res.Reason,
		})
		for _, f := range res.Findings {
			buckets[f.Severity] = append(buckets[f.Severity], DigestFinding{
				Capability: string(res.CapabilityID),
				Severity:   string(f.Severity),
				Summary:    trim(f.Summary, maxSummaryLen),
				Impact:     trim(f.EstimatedImpact, maxSummaryLen),
			})
		}
	}
	for _, sev := range []analysis.Severity{analysis.SeverityCritical, analysis.SeverityHigh, analysis.SeverityMedium, analysis.SeverityLow} {
		out.Findings = append(out.Findings, buckets[sev]...)
	}

	if len(out.Findings) > maxFindings {
		out.Findings = out.Findings[:maxFindings]
	}
	return out
}
