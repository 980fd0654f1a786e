// Package analyzers holds the capabilities registered with the
// orchestrator. Each one fetches the target's homepage through a shared
// Fetcher and turns page signals into scored findings.
package analyzers

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
)

var penalty = map[analysis.Severity]float64{
	analysis.SeverityCritical: 30,
	analysis.SeverityHigh:     20,
	analysis.SeverityMedium:   10,
	analysis.SeverityLow:      5,
}

// All returns every capability backed by f.
func All(f *Fetcher) []analysis.Analyzer {
	return []analysis.Analyzer{
		&Technical{Fetcher: f},
		&Content{Fetcher: f},
		&Conversion{Fetcher: f},
		&Mobile{Fetcher: f},
		&Competitive{Fetcher: f},
	}
}

// findings accumulates findings for one capability.
type findings []analysis.Finding

func (fs *findings) add(sev analysis.Severity, summary, impact string) {
	*fs = append(*fs, analysis.Finding{Severity: sev, Summary: summary, EstimatedImpact: impact})
}

// result scores findings by subtracting a per-severity penalty from 100.
func (fs findings) result(id analysis.CapabilityID) analysis.AnalyzerResult {
	score := 100.0
	for _, f := range fs {
		score -= penalty[f.Severity]
	}
	out := []analysis.Finding(fs)
	if out == nil {
		out = []analysis.Finding{}
	}
	return analysis.AnalyzerResult{
		CapabilityID: id,
		Status:       analysis.StatusOk,
		Score:        analysis.Score(math.Max(score, 0)),
		Findings:     out,
		ComputedAt:   time.Now(),
	}
}

// unavailable converts a fetch error into a Failed result. Context errors
// are returned as-is so the orchestrator can classify the timeout.
func unavailable(id analysis.CapabilityID, err error) (analysis.AnalyzerResult, error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return analysis.AnalyzerResult{}, err
	}
	reason := analysis.ReasonError
	if errors.Is(err, analysis.ErrUpstreamUnavailable) {
		reason = analysis.ReasonUpstreamUnavailable
	}
	return analysis.AnalyzerResult{
		CapabilityID: id,
		Status:       analysis.StatusFailed,
		Findings:     []analysis.Finding{},
		Reason:       reason,
		Message:      err.Error(),
		ComputedAt:   time.Now(),
	}, nil
}
