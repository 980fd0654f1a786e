package ai

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bryanwahyu/domain-insight/internal/domain/ai"
	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
	"github.com/bryanwahyu/domain-insight/internal/domain/conversation"
)

const synthesizeTimeout = 30 * time.Second

// Service turns a report into the reply text. It never fails: without a
// client, or when the client errors, the reply is built from the report.
type Service struct {
	client    ai.Client
	fallbacks atomic.Uint64
}

// NewService wraps client, which may be nil.
func NewService(client ai.Client) *Service {
	return &Service{client: client}
}

// Synthesize returns prose for report.
func (s *Service) Synthesize(ctx context.Context, report *analysis.AggregatedReport, convo *conversation.Context) string {
	if s.client != nil {
		cctx, cancel := context.WithTimeout(ctx, synthesizeTimeout)
		defer cancel()
		text, err := s.client.Synthesize(cctx, report, convo)
		if err == nil && strings.TrimSpace(text) != "" {
			return text
		}
		if errors.Is(err, ai.ErrQuotaExceeded) {
			log.Printf("ai: synthesis quota exceeded report=%s", report.ID)
		} else if err != nil {
			log.Printf("ai: synthesis failed report=%s err=%v", report.ID, err)
		}
	}
	s.fallbacks.Add(1)
	return Summary(report)
}

// Fallbacks counts replies built without the client.
func (s *Service) Fallbacks() uint64 { return s.fallbacks.Load() }

var severityRank = map[analysis.Severity]int{
	analysis.SeverityCritical: 0,
	analysis.SeverityHigh:     1,
	analysis.SeverityMedium:   2,
	analysis.SeverityLow:      3,
}

// Summary is a plain-text rendering of report.
func Summary(report *analysis.AggregatedReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analysis of %s: %s (%d/%d checks succeeded).\n",
		strings.Join(report.Targets, " vs "), report.OverallStatus,
		report.CountByStatus(analysis.StatusOk), len(report.Results))

	type ranked struct {
		capability analysis.CapabilityID
		finding    analysis.Finding
	}
	var findings []ranked
	for _, res := range report.Results {
		switch res.Status {
		case analysis.StatusOk:
			if res.Score != nil {
				fmt.Fprintf(&b, "- %s: %.0f/100\n", res.CapabilityID, *res.Score)
			} else {
				fmt.Fprintf(&b, "- %s: ok\n", res.CapabilityID)
			}
			for _, f := range res.Findings {
				findings = append(findings, ranked{res.CapabilityID, f})
			}
		default:
			fmt.Fprintf(&b, "- %s: %s (%s)\n", res.CapabilityID, strings.ReplaceAll(string(res.Status), "_", " "), res.Reason)
		}
	}

	sort.SliceStable(findings, func(i, j int) bool {
		return severityRank[findings[i].finding.Severity] < severityRank[findings[j].finding.Severity]
	})
	if len(findings) > 5 {
		findings = findings[:5]
	}
	if len(findings) > 0 {
		b.WriteString("Top findings:\n")
		for _, f := range findings {
			fmt.Fprintf(&b, "- [%s] %s: %s", f.finding.Severity, f.capability, f.finding.Summary)
			if f.finding.EstimatedImpact != "" {
				fmt.Fprintf(&b, " (impact: %s)", f.finding.EstimatedImpact)
			}
			b.WriteString("\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
