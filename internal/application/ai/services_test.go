package ai

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
	"github.com/bryanwahyu/domain-insight/internal/domain/conversation"
)

type stubClient struct {
	text string
	err  error
}

func (s stubClient) Synthesize(context.Context, *analysis.AggregatedReport, *conversation.Context) (string, error) {
	return s.text, s.err
}

func report() *analysis.AggregatedReport {
	return &analysis.AggregatedReport{
		ID:            "r1",
		Targets:       []string{"notion.so", "coda.io"},
		OverallStatus: analysis.OverallPartial,
		Results: []analysis.AnalyzerResult{
			{CapabilityID: analysis.CapabilityCompetitive, Status: analysis.StatusOk, Score: analysis.Score(64),
				Findings: []analysis.Finding{
					{Severity: analysis.SeverityLow, Summary: "fewer testimonials"},
					{Severity: analysis.SeverityHigh, Summary: "slower first byte", EstimatedImpact: "bounce rate"},
				}},
			{CapabilityID: analysis.CapabilityMobile, Status: analysis.StatusTimedOut, Reason: analysis.ReasonCapabilityTimeout},
		},
	}
}

func TestSynthesizeUsesClient(t *testing.T) {
	t.Parallel()
	s := NewService(stubClient{text: "all good"})
	require.Equal(t, "all good", s.Synthesize(context.Background(), report(), nil))
	require.Zero(t, s.Fallbacks())
}

func TestSynthesizeFallsBack(t *testing.T) {
	t.Parallel()
	for _, s := range []*Service{NewService(nil), NewService(stubClient{err: errors.New("down")}), NewService(stubClient{text: "  "})} {
		text := s.Synthesize(context.Background(), report(), nil)
		require.Equal(t, Summary(report()), text)
		require.Equal(t, uint64(1), s.Fallbacks())
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()
	want := "Analysis of notion.so vs coda.io: partial (1/2 checks succeeded).\n" +
		"- competitive: 64/100\n" +
		"- mobile: timed out (capability_timeout)\n" +
		"Top findings:\n" +
		"- [high] competitive: slower first byte (impact: bounce rate)\n" +
		"- [low] competitive: fewer testimonials"
	require.Equal(t, want, Summary(report()))
}
