package analyzers

import (
	"context"
	"fmt"
	"time"

	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
)

// Competitive compares the primary target against the competitor on the
// signals the other capabilities use. The score is the share of
// comparisons the primary does not lose.
type Competitive struct {
	Fetcher *Fetcher
}

func (c *Competitive) Capability() analysis.CapabilityID { return analysis.CapabilityCompetitive }

type comparison struct {
	name     string
	severity analysis.Severity
	// primary and competitor values; higher is better
	mine, theirs float64
	format       func(v float64) string
}

func (c *Competitive) Analyze(ctx context.Context, target string, req analysis.ResolvedRequest) (analysis.AnalyzerResult, error) {
	competitor, ok := req.Competitor()
	if !ok {
		return analysis.AnalyzerResult{
			CapabilityID: c.Capability(),
			Status:       analysis.StatusFailed,
			Findings:     []analysis.Finding{},
			Reason:       analysis.ReasonCompetitorRequired,
			Message:      "competitive analysis needs a second domain to compare against",
			ComputedAt:   time.Now(),
		}, nil
	}

	type fetched struct {
		page *Page
		err  error
	}
	theirCh := make(chan fetched, 1)
	go func() {
		p, err := c.Fetcher.Fetch(ctx, competitor)
		theirCh <- fetched{p, err}
	}()
	mine, err := c.Fetcher.Fetch(ctx, target)
	theirs := <-theirCh
	if err != nil {
		return unavailable(c.Capability(), err)
	}
	if theirs.err != nil {
		return unavailable(c.Capability(), theirs.err)
	}

	a, b := Extract(mine.Doc), Extract(theirs.page.Doc)
	count := func(v float64) string { return fmt.Sprintf("%.0f", v) }
	yesNo := func(v float64) string {
		if v > 0 {
			return "yes"
		}
		return "no"
	}
	seconds := func(v float64) string { return fmt.Sprintf("%.2fs", -v) }

	comparisons := []comparison{
		{"HTTPS", analysis.SeverityHigh, boolScore(mine.HTTPS()), boolScore(theirs.page.HTTPS()), yesNo},
		{"response time", analysis.SeverityMedium, -mine.Elapsed.Seconds(), -theirs.page.Elapsed.Seconds(), seconds},
		{"mobile viewport", analysis.SeverityHigh, boolScore(a.Viewport != ""), boolScore(b.Viewport != ""), yesNo},
		{"calls to action", analysis.SeverityMedium, float64(a.CTAs), float64(b.CTAs), count},
		{"lead forms", analysis.SeverityMedium, float64(a.Forms), float64(b.Forms), count},
		{"social proof markers", analysis.SeverityLow, float64(a.Testimonials), float64(b.Testimonials), count},
		{"words of copy", analysis.SeverityLow, float64(a.WordCount), float64(b.WordCount), count},
		{"meta description", analysis.SeverityLow, boolScore(a.MetaDescription != ""), boolScore(b.MetaDescription != ""), yesNo},
	}

	var fs []analysis.Finding
	wins := 0
	for _, cmp := range comparisons {
		if cmp.mine >= cmp.theirs {
			wins++
			continue
		}
		fs = append(fs, analysis.Finding{
			Severity: cmp.severity,
			Summary: fmt.Sprintf("%s trails %s on %s (%s vs %s)",
				target, competitor, cmp.name, cmp.format(cmp.mine), cmp.format(cmp.theirs)),
			EstimatedImpact: "gap visible to prospects comparing both sites",
		})
	}
	if fs == nil {
		fs = []analysis.Finding{}
	}
	return analysis.AnalyzerResult{
		CapabilityID: c.Capability(),
		Status:       analysis.StatusOk,
		Score:        analysis.Score(float64(wins) * 100 / float64(len(comparisons))),
		Findings:     fs,
		ComputedAt:   time.Now(),
	}, nil
}

func boolScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
