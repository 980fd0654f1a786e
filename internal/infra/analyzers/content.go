package analyzers

import (
	"context"
	"fmt"

	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
)

const thinContentWords = 300

// Content checks on-page SEO and copy.
type Content struct {
	Fetcher *Fetcher
}

func (c *Content) Capability() analysis.CapabilityID { return analysis.CapabilityContent }

func (c *Content) Analyze(ctx context.Context, target string, _ analysis.ResolvedRequest) (analysis.AnalyzerResult, error) {
	page, err := c.Fetcher.Fetch(ctx, target)
	if err != nil {
		return unavailable(c.Capability(), err)
	}
	s := Extract(page.Doc)

	var fs findings
	switch n := len(s.Title); {
	case n == 0:
		fs.add(analysis.SeverityHigh, "page has no <title>", "search results show a generated title")
	case n < 10 || n > 70:
		fs.add(analysis.SeverityLow, fmt.Sprintf("title is %d characters", n), "aim for 10-70 characters")
	}
	if s.MetaDescription == "" {
		fs.add(analysis.SeverityMedium, "no meta description", "search snippets fall back to arbitrary page text")
	}
	switch {
	case s.H1Count == 0:
		fs.add(analysis.SeverityMedium, "no <h1> heading", "the page topic is unclear to crawlers")
	case s.H1Count > 1:
		fs.add(analysis.SeverityLow, fmt.Sprintf("%d <h1> headings", s.H1Count), "use a single main heading")
	}
	if s.WordCount < thinContentWords {
		fs.add(analysis.SeverityMedium, fmt.Sprintf("only %d words of visible text", s.WordCount), "thin pages rank poorly")
	}
	if s.ImagesMissingAlt > 0 {
		fs.add(analysis.SeverityLow, fmt.Sprintf("%d of %d images lack alt text", s.ImagesMissingAlt, s.Images), "hurts accessibility and image search")
	}
	return fs.result(c.Capability()), nil
}
