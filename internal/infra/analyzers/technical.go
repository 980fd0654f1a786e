package analyzers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
)

const (
	slowResponse     = 3 * time.Second
	sluggishResponse = 1500 * time.Millisecond
	heavyPage        = 2 << 20
	compressMinBytes = 50 << 10
)

// Technical checks transport and delivery basics.
type Technical struct {
	Fetcher *Fetcher
}

func (t *Technical) Capability() analysis.CapabilityID { return analysis.CapabilityTechnical }

func (t *Technical) Analyze(ctx context.Context, target string, _ analysis.ResolvedRequest) (analysis.AnalyzerResult, error) {
	page, err := t.Fetcher.Fetch(ctx, target)
	if err != nil {
		return unavailable(t.Capability(), err)
	}

	var fs findings
	if page.StatusCode >= http.StatusBadRequest {
		fs.add(analysis.SeverityCritical, fmt.Sprintf("homepage returned HTTP %d", page.StatusCode), "visitors and crawlers see an error page")
	}
	if !page.HTTPS() {
		fs.add(analysis.SeverityHigh, "homepage is not served over HTTPS", "browsers flag the site as not secure")
	} else if page.Header.Get("Strict-Transport-Security") == "" {
		fs.add(analysis.SeverityLow, "no HSTS header", "first visits can be downgraded to plain HTTP")
	}
	switch {
	case page.Elapsed > slowResponse:
		fs.add(analysis.SeverityHigh, fmt.Sprintf("homepage took %s to load", page.Elapsed.Round(time.Millisecond)), "slow pages lose visitors before they render")
	case page.Elapsed > sluggishResponse:
		fs.add(analysis.SeverityMedium, fmt.Sprintf("homepage took %s to load", page.Elapsed.Round(time.Millisecond)), "response time above 1.5s")
	}
	if len(page.Body) > compressMinBytes && page.Header.Get("Content-Encoding") == "" {
		fs.add(analysis.SeverityMedium, "HTML is served uncompressed", "enable gzip or brotli to cut transfer size")
	}
	if len(page.Body) > heavyPage || page.Truncated {
		fs.add(analysis.SeverityMedium, fmt.Sprintf("HTML document is %d KB", len(page.Body)>>10), "large documents delay first render")
	}
	return fs.result(t.Capability()), nil
}
