package analyzers

import (
	"context"
	"fmt"
	"strings"

	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
)

const (
	mobileHeavyPage = 1 << 20
	fixedWidthLimit = 768
)

// Mobile checks how the homepage behaves on small screens.
type Mobile struct {
	Fetcher *Fetcher
}

func (m *Mobile) Capability() analysis.CapabilityID { return analysis.CapabilityMobile }

func (m *Mobile) Analyze(ctx context.Context, target string, _ analysis.ResolvedRequest) (analysis.AnalyzerResult, error) {
	page, err := m.Fetcher.Fetch(ctx, target)
	if err != nil {
		return unavailable(m.Capability(), err)
	}
	s := Extract(page.Doc)

	var fs findings
	switch {
	case s.Viewport == "":
		fs.add(analysis.SeverityCritical, "no viewport meta tag", "phones render the desktop layout zoomed out")
	case strings.Contains(s.Viewport, "user-scalable=no") || strings.Contains(s.Viewport, "maximum-scale=1"):
		fs.add(analysis.SeverityLow, "viewport disables zooming", "an accessibility problem for low-vision users")
	}
	if s.WidestFixedPx > fixedWidthLimit {
		fs.add(analysis.SeverityMedium, fmt.Sprintf("inline style fixes a width of %dpx", s.WidestFixedPx), "causes horizontal scrolling on phones")
	}
	if len(page.Body) > mobileHeavyPage {
		fs.add(analysis.SeverityMedium, fmt.Sprintf("HTML document is %d KB", len(page.Body)>>10), "slow on mobile networks")
	}
	if !s.TouchIcon {
		fs.add(analysis.SeverityLow, "no apple-touch-icon", "home screen shortcuts show a screenshot")
	}
	return fs.result(m.Capability()), nil
}
