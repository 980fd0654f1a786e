package analyzers

import (
	"context"

	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
)

// Conversion looks for the elements that turn visitors into leads.
// Testimonial detection only counts markup hints and trust phrases.
type Conversion struct {
	Fetcher *Fetcher
}

func (c *Conversion) Capability() analysis.CapabilityID { return analysis.CapabilityConversion }

func (c *Conversion) Analyze(ctx context.Context, target string, _ analysis.ResolvedRequest) (analysis.AnalyzerResult, error) {
	page, err := c.Fetcher.Fetch(ctx, target)
	if err != nil {
		return unavailable(c.Capability(), err)
	}
	s := Extract(page.Doc)

	var fs findings
	if s.CTAs == 0 {
		fs.add(analysis.SeverityHigh, "no clear call to action on the homepage", "visitors have no obvious next step")
	}
	if s.Forms == 0 {
		fs.add(analysis.SeverityMedium, "no lead capture form", "interested visitors cannot leave their details")
	}
	if s.Testimonials == 0 {
		fs.add(analysis.SeverityMedium, "no testimonials or social proof", "trust signals lift sign-up rates")
	}
	if s.ContactLinks == 0 {
		fs.add(analysis.SeverityLow, "no email or phone link", "some buyers want to talk to a person")
	}
	return fs.result(c.Capability()), nil
}
