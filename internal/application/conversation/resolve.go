package conversation

import (
	"regexp"
	"strings"

	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
)

var (
	domainPattern      = regexp.MustCompile(`(?i)(?:https?://)?(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}(?::\d+)?(?:/[^\s,;]*)?`)
	comparativePattern = regexp.MustCompile(`(?i)(?:^|\s)(?:vs\.?|versus|against|compared?(?:\s+it)?\s+(?:to|with|against))(?:\s|$)`)
	wordPattern        = regexp.MustCompile(`[a-z]+`)
)

// capabilityKeywords maps words in user input to the capability they ask for.
var capabilityKeywords = map[string]analysis.CapabilityID{
	"technical":   analysis.CapabilityTechnical,
	"performance": analysis.CapabilityTechnical,
	"speed":       analysis.CapabilityTechnical,
	"security":    analysis.CapabilityTechnical,
	"https":       analysis.CapabilityTechnical,
	"content":     analysis.CapabilityContent,
	"seo":         analysis.CapabilityContent,
	"copy":        analysis.CapabilityContent,
	"conversion":  analysis.CapabilityConversion,
	"conversions": analysis.CapabilityConversion,
	"cta":         analysis.CapabilityConversion,
	"funnel":      analysis.CapabilityConversion,
	"mobile":      analysis.CapabilityMobile,
	"responsive":  analysis.CapabilityMobile,
	"competitive": analysis.CapabilityCompetitive,
	"competitor":  analysis.CapabilityCompetitive,
	"competitors": analysis.CapabilityCompetitive,
}

// parsed is what can be read from one message without session context.
type parsed struct {
	targets      []string
	capabilities []analysis.CapabilityID
	comparative  bool
}

func parse(raw string) parsed {
	var p parsed
	seen := make(map[string]bool)
	for _, m := range domainPattern.FindAllString(raw, -1) {
		t, err := analysis.NormalizeTarget(m)
		if err != nil || seen[t] {
			continue
		}
		seen[t] = true
		p.targets = append(p.targets, t)
	}

	// Strip domains before keyword matching so "seo.com" does not ask for content.
	rest := strings.ToLower(domainPattern.ReplaceAllString(raw, " "))
	for _, w := range wordPattern.FindAllString(rest, -1) {
		if id, ok := capabilityKeywords[w]; ok {
			p.capabilities = append(p.capabilities, id)
		}
	}
	p.capabilities = analysis.CanonicalCapabilities(p.capabilities)
	p.comparative = comparativePattern.MatchString(rest)
	return p
}
