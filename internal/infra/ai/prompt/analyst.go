package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
	"github.com/bryanwahyu/domain-insight/internal/domain/conversation"
)

// GetSystemPrompt provides directions for the reply written to the user.
func GetSystemPrompt() string {
	return `You are a senior growth and web-performance consultant. You receive a JSON digest of automated checks run against one website, or two websites being compared, and you write the reply shown to the user in a chat.

Requirements:
- Plain text, no markdown headings, no code fences. Short paragraphs or "- " bullets are fine.
- Open with a one-sentence verdict naming the site(s).
- Cover the most severe findings first; give a concrete next step for each.
- If a check failed or timed out, say so briefly and suggest asking again later. Never invent results for it.
- When two sites are compared, state where the first site trails the second.
- If "previous_targets" is present, you may reference earlier sites the user asked about, only when relevant.
- Stay under 250 words.`
}

// GetUserPrompt wraps the report digest and conversation hints.
func GetUserPrompt(report *analysis.AggregatedReport, convo *conversation.Context) (string, error) {
	d := Digest(report)
	if convo != nil {
		for _, t := range convo.RecentTargets {
			if !contains(report.Targets, t) {
				d.PreviousTargets = append(d.PreviousTargets, t)
			}
		}
	}
	b, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("failed to marshal digest: %w", err)
	}
	return fmt.Sprintf("Write the reply for %s from this digest:\n%s", strings.Join(report.Targets, " vs "), b), nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
