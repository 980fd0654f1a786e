package ai

import (
	"context"

	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
	"github.com/bryanwahyu/domain-insight/internal/domain/conversation"
)

// Client turns a structured report into prose for the user.
type Client interface {
	Synthesize(ctx context.Context, report *analysis.AggregatedReport, convo *conversation.Context) (string, error)
}
