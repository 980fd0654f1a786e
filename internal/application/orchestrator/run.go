package orchestrator

import (
	"context"

	"github.com/bryanwahyu/domain-insight/internal/application/cache"
	"github.com/bryanwahyu/domain-insight/internal/domain/analysis"
)

// Run is a caller's handle on an analysis: either a fresh execution, a join
// onto an identical one already running, or a cache hit.
type Run struct {
	Request analysis.AnalysisRequest
	Key     string

	sub *cache.Subscription
}

// Events streams progress, ending with a terminal event carrying the report.
// The channel closes early if the run is aborted or fails.
func (r *Run) Events() <-chan analysis.ProgressEvent { return r.sub.Events() }

// Cached reports whether the run was served from a Ready cache entry.
func (r *Run) Cached() bool { return r.sub.Cached() }

// Wait blocks until the report is ready.
func (r *Run) Wait(ctx context.Context) (*analysis.AggregatedReport, error) {
	return r.sub.Wait(ctx)
}

// Detach stops listening. The underlying execution keeps going while other
// callers are attached and is cancelled when the last one detaches.
func (r *Run) Detach() { r.sub.Close() }
