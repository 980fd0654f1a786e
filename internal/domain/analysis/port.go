package analysis

import "context"

// Analyzer is one capability. Expected failures come back as a Failed
// result or an error; a panic is treated the same way by the orchestrator.
// The deadline is carried by ctx.
type Analyzer interface {
	Capability() CapabilityID
	Analyze(ctx context.Context, target string, req ResolvedRequest) (AnalyzerResult, error)
}

// CacheBackend stores Ready entries. Expiry is decided by the caller so a
// backend may keep expired rows around.
type CacheBackend interface {
	Get(ctx context.Context, key string) (*CacheEntry, error) // (nil, nil) on miss
	Set(ctx context.Context, entry *CacheEntry) error
	Delete(ctx context.Context, key string) error
}

// ReportRepository port (persistence of completed reports)
type ReportRepository interface {
	Save(ctx context.Context, r *AggregatedReport) error
	Get(ctx context.Context, id string) (*AggregatedReport, error)
	LatestByTarget(ctx context.Context, target string, limit int) ([]*AggregatedReport, error)
}

// ReportArchive port (object storage for report documents)
type ReportArchive interface {
	Archive(ctx context.Context, r *AggregatedReport) (string, error)
}
