package failures

import (
	"context"
)

// Repository defines persistence for capability failures
type Repository interface {
	Save(ctx context.Context, f *CapabilityFailure) error
	ListByRequest(ctx context.Context, requestID string, limit int) ([]*CapabilityFailure, error)
}
