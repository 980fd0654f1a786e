package conversation

import (
	"context"
	"errors"
)

// ErrInsufficientContext is returned when a follow-up cannot be resolved
// because the session has no prior target.
var ErrInsufficientContext = errors.New("insufficient context")

// Repository port for durable contexts. Load returns (nil, nil) when absent.
type Repository interface {
	Save(ctx context.Context, c *Context) error
	Load(ctx context.Context, sessionID string) (*Context, error)
	Delete(ctx context.Context, sessionID string) error
}
