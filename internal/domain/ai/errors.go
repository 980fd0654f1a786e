package ai

import "errors"

// ErrQuotaExceeded means the synthesis provider refused the request for
// quota or rate limits. Callers fall back to the plain summary.
var ErrQuotaExceeded = errors.New("synthesis quota exceeded")
