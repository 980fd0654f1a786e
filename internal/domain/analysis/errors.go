package analysis

import "errors"

var (
	// ErrInvalidTarget is returned before dispatch for malformed domains.
	ErrInvalidTarget = errors.New("invalid target")
	// ErrUnknownCapability is returned when a capability id is not registered.
	ErrUnknownCapability = errors.New("unknown capability")
	// ErrTooManyCapabilities is returned when a request exceeds the configured limit.
	ErrTooManyCapabilities = errors.New("too many capabilities")
	// ErrNoCapabilities is returned when a request names no capability.
	ErrNoCapabilities = errors.New("no capabilities requested")
	// ErrAborted marks a run cancelled before completion. No cache entry is written.
	ErrAborted = errors.New("analysis aborted")
	// ErrCacheUnavailable indicates the cache backend failed; callers bypass caching.
	ErrCacheUnavailable = errors.New("cache unavailable")
	// ErrUpstreamUnavailable is folded into a Failed result by analyzers.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrNotFound is returned by repositories for missing records.
	ErrNotFound = errors.New("not found")
)
