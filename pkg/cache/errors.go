package cache

import "errors"

// Cache errors.
var (
	// ErrNotYetAvailable is returned by a refresh function whose value is
	// delivered asynchronously (e.g. by a push subscription). The cache keeps
	// its previous value.
	ErrNotYetAvailable = errors.New("cache: value not yet available")

	// ErrNoRefreshFunc is returned when a cache is created without a refresh function.
	ErrNoRefreshFunc = errors.New("cache: refresh function required")

	// ErrInvalidTTL is returned when the TTL is not positive.
	ErrInvalidTTL = errors.New("cache: ttl must be positive")
)
