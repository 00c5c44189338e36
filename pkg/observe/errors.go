package observe

import "errors"

// Subscription errors.
var (
	// ErrNoRegistrar is returned when Config.Registrar is nil.
	ErrNoRegistrar = errors.New("observe: no registrar configured")

	// ErrInvalidMaxAttempts is returned for a negative attempt bound.
	ErrInvalidMaxAttempts = errors.New("observe: max attempts must be positive")
)
