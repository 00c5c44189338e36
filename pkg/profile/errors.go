package profile

import "errors"

// Profile errors.
var (
	// ErrProfileMismatch is returned by Bind when the resolved profile's
	// category differs from the bound one. It is not fatal.
	ErrProfileMismatch = errors.New("profile: category mismatch, rebind required")

	// ErrInvalidProfile is returned when a profile document fails validation.
	ErrInvalidProfile = errors.New("profile: invalid profile document")

	// ErrDuplicateModel is returned when two documents declare the same model.
	ErrDuplicateModel = errors.New("profile: duplicate model")

	// ErrNoAction is returned when a channel has no command template.
	ErrNoAction = errors.New("profile: channel has no action")

	// ErrInvalidValue is returned when a value does not fit an action's
	// parameter type.
	ErrInvalidValue = errors.New("profile: value does not match parameter type")

	// ErrDecode is returned when a property value does not fit its channel type.
	ErrDecode = errors.New("profile: cannot decode property value")
)
