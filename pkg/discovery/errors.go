package discovery

import "errors"

// Package-level sentinel errors for discovery operations.
var (
	// ErrServiceNotFound is returned when a requested device is not found.
	ErrServiceNotFound = errors.New("discovery: device not found")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("discovery: operation timed out")

	// ErrInvalidInstanceName is returned when an instance name does not
	// follow the <model>_miio<id> format.
	ErrInvalidInstanceName = errors.New("discovery: invalid instance name format")
)
