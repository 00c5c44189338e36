// Package observe keeps a device push subscription alive.
//
// A Subscription wraps one observe relation. Each keep-alive tick probes
// the device and re-registers; pushes reset the attempt counter. After
// MaxAttempts ticks without a push the relation is canceled, and the next
// tick registers a fresh one.
package observe

// State is the subscription state.
type State int

const (
	// StateUnsubscribed means no relation exists.
	StateUnsubscribed State = iota

	// StateRegistering means a registration exchange is in flight.
	StateRegistering

	// StateActive means the relation is open.
	StateActive

	// StateReregistering means a keep-alive probe is in flight.
	StateReregistering

	// StateCanceled means the relation was dropped after too many silent
	// ticks, or by Cancel.
	StateCanceled
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateUnsubscribed:
		return "Unsubscribed"
	case StateRegistering:
		return "Registering"
	case StateActive:
		return "Active"
	case StateReregistering:
		return "Reregistering"
	case StateCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the state is a defined value.
func (s State) IsValid() bool {
	return s >= StateUnsubscribed && s <= StateCanceled
}

// IsOpen reports whether a relation exists in this state.
func (s State) IsOpen() bool {
	return s == StateActive || s == StateReregistering
}
