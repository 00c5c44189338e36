// Package store persists per-device session state across restarts: the
// device identifier learned during discovery and the last used counter.
package store

import (
	"errors"
	"time"
)

// ErrCorrupt is returned when a state file cannot be decoded.
var ErrCorrupt = errors.New("store: corrupt state file")

// Record is the persisted state of one device session.
type Record struct {
	// DeviceID is the identifier the device reported in its hello reply.
	DeviceID uint32 `cbor:"1,keyasint"`

	// Counter is the counter to resume from. Callers store it already
	// advanced past the last used value.
	Counter uint32 `cbor:"2,keyasint"`

	// Model is the last identified model, if any.
	Model string `cbor:"3,keyasint,omitempty"`

	// SavedAt is when the record was written.
	SavedAt time.Time `cbor:"4,keyasint"`
}

// Store loads and saves session records keyed by device (usually its host).
// Implementations must be safe for concurrent use.
type Store interface {
	// Load returns the record for key. ok is false if none exists.
	Load(key string) (rec Record, ok bool, err error)

	// Save stores or replaces the record for key.
	Save(key string, rec Record) error

	// Delete removes the record for key.
	Delete(key string) error
}
