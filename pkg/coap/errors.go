package coap

import "errors"

// CoAP errors.
var (
	// Codec errors
	ErrMessageTooShort = errors.New("coap: message too short")
	ErrInvalidVersion  = errors.New("coap: invalid version")
	ErrTokenTooLong    = errors.New("coap: token longer than 8 bytes")
	ErrInvalidOption   = errors.New("coap: malformed option")

	// Exchange errors
	ErrTimeout      = errors.New("coap: exchange timed out")
	ErrReset        = errors.New("coap: peer reset the exchange")
	ErrClosed       = errors.New("coap: client closed")
	ErrResponseCode = errors.New("coap: error response code")
	ErrNotObserving = errors.New("coap: observation canceled")
)
