package message

import "errors"

// Message layer errors.
var (
	// Packet errors
	ErrPacketTooShort  = errors.New("message: packet too short")
	ErrInvalidMagic    = errors.New("message: invalid magic")
	ErrLengthMismatch  = errors.New("message: length field does not match packet size")
	ErrChecksum        = errors.New("message: checksum mismatch")
	ErrPacketTooLarge  = errors.New("message: packet exceeds maximum size")
	ErrUnexpectedHello = errors.New("message: unexpected hello packet")

	// Envelope errors
	ErrInvalidCommand  = errors.New("message: invalid command string")
	ErrInvalidResponse = errors.New("message: malformed response")
	ErrIDMismatch      = errors.New("message: response id does not match request")

	// Counter errors
	ErrCounterParse      = errors.New("message: unparseable counter prefix")
	ErrCounterRegression = errors.New("message: inbound counter older than tolerance")
	ErrNotSynchronized   = errors.New("message: counter not synchronized")
)

// Packet format constants for the miio point-to-point protocol.
const (
	// Magic is the first two bytes of every packet.
	Magic uint16 = 0x2131

	// HeaderSize is the fixed header size in bytes.
	HeaderSize = 32

	// MaxPacketSize is the largest packet the transport reads.
	MaxPacketSize = 65535

	// DefaultPort is the UDP port devices listen on.
	DefaultPort = 54321
)

// Counter constants.
const (
	// CounterHexLen is the length of the ASCII counter prefix.
	CounterHexLen = 8

	// DefaultCounterTolerance is how far an inbound counter may lag the
	// highest accepted value before it is rejected.
	DefaultCounterTolerance = 16

	// MaxParseFailures is the number of consecutive parse failures that
	// end a sync epoch.
	MaxParseFailures = 3
)
