package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/backkem/miio/pkg/coap"
	"github.com/backkem/miio/pkg/crypto"
	"github.com/backkem/miio/pkg/message"
	"github.com/backkem/miio/pkg/transport"
)

// Session errors.
var (
	// ErrNoDeviceID is returned when the device never answered the
	// discovery hello, so no device identifier is known.
	ErrNoDeviceID = errors.New("session: no device id")

	// ErrTimeout is returned when the device did not answer in time.
	ErrTimeout = errors.New("session: no response from device")

	// ErrCommunication is returned for transport level failures.
	ErrCommunication = errors.New("session: communication error")

	// ErrDeviceRejected is returned when the device answered with an error.
	ErrDeviceRejected = errors.New("session: device rejected request")

	// ErrNotOnline is returned when a command is sent before the device is
	// identified or after the session disconnected.
	ErrNotOnline = errors.New("session: device not online")

	// ErrNotConnected is returned when an operation needs an established link.
	ErrNotConnected = errors.New("session: not connected")

	// ErrNoHost is returned when neither a host nor a dialer is configured.
	ErrNoHost = errors.New("session: host required")

	// ErrInvalidProtocol is returned for an unknown protocol.
	ErrInvalidProtocol = errors.New("session: invalid protocol")

	// ErrInvalidThreshold is returned for a negative failure threshold.
	ErrInvalidThreshold = errors.New("session: invalid failure threshold")

	// ErrUnsupportedCommand is returned when the link cannot express a command.
	ErrUnsupportedCommand = errors.New("session: command not supported by protocol")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("session: already started")

	// ErrNotStarted is returned when Stop is called before Start.
	ErrNotStarted = errors.New("session: not started")
)

// linkError maps a transport or protocol error into the session error space.
func linkError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTimeout), errors.Is(err, ErrCommunication), errors.Is(err, ErrDeviceRejected):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, coap.ErrTimeout):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	case errors.Is(err, transport.ErrClosed),
		errors.Is(err, transport.ErrInvalidAddress),
		errors.Is(err, transport.ErrMessageTooLarge),
		errors.Is(err, coap.ErrReset),
		errors.Is(err, coap.ErrClosed),
		errors.Is(err, coap.ErrResponseCode):
		return fmt.Errorf("%w: %w", ErrCommunication, err)
	}
	return err
}

// isCryptoError reports whether err means a payload could not be
// encrypted, decrypted or authenticated.
func isCryptoError(err error) bool {
	return crypto.IsCryptoError(err) ||
		errors.Is(err, message.ErrChecksum) ||
		errors.Is(err, message.ErrInvalidMagic) ||
		errors.Is(err, message.ErrLengthMismatch) ||
		errors.Is(err, message.ErrPacketTooShort)
}

// isParseError reports whether err is a malformed but authentic reply.
func isParseError(err error) bool {
	return errors.Is(err, message.ErrInvalidResponse) ||
		errors.Is(err, message.ErrCounterParse) ||
		errors.Is(err, message.ErrCounterRegression)
}

// classify maps an error onto the status detail and reason reported to
// the host.
func classify(err error) (StatusDetail, string) {
	switch {
	case errors.Is(err, crypto.ErrInvalidToken):
		return DetailConfigurationError, "invalid token: check the configured device token"
	case errors.Is(err, ErrTimeout):
		return DetailNoResponse, "device unreachable: no response"
	case errors.Is(err, ErrNoDeviceID):
		return DetailCommunicationError, "device unreachable: no reply to discovery"
	case errors.Is(err, ErrDeviceRejected):
		return DetailCommunicationError, "device rejected our request: " + err.Error()
	case isCryptoError(err):
		return DetailCommunicationError, "cannot decrypt device response: check the token"
	case isParseError(err):
		return DetailCommunicationError, "malformed device response"
	default:
		return DetailCommunicationError, "communication error: " + err.Error()
	}
}

// countsAsFailure reports whether err should move the session toward
// Disconnected. Device rejections, parse errors and commands the link
// cannot express leave the link usable.
func countsAsFailure(err error) bool {
	return !errors.Is(err, ErrDeviceRejected) &&
		!errors.Is(err, ErrUnsupportedCommand) &&
		!isParseError(err) &&
		!errors.Is(err, context.Canceled)
}
