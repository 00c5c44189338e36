package session

// State is the connection state of a device session.
type State int

const (
	// StateDisconnected means no link is established. Initial state.
	StateDisconnected State = iota

	// StateIdentifying means the link is up and the device info query is
	// pending or being retried.
	StateIdentifying

	// StateOnline means the device is identified and answering.
	StateOnline

	// StateDegraded means recent exchanges failed but the failure threshold
	// has not been reached.
	StateDegraded
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateIdentifying:
		return "Identifying"
	case StateOnline:
		return "Online"
	case StateDegraded:
		return "Degraded"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the state is a defined value.
func (s State) IsValid() bool {
	return s >= StateDisconnected && s <= StateDegraded
}

// CanSend returns true if commands may be dispatched in this state.
func (s State) CanSend() bool {
	return s == StateOnline || s == StateDegraded
}

// StatusDetail qualifies an offline status.
type StatusDetail int

const (
	// DetailNone accompanies an online status.
	DetailNone StatusDetail = iota

	// DetailConfigurationError means the session is misconfigured, e.g. an
	// invalid token. Retrying does not help.
	DetailConfigurationError

	// DetailCommunicationError means the device answered with something
	// unusable, or the transport failed.
	DetailCommunicationError

	// DetailNoResponse means the device did not answer in time.
	DetailNoResponse
)

// String returns a human-readable name for the detail.
func (d StatusDetail) String() string {
	switch d {
	case DetailNone:
		return "None"
	case DetailConfigurationError:
		return "ConfigurationError"
	case DetailCommunicationError:
		return "CommunicationError"
	case DetailNoResponse:
		return "NoResponse"
	default:
		return "Unknown"
	}
}

// Status is the reachability signal reported to the host.
type Status struct {
	Online bool
	Detail StatusDetail
	Reason string
}

// String formats the status for logs.
func (s Status) String() string {
	if s.Online {
		return "ONLINE"
	}
	if s.Reason == "" {
		return "OFFLINE(" + s.Detail.String() + ")"
	}
	return "OFFLINE(" + s.Detail.String() + "): " + s.Reason
}

// Protocol selects the device wire protocol.
type Protocol int

const (
	// ProtocolMiio is the encrypted UDP request/response protocol.
	ProtocolMiio Protocol = iota

	// ProtocolCoAP is the encrypted CoAP push protocol.
	ProtocolCoAP
)

// String returns a human-readable name for the protocol.
func (p Protocol) String() string {
	switch p {
	case ProtocolMiio:
		return "miio"
	case ProtocolCoAP:
		return "coap"
	default:
		return "unknown"
	}
}

// IsValid returns true if the protocol is a defined value.
func (p Protocol) IsValid() bool {
	return p == ProtocolMiio || p == ProtocolCoAP
}

// HandshakeOrder is the order of the liveness probe and the counter sync
// when a link comes up. Firmware versions disagree on which comes first.
type HandshakeOrder int

const (
	// PingThenSync probes liveness before synchronizing the counter.
	PingThenSync HandshakeOrder = iota

	// SyncThenPing synchronizes the counter before probing liveness.
	SyncThenPing
)

// String returns a human-readable name for the order.
func (o HandshakeOrder) String() string {
	switch o {
	case PingThenSync:
		return "PingThenSync"
	case SyncThenPing:
		return "SyncThenPing"
	default:
		return "Unknown"
	}
}
