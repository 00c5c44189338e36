package session

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/backkem/miio/pkg/cache"
	"github.com/backkem/miio/pkg/coap"
	"github.com/backkem/miio/pkg/message"
	"github.com/backkem/miio/pkg/profile"
	"github.com/backkem/miio/pkg/store"
	"github.com/pion/logging"
)

// Default timing and policy values.
const (
	// DefaultMiioTimeout bounds one polled request/response exchange.
	DefaultMiioTimeout = 5 * time.Second

	// DefaultCoAPTimeout bounds one exchange on the push protocol.
	DefaultCoAPTimeout = coap.DefaultExchangeTimeout

	// DefaultPollInterval is the fixed delay between status refreshes.
	DefaultPollInterval = 30 * time.Second

	// DefaultStatusTTL is the status cache lifetime for polled devices.
	DefaultStatusTTL = 5 * time.Second

	// DefaultPushStatusTTL is the status cache lifetime for push devices.
	DefaultPushStatusTTL = 60 * time.Second

	// DefaultNetworkTTL is the lifetime of cached network information.
	DefaultNetworkTTL = 5 * time.Second

	// DefaultFailureThreshold is the number of consecutive failures that
	// escalate Degraded to Disconnected.
	DefaultFailureThreshold = 3

	// DefaultCounterMargin is added to the counter before it is persisted.
	DefaultCounterMargin = 10

	// DefaultSettleDelay is the wait after a push device accepted a
	// control command, before the forced status refresh.
	DefaultSettleDelay = time.Second

	// DefaultIdentifyBackoff is the first retry delay after a failed
	// identification. Later retries back off exponentially.
	DefaultIdentifyBackoff = 2 * time.Second

	// MaxIdentifyBackoff caps the identification retry delay.
	MaxIdentifyBackoff = 5 * time.Minute
)

// DialFunc opens the packet connection for a link and returns the device
// address to send to.
type DialFunc func(ctx context.Context) (net.PacketConn, net.Addr, error)

// Config configures a Manager.
type Config struct {
	// Device - Required
	Host     string   // Device IP or hostname (unless Dial is set)
	Token    string   // 16 raw characters or 32 hex digits
	Protocol Protocol // Wire protocol (default: ProtocolMiio)

	// Device - Optional
	Port       int    // Device port (default: 54321 miio, 5683 CoAP)
	DeviceID   uint32 // Known device id; discovered and persisted if zero
	PushSecret []byte // Push protocol secret (default: token bytes)
	Category   profile.Category

	// Persistence - Optional
	Store    store.Store // Device id and counter persistence
	StoreKey string      // Record key (default: Host)

	// Protocol behavior - Optional (uses defaults if zero)
	HandshakeOrder   HandshakeOrder
	Timeout          time.Duration // Exchange timeout (default: 5s miio, 25s CoAP)
	CounterTolerance uint32        // Inbound counter lag tolerance (default: 16)
	CounterMargin    uint32        // Added before persisting (default: 10)
	MaxObserveTicks  int           // Silent keep-alive ticks (default: 6)

	// Scheduling - Optional
	PollInterval     time.Duration // Refresh cadence (default: 30s)
	StatusTTL        time.Duration // Status cache TTL (default: 5s polled, 60s push)
	NetworkTTL       time.Duration // Network info cache TTL (default: 5s)
	FailureThreshold int           // Failures before disconnect (default: 3)
	SettleDelay      time.Duration // Push device settle delay (default: 1s)
	IdentifyBackoff  time.Duration // First identify retry delay (default: 2s)

	// Profiles - Optional
	Profiles *profile.Registry // Default: profile.Default()

	// Callbacks - Optional
	OnStatus       func(Status)
	OnStateChanged func(State)
	OnRebind       func(profile.Binding)
	OnUpdate       func(Snapshot)

	// Logging - Optional
	LoggerFactory logging.LoggerFactory

	// Advanced - Testing
	Dial  DialFunc          // Replaces socket creation
	Clock cache.Clock       // Cache time source
	Rand  coap.RandomSource // Backoff jitter
}

// Validate checks the configuration for errors. The token is checked by
// Connect so that a bad token surfaces as a configuration status.
func (c *Config) Validate() error {
	if c.Host == "" && c.Dial == nil {
		return ErrNoHost
	}
	if !c.Protocol.IsValid() {
		return ErrInvalidProtocol
	}
	if c.FailureThreshold < 0 {
		return ErrInvalidThreshold
	}
	return nil
}

// applyDefaults fills in default values for unset fields.
func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = message.DefaultPort
		if c.Protocol == ProtocolCoAP {
			c.Port = coap.DefaultPort
		}
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultMiioTimeout
		if c.Protocol == ProtocolCoAP {
			c.Timeout = DefaultCoAPTimeout
		}
	}
	if c.StatusTTL == 0 {
		c.StatusTTL = DefaultStatusTTL
		if c.Protocol == ProtocolCoAP {
			c.StatusTTL = DefaultPushStatusTTL
		}
	}
	if c.CounterTolerance == 0 {
		c.CounterTolerance = message.DefaultCounterTolerance
	}
	if c.CounterMargin == 0 {
		c.CounterMargin = DefaultCounterMargin
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.NetworkTTL == 0 {
		c.NetworkTTL = DefaultNetworkTTL
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.IdentifyBackoff == 0 {
		c.IdentifyBackoff = DefaultIdentifyBackoff
	}
	if c.StoreKey == "" {
		c.StoreKey = c.Host
	}
	if c.Profiles == nil {
		c.Profiles = profile.Default()
	}
	if c.Clock == nil {
		c.Clock = cache.SystemClock
	}
	if c.Dial == nil {
		host, port := c.Host, c.Port
		c.Dial = func(ctx context.Context) (net.PacketConn, net.Addr, error) {
			raddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(port)))
			if err != nil {
				return nil, nil, err
			}
			var lc net.ListenConfig
			conn, err := lc.ListenPacket(ctx, "udp", ":0")
			if err != nil {
				return nil, nil, err
			}
			return conn, raddr, nil
		}
	}
}
