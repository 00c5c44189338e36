package message

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// FormatCounter renders a counter in its 8-hex-digit wire form.
func FormatCounter(n uint32) string {
	return fmt.Sprintf("%08X", n)
}

// ParseCounter parses the leading 8 hex digits of raw.
func ParseCounter(raw []byte) (uint32, error) {
	if len(raw) < CounterHexLen {
		return 0, ErrCounterParse
	}
	for _, c := range raw[:CounterHexLen] {
		if !isHex(c) {
			return 0, ErrCounterParse
		}
	}
	v, err := strconv.ParseUint(string(raw[:CounterHexLen]), 16, 32)
	if err != nil {
		return 0, ErrCounterParse
	}
	return uint32(v), nil
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// Syncer performs the protocol's counter sync exchange: it offers a
// candidate counter and returns the counter the device confirmed.
type Syncer interface {
	Sync(ctx context.Context, candidate uint32) (uint32, error)
}

// SyncerFunc adapts a function to the Syncer interface.
type SyncerFunc func(ctx context.Context, candidate uint32) (uint32, error)

// Sync implements Syncer.
func (f SyncerFunc) Sync(ctx context.Context, candidate uint32) (uint32, error) {
	return f(ctx, candidate)
}

// SyncCounter tracks the shared session counter.
//
// Outbound commands use value+1, committed by Confirm once a response
// arrives. Inbound counters are accepted while they lag the highest
// accepted inbound value by at most the tolerance. A sync epoch ends after
// MaxParseFailures consecutive parse failures.
// It is safe for concurrent use.
type SyncCounter struct {
	mu sync.Mutex

	value     uint32
	tolerance uint32

	inboundMax  uint32
	inboundSeen bool

	synced        bool
	epoch         uint64
	parseFailures int
}

// NewSyncCounter creates a counter starting at initial, typically a
// persisted value. A zero tolerance selects DefaultCounterTolerance.
func NewSyncCounter(initial uint32, tolerance uint32) *SyncCounter {
	if tolerance == 0 {
		tolerance = DefaultCounterTolerance
	}
	return &SyncCounter{
		value:     initial,
		tolerance: tolerance,
	}
}

// Synchronize runs the sync exchange with the current value as candidate
// and stores the confirmed counter. It opens a new epoch.
func (c *SyncCounter) Synchronize(ctx context.Context, s Syncer) (uint32, error) {
	c.mu.Lock()
	candidate := c.value
	c.mu.Unlock()

	confirmed, err := s.Sync(ctx, candidate)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = confirmed
	c.inboundMax = 0
	c.inboundSeen = false
	c.synced = true
	c.parseFailures = 0
	c.epoch++
	return confirmed, nil
}

// NextOutbound returns the counter to use for the next command. It does not
// commit the value.
func (c *SyncCounter) NextOutbound() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value + 1
}

// Confirm commits n after the device acknowledged a command sent with it.
// Older values are ignored so a late response cannot move the counter back.
func (c *SyncCounter) Confirm(n uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int32(n-c.value) > 0 {
		c.value = n
	}
}

// ObserveInbound extracts the counter prefix of a raw message and accepts
// it once verify has authenticated the whole message. A nil verify accepts
// the prefix as is. An unparseable prefix or a failed verification counts
// toward the end of the epoch and leaves the inbound window untouched.
func (c *SyncCounter) ObserveInbound(raw []byte, verify func(raw []byte) error) (uint32, error) {
	n, err := ParseCounter(raw)
	if err != nil {
		c.ParseFailed()
		return 0, err
	}
	if verify != nil {
		if err := verify(raw); err != nil {
			c.ParseFailed()
			return n, err
		}
	}
	if err := c.Accept(n); err != nil {
		return n, err
	}
	return n, nil
}

// Accept checks an inbound counter against the tolerance window.
func (c *SyncCounter) Accept(n uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.parseFailures = 0

	if !c.inboundSeen {
		c.inboundMax = n
		c.inboundSeen = true
		return nil
	}

	diff := int32(n - c.inboundMax)
	if diff > 0 {
		c.inboundMax = n
		return nil
	}
	if uint32(-diff) > c.tolerance {
		return ErrCounterRegression
	}
	return nil
}

// ParseFailed records a response that could not be parsed and reports
// whether the epoch has ended.
func (c *SyncCounter) ParseFailed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parseFailures++
	if c.parseFailures >= MaxParseFailures {
		c.synced = false
	}
	return !c.synced
}

// NeedsSync reports whether Synchronize must run before the next command.
func (c *SyncCounter) NeedsSync() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.synced
}

// Invalidate ends the current epoch.
func (c *SyncCounter) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.synced = false
}

// Epoch returns the number of successful synchronizations.
func (c *SyncCounter) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Value returns the last committed counter.
func (c *SyncCounter) Value() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Reset replaces the committed value, typically with a persisted one, and
// ends the current epoch.
func (c *SyncCounter) Reset(v uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
	c.synced = false
	c.inboundSeen = false
	c.parseFailures = 0
}

// Advance moves the counter forward by margin and returns the new value.
// Used before persisting so the next session never reuses a counter.
func (c *SyncCounter) Advance(margin uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value += margin
	return c.value
}
