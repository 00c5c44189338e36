package coap

import (
	"math"
	"math/rand"
	"time"
)

// Transmission parameters (RFC 7252 Section 4.8).
const (
	// DefaultAckTimeout is the initial retransmission timeout.
	DefaultAckTimeout = 2 * time.Second

	// AckRandomFactor scales the timeout by a random value in [1, AckRandomFactor).
	AckRandomFactor = 1.5

	// DefaultMaxRetransmit is the number of retransmissions of a CON message.
	DefaultMaxRetransmit = 4
)

// RandomSource provides random values for jitter calculation.
// Allows injection of deterministic sources for testing.
type RandomSource interface {
	// Float64 returns a random float64 in [0.0, 1.0).
	Float64() float64
}

type defaultRandomSource struct{}

func (defaultRandomSource) Float64() float64 {
	return rand.Float64()
}

// DefaultRandomSource is the default random source using math/rand.
var DefaultRandomSource RandomSource = defaultRandomSource{}

// BackoffCalculator computes retransmission timeouts.
//
//	timeout = base * 2^n * (1.0 + random(0,1) * (ACK_RANDOM_FACTOR - 1))
//
// where n is the number of transmissions before the current one. Session
// identification retries use the same schedule.
type BackoffCalculator struct {
	random RandomSource
}

// NewBackoffCalculator creates a calculator. If random is nil,
// DefaultRandomSource is used.
func NewBackoffCalculator(random RandomSource) *BackoffCalculator {
	if random == nil {
		random = DefaultRandomSource
	}
	return &BackoffCalculator{random: random}
}

// Calculate returns the timeout before retransmission attempt+1.
func (b *BackoffCalculator) Calculate(base time.Duration, attempt int) time.Duration {
	return b.calculate(base, attempt, b.random.Float64())
}

// CalculateMin returns the timeout with no jitter.
func (b *BackoffCalculator) CalculateMin(base time.Duration, attempt int) time.Duration {
	return b.calculate(base, attempt, 0)
}

// CalculateMax returns the timeout with full jitter.
func (b *BackoffCalculator) CalculateMax(base time.Duration, attempt int) time.Duration {
	return b.calculate(base, attempt, 1)
}

func (b *BackoffCalculator) calculate(base time.Duration, attempt int, r float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	expFactor := math.Pow(2, float64(attempt))
	jitter := 1.0 + r*(AckRandomFactor-1.0)
	return time.Duration(float64(base) * expFactor * jitter)
}
