// Package cache provides a single-flight expiring value cache.
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Clock provides the current time. Tests inject a fake clock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// RefreshFunc produces a fresh value. Its ctx carries the values of the
// caller that started the refresh but not its cancellation, so the function
// must bound its own exchanges.
type RefreshFunc[T any] func(ctx context.Context) (T, error)

// Config configures an Expiring cache.
type Config[T any] struct {
	// TTL is how long a captured value stays fresh. Required.
	TTL time.Duration

	// Refresh produces a new value when the cached one expired. Required.
	Refresh RefreshFunc[T]

	// Clock overrides the time source (default: SystemClock).
	Clock Clock
}

// Expiring caches one value of type T for a fixed TTL.
//
// At most one refresh runs at a time; callers arriving while it is in
// flight wait for it and share its result. Peek gives a non-blocking read
// of the last value for callers that must not wait.
type Expiring[T any] struct {
	ttl     time.Duration
	refresh RefreshFunc[T]
	clock   Clock
	group   singleflight.Group

	mu         sync.RWMutex
	value      T
	hasValue   bool
	capturedAt time.Time
	expired    bool
}

// New creates an Expiring cache.
func New[T any](config Config[T]) (*Expiring[T], error) {
	if config.Refresh == nil {
		return nil, ErrNoRefreshFunc
	}
	if config.TTL <= 0 {
		return nil, ErrInvalidTTL
	}
	if config.Clock == nil {
		config.Clock = SystemClock
	}
	return &Expiring[T]{
		ttl:     config.TTL,
		refresh: config.Refresh,
		clock:   config.Clock,
	}, nil
}

// Get returns the cached value if it is fresh, otherwise refreshes it.
//
// A refresh that returns ErrNotYetAvailable keeps the previous value and
// restarts the TTL; if no value was ever captured the error is returned.
func (c *Expiring[T]) Get(ctx context.Context) (T, error) {
	c.mu.RLock()
	if c.fresh() {
		v := c.value
		c.mu.RUnlock()
		return v, nil
	}
	c.mu.RUnlock()

	return c.load(ctx)
}

// Refresh forces a refresh, ignoring the TTL. Used after a command is
// expected to have changed device state.
func (c *Expiring[T]) Refresh(ctx context.Context) (T, error) {
	return c.load(ctx)
}

// Put stores a value delivered outside the pull path and resets the TTL.
func (c *Expiring[T]) Put(v T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v
	c.hasValue = true
	c.capturedAt = c.clock.Now()
	c.expired = false
}

// Peek returns the last captured value, fresh or not, without refreshing.
func (c *Expiring[T]) Peek() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.hasValue
}

// Invalidate marks the value expired so the next Get refreshes.
func (c *Expiring[T]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expired = true
}

// CapturedAt returns when the current value was captured.
func (c *Expiring[T]) CapturedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capturedAt
}

// fresh must be called with mu held.
func (c *Expiring[T]) fresh() bool {
	return c.hasValue && !c.expired && c.clock.Now().Sub(c.capturedAt) < c.ttl
}

// load joins the in-flight refresh or starts one. The refresh runs detached
// from the caller's cancellation so one caller giving up cannot fail the
// others; each caller still stops waiting when its own ctx is done.
func (c *Expiring[T]) load(ctx context.Context) (T, error) {
	var zero T

	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan("refresh", func() (interface{}, error) {
		return c.doRefresh(shared)
	})

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return zero, r.Err
		}
		return r.Val.(T), nil
	}
}

func (c *Expiring[T]) doRefresh(ctx context.Context) (interface{}, error) {
	v, err := c.refresh(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case err == nil:
		c.value = v
		c.hasValue = true
		c.capturedAt = c.clock.Now()
		c.expired = false
		return v, nil
	case errors.Is(err, ErrNotYetAvailable):
		if !c.hasValue {
			return nil, err
		}
		c.capturedAt = c.clock.Now()
		c.expired = false
		return c.value, nil
	default:
		return nil, err
	}
}
