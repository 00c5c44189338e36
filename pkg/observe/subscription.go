package observe

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
)

// DefaultMaxAttempts is the number of silent keep-alive ticks tolerated
// before the relation is canceled.
const DefaultMaxAttempts = 6

// Relation is an open observe relation on the device.
type Relation interface {
	// Ping probes device liveness.
	Ping(ctx context.Context) error

	// Reregister repeats the registration on the same relation and returns
	// the state carried by the response, nil if there is none.
	Reregister(ctx context.Context) ([]byte, error)

	// Cancel deregisters the relation.
	Cancel(ctx context.Context) error
}

// Registrar opens relations. deliver must be called with the decoded
// payload of each push.
type Registrar interface {
	Register(ctx context.Context, deliver func(payload []byte)) (Relation, error)
}

// RegistrarFunc adapts a function to the Registrar interface.
type RegistrarFunc func(ctx context.Context, deliver func(payload []byte)) (Relation, error)

// Register implements Registrar.
func (f RegistrarFunc) Register(ctx context.Context, deliver func(payload []byte)) (Relation, error) {
	return f(ctx, deliver)
}

// Config configures a Subscription.
type Config struct {
	// Registrar opens the relation. Required.
	Registrar Registrar

	// MaxAttempts bounds silent keep-alive ticks. Default: DefaultMaxAttempts.
	MaxAttempts int

	// OnPush receives each pushed payload, typically a cache Put.
	OnPush func(payload []byte)

	// Now returns the current time. Default: time.Now.
	Now func() time.Time

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Registrar == nil {
		return ErrNoRegistrar
	}
	if c.MaxAttempts < 0 {
		return ErrInvalidMaxAttempts
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Subscription is a bounded keep-alive state machine over a Relation.
// Tick calls are serialized; Deliver may be called concurrently.
type Subscription struct {
	config Config
	log    logging.LeveledLogger

	tickMu sync.Mutex

	mu             sync.Mutex
	state          State
	relation       Relation
	handle         uuid.UUID
	attempts       int
	lastResponseAt time.Time
}

// New creates an unsubscribed Subscription.
func New(config Config) (*Subscription, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	s := &Subscription{config: config}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("observe")
	}
	return s, nil
}

// Tick advances the keep-alive state machine by one step.
func (s *Subscription) Tick(ctx context.Context) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	state := s.state
	rel := s.relation
	s.mu.Unlock()

	switch state {
	case StateUnsubscribed, StateCanceled:
		return s.register(ctx)
	case StateActive:
		s.mu.Lock()
		exhausted := s.attempts >= s.config.MaxAttempts
		s.mu.Unlock()
		if exhausted {
			return s.expire(ctx, rel)
		}
		return s.keepAlive(ctx, rel)
	}
	return nil
}

func (s *Subscription) register(ctx context.Context) error {
	s.setState(StateRegistering)

	rel, err := s.config.Registrar.Register(ctx, s.Deliver)
	if err != nil {
		s.setState(StateUnsubscribed)
		if s.log != nil {
			s.log.Debugf("registration failed: %v", err)
		}
		return err
	}

	s.mu.Lock()
	s.relation = rel
	s.handle = uuid.New()
	s.attempts = 0
	s.lastResponseAt = s.config.Now()
	s.state = StateActive
	handle := s.handle
	s.mu.Unlock()

	if s.log != nil {
		s.log.Debugf("subscription %s active", handle)
	}
	return nil
}

func (s *Subscription) keepAlive(ctx context.Context, rel Relation) error {
	s.mu.Lock()
	s.attempts++
	attempt := s.attempts
	s.state = StateReregistering
	s.mu.Unlock()

	if s.log != nil {
		s.log.Tracef("keep-alive attempt %d/%d", attempt, s.config.MaxAttempts)
	}

	err := rel.Ping(ctx)
	if err == nil {
		var payload []byte
		payload, err = rel.Reregister(ctx)
		if err == nil && payload != nil {
			s.refreshed(payload)
		}
	}

	s.mu.Lock()
	if s.state == StateReregistering {
		s.state = StateActive
	}
	s.mu.Unlock()

	if err != nil && s.log != nil {
		s.log.Debugf("keep-alive attempt %d failed: %v", attempt, err)
	}
	return err
}

func (s *Subscription) expire(ctx context.Context, rel Relation) error {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()

	if s.log != nil {
		s.log.Infof("subscription %s silent for %d ticks, canceling", handle, s.config.MaxAttempts)
	}
	return s.drop(ctx, rel)
}

// Cancel drops the relation. The next Tick registers again.
func (s *Subscription) Cancel(ctx context.Context) error {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	s.mu.Lock()
	rel := s.relation
	s.mu.Unlock()
	if rel == nil {
		s.setState(StateCanceled)
		return nil
	}
	return s.drop(ctx, rel)
}

func (s *Subscription) drop(ctx context.Context, rel Relation) error {
	s.mu.Lock()
	s.state = StateCanceled
	s.relation = nil
	s.attempts = 0
	s.mu.Unlock()

	if err := rel.Cancel(ctx); err != nil {
		if s.log != nil {
			s.log.Debugf("cancel failed: %v", err)
		}
		return err
	}
	return nil
}

// Deliver records a push and forwards the payload to OnPush. Pushes that
// arrive without an open relation are dropped.
func (s *Subscription) Deliver(payload []byte) {
	s.mu.Lock()
	if s.state != StateRegistering && !s.state.IsOpen() {
		s.mu.Unlock()
		return
	}
	s.attempts = 0
	s.lastResponseAt = s.config.Now()
	s.mu.Unlock()

	if s.config.OnPush != nil {
		s.config.OnPush(payload)
	}
}

// refreshed forwards the state returned by a re-registration. Unlike a
// push it does not reset the attempt count: the relation is only renewed
// by a fresh registration or a notification.
func (s *Subscription) refreshed(payload []byte) {
	s.mu.Lock()
	s.lastResponseAt = s.config.Now()
	s.mu.Unlock()

	if s.config.OnPush != nil {
		s.config.OnPush(payload)
	}
}

func (s *Subscription) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// State returns the current state.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns the number of keep-alive ticks since the last push.
func (s *Subscription) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Handle identifies the current relation. It changes on each registration.
func (s *Subscription) Handle() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// LastResponseAt returns the time of the last push or registration.
func (s *Subscription) LastResponseAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResponseAt
}
