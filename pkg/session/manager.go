// Package session maintains a logical session with one smart-home device
// over UDP.
//
// A Manager owns the link to the device, the shared counter, the status
// cache and, for push devices, the observe subscription. It moves through
//
//	Disconnected -> Identifying -> Online <-> Degraded -> Disconnected
//
// and reports reachability to the host through Config.OnStatus. Failures
// never escape as panics; they are converted to state and status at the
// Manager boundary and returned to the caller.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/backkem/miio/pkg/cache"
	"github.com/backkem/miio/pkg/coap"
	"github.com/backkem/miio/pkg/crypto"
	"github.com/backkem/miio/pkg/message"
	"github.com/backkem/miio/pkg/observe"
	"github.com/backkem/miio/pkg/profile"
	"github.com/backkem/miio/pkg/store"
	"github.com/google/uuid"
	"github.com/pion/logging"
)

// cancelTimeout bounds the deregistration sent on an orderly disconnect.
const cancelTimeout = 2 * time.Second

// Manager is the session with one device. It is safe for concurrent use;
// exchanges with the device are serialized.
type Manager struct {
	config  Config
	log     logging.LeveledLogger
	counter *message.SyncCounter
	status  *cache.Expiring[Snapshot]
	network *cache.Expiring[NetworkInfo]
	sub     *observe.Subscription
	backoff *coap.BackoffCalculator

	// cmdMu allows one outstanding exchange per session.
	cmdMu sync.Mutex

	mu         sync.RWMutex
	state      State
	lastStatus Status
	hasStatus  bool
	link       link
	generation uint64
	deviceID   uint32
	category   profile.Category
	info       *message.DeviceInfo
	profile    *profile.Profile
	failures   int

	schedMu   sync.Mutex
	scheduler *Scheduler
}

// NewManager creates a disconnected session. A persisted record for
// Config.StoreKey supplies the device id and the counter to resume from.
func NewManager(config Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	m := &Manager{
		config:   config,
		deviceID: config.DeviceID,
		category: config.Category,
		backoff:  coap.NewBackoffCalculator(config.Rand),
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("session")
	}

	var initial uint32
	if config.Store != nil {
		rec, ok, err := config.Store.Load(config.StoreKey)
		switch {
		case err != nil:
			if m.log != nil {
				m.log.Warnf("cannot load session record for %s: %v", config.StoreKey, err)
			}
		case ok:
			initial = rec.Counter
			if m.deviceID == 0 {
				m.deviceID = rec.DeviceID
			}
			if m.log != nil {
				m.log.Debugf("resuming %s: device id %08x, counter %s", config.StoreKey, rec.DeviceID, message.FormatCounter(rec.Counter))
			}
		}
	}
	m.counter = message.NewSyncCounter(initial, config.CounterTolerance)

	var err error
	m.status, err = cache.New(cache.Config[Snapshot]{
		TTL:     config.StatusTTL,
		Refresh: m.fetchStatus,
		Clock:   config.Clock,
	})
	if err != nil {
		return nil, err
	}
	m.network, err = cache.New(cache.Config[NetworkInfo]{
		TTL:     config.NetworkTTL,
		Refresh: m.fetchNetwork,
		Clock:   config.Clock,
	})
	if err != nil {
		return nil, err
	}

	if config.Protocol == ProtocolCoAP {
		m.sub, err = observe.New(observe.Config{
			Registrar:     observe.RegistrarFunc(m.register),
			MaxAttempts:   config.MaxObserveTicks,
			OnPush:        m.onPush,
			Now:           config.Clock.Now,
			LoggerFactory: config.LoggerFactory,
		})
		if err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Connect establishes the link: token check, device id discovery (miio,
// when unknown) and the handshake. On success the session is Identifying.
func (m *Manager) Connect(ctx context.Context) error {
	token, err := crypto.ParseToken(m.config.Token)
	if err != nil {
		m.reportStatus(Status{Detail: DetailConfigurationError, Reason: "invalid token: check the configured device token"})
		return err
	}
	if token.IsPlaceholder() && m.log != nil {
		m.log.Warnf("token for %s is an unprovisioned placeholder, replies will not decrypt", m.config.StoreKey)
	}

	m.mu.RLock()
	connected := m.link != nil
	deviceID := m.deviceID
	m.mu.RUnlock()
	if connected {
		return nil
	}

	conn, remote, err := m.config.Dial(ctx)
	if err != nil {
		return m.connectFailed(fmt.Errorf("%w: %w", ErrCommunication, err))
	}

	var l link
	switch m.config.Protocol {
	case ProtocolCoAP:
		secret := m.config.PushSecret
		if len(secret) == 0 {
			secret = token.Bytes()
		}
		cl, err := newCoAPLink(coapLinkConfig{
			Conn:          conn,
			Remote:        remote,
			Secret:        secret,
			Counter:       m.counter,
			Timeout:       m.config.Timeout,
			Random:        m.config.Rand,
			LoggerFactory: m.config.LoggerFactory,
		})
		if err != nil {
			conn.Close()
			return m.connectFailed(err)
		}
		l = cl

	default:
		ml, err := newMiioLink(miioLinkConfig{
			Conn:          conn,
			Remote:        remote,
			Token:         token,
			DeviceID:      deviceID,
			Counter:       m.counter,
			LoggerFactory: m.config.LoggerFactory,
		})
		if err != nil {
			conn.Close()
			return m.connectFailed(err)
		}
		if deviceID == 0 {
			dctx, cancel := m.exchangeContext(ctx)
			deviceID, err = ml.Discover(dctx)
			cancel()
			if err != nil {
				ml.Close()
				return m.connectFailed(err)
			}
			m.mu.Lock()
			m.deviceID = deviceID
			m.mu.Unlock()
			m.save(m.counter.Value() + m.config.CounterMargin)
		}
		l = ml
	}

	hctx, cancel := m.exchangeContext(ctx)
	err = handshake(hctx, l, m.counter, m.config.HandshakeOrder)
	cancel()
	if err != nil {
		l.Close()
		return m.connectFailed(err)
	}

	m.mu.Lock()
	m.link = l
	m.generation++
	m.failures = 0
	m.mu.Unlock()

	if m.log != nil {
		m.log.Infof("connected to %s over %s", m.config.StoreKey, m.config.Protocol)
	}
	m.setState(StateIdentifying)
	return nil
}

func (m *Manager) connectFailed(err error) error {
	err = linkError(err)
	detail, reason := classify(err)
	m.reportStatus(Status{Detail: detail, Reason: reason})
	if m.log != nil {
		m.log.Warnf("connect to %s failed: %v", m.config.StoreKey, err)
	}
	return err
}

// Identify reads the device information, resolves and binds its profile
// and brings the session Online. A failed or malformed reply leaves the
// session Identifying.
func (m *Manager) Identify(ctx context.Context) error {
	l := m.currentLink()
	if l == nil {
		return ErrNotConnected
	}

	m.cmdMu.Lock()
	ictx, cancel := m.exchangeContext(ctx)
	info, err := l.Identify(ictx)
	cancel()
	m.cmdMu.Unlock()

	if err != nil {
		err = linkError(err)
		detail, reason := classify(err)
		m.reportStatus(Status{Detail: detail, Reason: reason})
		if countsAsFailure(err) {
			m.countFailure()
		}
		return err
	}

	p := m.config.Profiles.Resolve(info.Model)

	m.mu.Lock()
	current := m.category
	m.mu.Unlock()

	binding, err := profile.Bind(current, p)
	if err != nil {
		if m.log != nil {
			m.log.Warnf("%v", err)
		}
		if m.config.OnRebind != nil {
			m.config.OnRebind(binding)
		}
	}

	m.mu.Lock()
	m.info = info
	m.profile = p
	m.category = p.Category
	m.failures = 0
	m.mu.Unlock()

	if m.log != nil {
		m.log.Infof("identified %s: %s, firmware %s", m.config.StoreKey, profile.Lookup(info.Model).Label(), info.FirmwareVersion)
	}

	m.status.Invalidate()
	if m.config.Protocol == ProtocolMiio {
		m.network.Put(networkInfo(info))
	}
	m.save(m.counter.Value() + m.config.CounterMargin)
	m.setState(StateOnline)
	m.reportStatus(Status{Online: true})
	return nil
}

// SendCommand sends method with params and returns the raw result. The
// session must be Online or Degraded.
func (m *Manager) SendCommand(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	m.mu.RLock()
	state, l := m.state, m.link
	m.mu.RUnlock()
	if !state.CanSend() || l == nil {
		return nil, ErrNotOnline
	}

	ctx, cancel := m.exchangeContext(ctx)
	defer cancel()

	if m.counter.NeedsSync() {
		if _, err := m.counter.Synchronize(ctx, l); err != nil {
			return nil, m.fail(err)
		}
	}

	corr := uuid.NewString()
	if m.log != nil {
		m.log.Debugf("[%s] -> %s %s", corr, method, params)
	}

	result, err := l.Call(ctx, method, params)
	if err != nil {
		if m.log != nil {
			m.log.Debugf("[%s] %s failed: %v", corr, method, err)
		}
		return nil, m.fail(err)
	}

	if m.log != nil {
		m.log.Debugf("[%s] <- %s", corr, result)
	}
	m.succeed()
	return result, nil
}

// SendRaw sends a free-form `method[params]` command string.
func (m *Manager) SendRaw(ctx context.Context, command string) (json.RawMessage, error) {
	method, params, err := message.ParseCommand(command)
	if err != nil {
		return nil, err
	}
	return m.SendCommand(ctx, method, params)
}

// Execute writes value to a channel of the bound profile and refreshes the
// status. The command channel takes a raw command string.
func (m *Manager) Execute(ctx context.Context, channelID string, value any) error {
	p := m.Profile()
	if p == nil {
		return ErrNotOnline
	}

	if channelID == profile.ChannelCommand {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("%w: command must be a string", profile.ErrInvalidValue)
		}
		if _, err := m.SendRaw(ctx, s); err != nil {
			return err
		}
		m.afterCommand(ctx)
		return nil
	}

	action, err := p.Action(channelID)
	if err != nil {
		return err
	}
	params, err := action.Params(value)
	if err != nil {
		return err
	}
	if _, err := m.SendCommand(ctx, action.Command, params); err != nil {
		return err
	}
	m.afterCommand(ctx)
	return nil
}

// afterCommand forces a status refresh once the device applied a command.
// Push devices need a moment before the new state is readable.
func (m *Manager) afterCommand(ctx context.Context) {
	if m.config.Protocol == ProtocolCoAP {
		t := time.NewTimer(m.config.SettleDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
	if _, err := m.status.Refresh(ctx); err != nil && m.log != nil {
		m.log.Debugf("refresh after command failed: %v", err)
	}
}

// Refresh returns the device status, from the cache while it is fresh.
func (m *Manager) Refresh(ctx context.Context) (Snapshot, error) {
	if !m.State().CanSend() {
		return Snapshot{}, ErrNotOnline
	}
	return m.status.Get(ctx)
}

// LastStatus returns the last captured status without refreshing.
func (m *Manager) LastStatus() (Snapshot, bool) {
	return m.status.Peek()
}

// Network returns the device's network information.
func (m *Manager) Network(ctx context.Context) (NetworkInfo, error) {
	if !m.State().CanSend() {
		return NetworkInfo{}, ErrNotOnline
	}
	return m.network.Get(ctx)
}

// Disconnect closes the link and persists the counter advanced by the
// safety margin. It waits for an in-flight exchange.
func (m *Manager) Disconnect() error {
	m.cmdMu.Lock()
	defer m.cmdMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	return m.disconnect(ctx)
}

func (m *Manager) disconnect(ctx context.Context) error {
	m.mu.Lock()
	l := m.link
	m.link = nil
	m.failures = 0
	m.mu.Unlock()

	if l == nil {
		m.setState(StateDisconnected)
		return nil
	}

	if m.sub != nil {
		m.sub.Cancel(ctx)
	}
	err := l.Close()

	next := m.counter.Advance(m.config.CounterMargin)
	m.counter.Invalidate()
	m.save(next)
	m.status.Invalidate()
	m.network.Invalidate()

	if m.log != nil {
		m.log.Infof("disconnected from %s, counter %s", m.config.StoreKey, message.FormatCounter(next))
	}
	m.setState(StateDisconnected)
	return err
}

// Start runs the session in the background: connect and identify, then
// poll the status every PollInterval. A lost session is reconnected on the
// next poll.
func (m *Manager) Start() error {
	m.schedMu.Lock()
	defer m.schedMu.Unlock()
	if m.scheduler != nil {
		return ErrAlreadyStarted
	}

	s := NewScheduler()
	m.scheduler = s
	s.Schedule(0, m.connectTask)
	s.Every(m.config.PollInterval, m.config.PollInterval, m.poll)
	return nil
}

// Stop waits for running tasks, then disconnects.
func (m *Manager) Stop() error {
	m.schedMu.Lock()
	s := m.scheduler
	m.scheduler = nil
	m.schedMu.Unlock()

	if s == nil {
		return ErrNotStarted
	}
	s.Stop()
	return m.Disconnect()
}

func (m *Manager) schedule(delay time.Duration, task Task) bool {
	m.schedMu.Lock()
	s := m.scheduler
	m.schedMu.Unlock()
	if s == nil {
		return false
	}
	return s.Schedule(delay, task)
}

func (m *Manager) connectTask(ctx context.Context) {
	if err := m.Connect(ctx); err != nil {
		return
	}

	m.mu.RLock()
	gen := m.generation
	m.mu.RUnlock()
	m.identifyTask(gen, 0)(ctx)
}

// identifyTask identifies the device, rescheduling itself with exponential
// backoff until it succeeds or the link it was started for is gone.
func (m *Manager) identifyTask(gen uint64, attempt int) Task {
	return func(ctx context.Context) {
		m.mu.RLock()
		current := m.generation == gen && m.state == StateIdentifying
		m.mu.RUnlock()
		if !current {
			return
		}

		if err := m.Identify(ctx); err == nil {
			return
		}

		delay := m.backoff.Calculate(m.config.IdentifyBackoff, min(attempt, 16))
		if delay > MaxIdentifyBackoff || delay <= 0 {
			delay = MaxIdentifyBackoff
		}
		if m.log != nil {
			m.log.Debugf("identify retry %d in %v", attempt+1, delay)
		}
		m.schedule(delay, m.identifyTask(gen, attempt+1))
	}
}

func (m *Manager) poll(ctx context.Context) {
	switch m.State() {
	case StateDisconnected:
		m.connectTask(ctx)

	case StateOnline, StateDegraded:
		if _, err := m.Refresh(ctx); err != nil && m.log != nil {
			if isParseError(err) {
				m.log.Debugf("no status update: %v", err)
			} else {
				m.log.Debugf("refresh failed: %v", err)
			}
		}
	}
}

// fetchStatus is the status cache refresh. Polled devices are read with
// batched property requests; push devices tick the subscription and leave
// the value to the pushes.
func (m *Manager) fetchStatus(ctx context.Context) (Snapshot, error) {
	p := m.Profile()
	if p == nil {
		return Snapshot{}, ErrNotOnline
	}

	if m.config.Protocol == ProtocolCoAP {
		return m.tickSubscription(ctx)
	}

	raw := make(map[string]json.RawMessage)
	for _, batch := range p.PropertyBatches() {
		props := make([]string, len(batch))
		for i, ch := range batch {
			props[i] = ch.Property
		}
		params, err := json.Marshal(props)
		if err != nil {
			return Snapshot{}, err
		}

		result, err := m.SendCommand(ctx, p.PropertyMethod, params)
		if err != nil {
			return Snapshot{}, err
		}
		values, err := (&message.Response{Result: result}).ResultArray()
		if err != nil {
			return Snapshot{}, err
		}
		for i, ch := range batch {
			if i < len(values) {
				raw[ch.Property] = values[i]
			}
		}
	}

	snap := decodeProperties(p, raw, m.config.Clock.Now())
	if m.config.OnUpdate != nil {
		m.config.OnUpdate(snap)
	}
	return snap, nil
}

func (m *Manager) tickSubscription(ctx context.Context) (Snapshot, error) {
	l := m.currentLink()
	if l == nil {
		return Snapshot{}, ErrNotConnected
	}

	if m.counter.NeedsSync() {
		m.cmdMu.Lock()
		sctx, cancel := m.exchangeContext(ctx)
		_, err := m.counter.Synchronize(sctx, l)
		cancel()
		m.cmdMu.Unlock()
		if err != nil {
			return Snapshot{}, m.fail(err)
		}
	}

	tctx, cancel := m.exchangeContext(ctx)
	err := m.sub.Tick(tctx)
	cancel()
	if err != nil {
		return Snapshot{}, m.fail(err)
	}
	return Snapshot{}, cache.ErrNotYetAvailable
}

// register opens the status relation on the current link.
func (m *Manager) register(ctx context.Context, deliver func(payload []byte)) (observe.Relation, error) {
	cl, ok := m.currentLink().(*coapLink)
	if !ok {
		return nil, ErrNotConnected
	}
	return cl.Register(ctx, deliver)
}

// onPush stores a reported state delivered by the subscription.
func (m *Manager) onPush(payload []byte) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(payload, &raw); err != nil {
		if m.log != nil {
			m.log.Debugf("dropping push: %v", err)
		}
		return
	}

	p := m.Profile()
	if p == nil {
		p = profile.Unknown()
	}
	snap := decodeProperties(p, raw, m.config.Clock.Now())
	m.status.Put(snap)

	if m.State().CanSend() {
		m.succeed()
	}
	if m.config.OnUpdate != nil {
		m.config.OnUpdate(snap)
	}
}

func (m *Manager) fetchNetwork(ctx context.Context) (NetworkInfo, error) {
	l := m.currentLink()
	if l == nil {
		return NetworkInfo{}, ErrNotConnected
	}

	m.cmdMu.Lock()
	nctx, cancel := m.exchangeContext(ctx)
	info, err := l.Identify(nctx)
	cancel()
	m.cmdMu.Unlock()

	if err != nil {
		return NetworkInfo{}, m.fail(err)
	}
	return networkInfo(info), nil
}

// succeed records a completed exchange.
func (m *Manager) succeed() {
	m.mu.Lock()
	m.failures = 0
	degraded := m.state == StateDegraded
	m.mu.Unlock()

	if degraded {
		m.setState(StateOnline)
	}
	m.reportStatus(Status{Online: true})
}

// fail converts an exchange error into state and status. Device
// rejections and malformed replies leave the session as it is.
func (m *Manager) fail(err error) error {
	err = linkError(err)
	if !countsAsFailure(err) {
		if m.log != nil && !errors.Is(err, context.Canceled) {
			m.log.Debugf("not counted as failure: %v", err)
		}
		return err
	}

	detail, reason := classify(err)
	m.reportStatus(Status{Detail: detail, Reason: reason})
	m.countFailure()
	return err
}

// countFailure escalates Online to Degraded, and to Disconnected at the
// failure threshold.
func (m *Manager) countFailure() {
	m.mu.Lock()
	m.failures++
	n := m.failures
	state := m.state
	m.mu.Unlock()

	if n >= m.config.FailureThreshold {
		if m.log != nil {
			m.log.Warnf("%d consecutive failures, disconnecting %s", n, m.config.StoreKey)
		}
		// The device is not answering: send the deregistration without
		// waiting for it.
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		m.disconnect(ctx)
		return
	}
	if state == StateOnline {
		m.setState(StateDegraded)
	}
}

func (m *Manager) setState(state State) {
	m.mu.Lock()
	old := m.state
	m.state = state
	m.mu.Unlock()

	if old == state {
		return
	}
	if m.log != nil {
		m.log.Debugf("state %s -> %s", old, state)
	}
	if m.config.OnStateChanged != nil {
		m.config.OnStateChanged(state)
	}
}

// reportStatus forwards status changes to the host.
func (m *Manager) reportStatus(st Status) {
	m.mu.Lock()
	if m.hasStatus && m.lastStatus == st {
		m.mu.Unlock()
		return
	}
	m.lastStatus = st
	m.hasStatus = true
	m.mu.Unlock()

	if m.log != nil {
		m.log.Infof("%s: %s", m.config.StoreKey, st)
	}
	if m.config.OnStatus != nil {
		m.config.OnStatus(st)
	}
}

func (m *Manager) save(counter uint32) {
	if m.config.Store == nil {
		return
	}

	m.mu.RLock()
	rec := store.Record{DeviceID: m.deviceID, Counter: counter}
	if m.info != nil {
		rec.Model = m.info.Model
	}
	m.mu.RUnlock()

	if err := m.config.Store.Save(m.config.StoreKey, rec); err != nil && m.log != nil {
		m.log.Warnf("cannot persist session record for %s: %v", m.config.StoreKey, err)
	}
}

func (m *Manager) exchangeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.config.Timeout)
}

func (m *Manager) currentLink() link {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.link
}

// State returns the connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Status returns the last reported status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastStatus
}

// DeviceID returns the device id, zero until discovered.
func (m *Manager) DeviceID() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.deviceID
}

// Profile returns the bound profile, nil before identification.
func (m *Manager) Profile() *profile.Profile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.profile
}

// Info returns the identity of the device, or false before identification.
func (m *Manager) Info() (DeviceInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.info == nil {
		return DeviceInfo{}, false
	}
	return DeviceInfo{
		DeviceID:        m.deviceID,
		Model:           m.info.Model,
		FirmwareVersion: m.info.FirmwareVersion,
		HardwareVersion: m.info.HardwareVersion,
		Profile:         m.profile,
	}, true
}

// Counter returns the last committed counter value.
func (m *Manager) Counter() uint32 {
	return m.counter.Value()
}

// Subscription returns the observe subscription of a push session, or nil.
func (m *Manager) Subscription() *observe.Subscription {
	return m.sub
}
