package coap

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/backkem/miio/pkg/transport"
	"github.com/pion/logging"
)

// DefaultPort is the CoAP UDP port.
const DefaultPort = 5683

// DefaultExchangeTimeout bounds one request/response exchange.
const DefaultExchangeTimeout = 25 * time.Second

// MaxMessageIDDrift is the distance between an inbound message ID and the
// last one sent beyond which the client adopts the peer's numbering.
const MaxMessageIDDrift = 100

// ClientConfig configures a Client.
type ClientConfig struct {
	// Conn is an optional pre-existing PacketConn, e.g. a Pipe endpoint.
	Conn net.PacketConn

	// ListenAddr is the local address to bind when Conn is nil.
	ListenAddr string

	// RemoteAddr is the device address. Required.
	RemoteAddr net.Addr

	// ExchangeTimeout bounds each exchange. Default: DefaultExchangeTimeout.
	ExchangeTimeout time.Duration

	// AckTimeout is the initial retransmission timeout. Default: DefaultAckTimeout.
	AckTimeout time.Duration

	// MaxRetransmit is the retransmission limit. Default: DefaultMaxRetransmit.
	MaxRetransmit int

	// Random provides retransmission jitter. Default: DefaultRandomSource.
	Random RandomSource

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

func (c *ClientConfig) applyDefaults() {
	if c.ExchangeTimeout == 0 {
		c.ExchangeTimeout = DefaultExchangeTimeout
	}
	if c.AckTimeout == 0 {
		c.AckTimeout = DefaultAckTimeout
	}
	if c.MaxRetransmit == 0 {
		c.MaxRetransmit = DefaultMaxRetransmit
	}
}

// NotificationHandler receives observe notifications. It runs on the read
// loop and must not block.
type NotificationHandler func(msg *Message)

// Client is a CoAP client bound to a single device.
//
// Confirmable requests are retransmitted until acknowledged. Responses are
// matched by message ID (piggybacked) or token (separate), and notifications
// for active observations are dispatched by token.
type Client struct {
	config  ClientConfig
	udp     *transport.UDP
	backoff *BackoffCalculator
	log     logging.LeveledLogger
	closeCh chan struct{}

	mu        sync.Mutex
	closed    bool
	nextMID   uint16
	lastMID   uint16
	byMID     map[uint16]*exchange
	byToken   map[string]*exchange
	observers map[string]*Observation
}

type exchange struct {
	ackCh  chan *Message
	respCh chan *Message
}

// NewClient creates a client and starts its read loop.
func NewClient(config ClientConfig) (*Client, error) {
	if config.RemoteAddr == nil {
		return nil, transport.ErrInvalidAddress
	}
	config.applyDefaults()

	c := &Client{
		config:    config,
		backoff:   NewBackoffCalculator(config.Random),
		closeCh:   make(chan struct{}),
		byMID:     make(map[uint16]*exchange),
		byToken:   make(map[string]*exchange),
		observers: make(map[string]*Observation),
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("coap")
	}

	var seed [2]byte
	if _, err := rand.Read(seed[:]); err == nil {
		c.nextMID = uint16(seed[0])<<8 | uint16(seed[1])
	}

	udp, err := transport.NewUDP(transport.UDPConfig{
		Conn:           config.Conn,
		ListenAddr:     config.ListenAddr,
		RemoteAddr:     config.RemoteAddr,
		MessageHandler: c.handleDatagram,
		LoggerFactory:  config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	if err := udp.Start(); err != nil {
		return nil, err
	}
	c.udp = udp
	return c, nil
}

// Close stops the client. Pending exchanges fail with ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.closeCh)
	c.mu.Unlock()

	return c.udp.Stop()
}

// NextMessageID returns the message ID the next request will carry.
func (c *Client) NextMessageID() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextMID
}

// Get sends a confirmable GET.
func (c *Client) Get(ctx context.Context, path string) (*Message, error) {
	req := &Message{Type: Confirmable, Code: GET}
	req.SetPath(path)
	return c.request(ctx, req)
}

// Post sends a confirmable POST with payload.
func (c *Client) Post(ctx context.Context, path string, payload []byte) (*Message, error) {
	req := &Message{Type: Confirmable, Code: POST, Payload: payload}
	req.SetPath(path)
	return c.request(ctx, req)
}

// Ping sends an empty confirmable message. The peer answers with RST.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Do(ctx, &Message{Type: Confirmable, Code: Empty})
	return err
}

// Observe registers an observation on path. The registration response is
// returned; later notifications go to handler until the observation is
// canceled.
func (c *Client) Observe(ctx context.Context, path string, handler NotificationHandler) (*Observation, *Message, error) {
	token, err := newToken()
	if err != nil {
		return nil, nil, err
	}
	obs := &Observation{
		client:  c,
		path:    path,
		token:   token,
		handler: handler,
	}

	c.mu.Lock()
	c.observers[string(token)] = obs
	c.mu.Unlock()

	resp, err := obs.send(ctx, ObserveRegister)
	if err != nil {
		c.removeObserver(token)
		return nil, nil, err
	}
	return obs, resp, nil
}

func (c *Client) request(ctx context.Context, req *Message) (*Message, error) {
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if !IsSuccess(resp.Code) {
		return resp, fmt.Errorf("%w: %s %s returned %s", ErrResponseCode, req.Code, req.Path(), resp.Code)
	}
	return resp, nil
}

// Do runs one exchange. A message ID is assigned, and a token too for
// requests that lack one. Confirmable messages are retransmitted until
// acknowledged or the retransmission limit is hit.
func (c *Client) Do(ctx context.Context, req *Message) (*Message, error) {
	if !req.IsEmpty() && req.Token == nil {
		token, err := newToken()
		if err != nil {
			return nil, err
		}
		req.Token = token
	}

	ex := &exchange{
		ackCh:  make(chan *Message, 1),
		respCh: make(chan *Message, 1),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	req.MessageID = c.nextMID
	c.nextMID++
	c.lastMID = req.MessageID
	c.byMID[req.MessageID] = ex
	if len(req.Token) > 0 {
		c.byToken[string(req.Token)] = ex
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.byMID, req.MessageID)
		if len(req.Token) > 0 && c.byToken[string(req.Token)] == ex {
			delete(c.byToken, string(req.Token))
		}
		c.mu.Unlock()
	}()

	data, err := req.Marshal()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.ExchangeTimeout)
	defer cancel()

	if c.log != nil {
		c.log.Tracef("-> %s %s %s mid=%d", req.Type, req.Code, req.Path(), req.MessageID)
	}
	if err := c.udp.Send(data); err != nil {
		return nil, err
	}

	var retransmitC <-chan time.Time
	var timer *time.Timer
	attempt := 0
	if req.Type == Confirmable {
		timer = time.NewTimer(c.backoff.Calculate(c.config.AckTimeout, attempt))
		defer timer.Stop()
		retransmitC = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrTimeout
			}
			return nil, ctx.Err()

		case <-c.closeCh:
			return nil, ErrClosed

		case <-retransmitC:
			attempt++
			if attempt > c.config.MaxRetransmit {
				return nil, ErrTimeout
			}
			if c.log != nil {
				c.log.Debugf("retransmitting mid=%d (attempt %d)", req.MessageID, attempt)
			}
			if err := c.udp.Send(data); err != nil {
				return nil, err
			}
			timer.Reset(c.backoff.Calculate(c.config.AckTimeout, attempt))

		case m := <-ex.ackCh:
			if req.IsEmpty() {
				// Ping: RST or empty ACK both prove liveness.
				return m, nil
			}
			if m.Type == Reset {
				return nil, ErrReset
			}
			if !m.IsEmpty() {
				return m, nil
			}
			// Empty ACK: the response follows separately.
			retransmitC = nil

		case m := <-ex.respCh:
			return m, nil
		}
	}
}

func (c *Client) handleDatagram(rm *transport.ReceivedMessage) {
	m, err := Unmarshal(rm.Data)
	if err != nil {
		if c.log != nil {
			c.log.Debugf("dropping malformed datagram: %v", err)
		}
		return
	}

	if c.log != nil {
		c.log.Tracef("<- %s %s mid=%d", m.Type, m.Code, m.MessageID)
	}

	switch m.Type {
	case Acknowledgement, Reset:
		c.mu.Lock()
		c.resyncLocked(m)
		ex := c.byMID[m.MessageID]
		c.mu.Unlock()
		if ex != nil {
			deliver(ex.ackCh, m)
			return
		}
		if m.Type == Acknowledgement && !m.IsEmpty() {
			// Late piggybacked response for a retransmitted request.
			c.dispatchByToken(m)
		}

	case Confirmable, NonConfirmable:
		if m.IsEmpty() || IsRequest(m.Code) {
			// We serve no resources; a CON ping is answered with RST.
			if m.Type == Confirmable {
				c.sendEmpty(Reset, m.MessageID)
			}
			return
		}

		c.mu.Lock()
		c.resyncLocked(m)
		c.mu.Unlock()

		if !c.dispatchByToken(m) {
			if m.Type == Confirmable {
				c.sendEmpty(Reset, m.MessageID)
			}
			return
		}
		if m.Type == Confirmable {
			c.sendEmpty(Acknowledgement, m.MessageID)
		}
	}
}

// dispatchByToken routes a response to a pending exchange or an observation.
func (c *Client) dispatchByToken(m *Message) bool {
	key := string(m.Token)

	c.mu.Lock()
	ex := c.byToken[key]
	obs := c.observers[key]
	c.mu.Unlock()

	switch {
	case ex != nil:
		deliver(ex.respCh, m)
		return true
	case obs != nil:
		obs.notify(m)
		return true
	default:
		return false
	}
}

// resyncLocked adopts the peer's message ID numbering when it has drifted
// too far from ours.
func (c *Client) resyncLocked(m *Message) {
	drift := int(int16(m.MessageID - c.lastMID))
	if drift < 0 {
		drift = -drift
	}
	if drift > MaxMessageIDDrift {
		if c.log != nil {
			c.log.Debugf("message ID drift %d, resyncing to %d", drift, m.MessageID+1)
		}
		c.nextMID = m.MessageID + 1
		c.lastMID = m.MessageID
	}
}

func (c *Client) sendEmpty(t Type, mid uint16) {
	data, _ := (&Message{Type: t, Code: Empty, MessageID: mid}).Marshal()
	if err := c.udp.Send(data); err != nil && c.log != nil {
		c.log.Debugf("send %s failed: %v", t, err)
	}
}

func (c *Client) removeObserver(token []byte) {
	c.mu.Lock()
	delete(c.observers, string(token))
	c.mu.Unlock()
}

func deliver(ch chan *Message, m *Message) {
	select {
	case ch <- m:
	default:
	}
}

func newToken() ([]byte, error) {
	token := make([]byte, 4)
	if _, err := rand.Read(token); err != nil {
		return nil, err
	}
	return token, nil
}
