// Package transport provides the datagram transport a device session owns:
// a UDP socket with a read loop, and an in-memory Pipe for tests.
package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
)

// MaxDatagramSize is the largest datagram read or written.
const MaxDatagramSize = 65535

// UDP is a datagram transport bound to one remote device.
// It wraps a net.PacketConn and runs a read loop that calls the configured
// MessageHandler for each received datagram.
type UDP struct {
	conn    net.PacketConn
	remote  net.Addr
	handler MessageHandler
	closeCh chan struct{}
	wg      sync.WaitGroup
	log     logging.LeveledLogger

	mu      sync.RWMutex
	started bool
	closed  bool
}

// UDPConfig configures the UDP transport.
type UDPConfig struct {
	// Conn is an optional pre-existing PacketConn, e.g. a Pipe endpoint.
	// If nil, a new socket is created using ListenAddr.
	Conn net.PacketConn

	// ListenAddr is the local address to bind (default ":0").
	// Ignored if Conn is provided.
	ListenAddr string

	// RemoteAddr is the device address Send writes to.
	RemoteAddr net.Addr

	// MessageHandler is called for each received datagram.
	// Required.
	MessageHandler MessageHandler

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// NewUDP creates a new UDP transport with the given configuration.
func NewUDP(config UDPConfig) (*UDP, error) {
	if config.MessageHandler == nil {
		return nil, ErrNoHandler
	}

	u := &UDP{
		conn:    config.Conn,
		remote:  config.RemoteAddr,
		handler: config.MessageHandler,
		closeCh: make(chan struct{}),
	}

	if config.LoggerFactory != nil {
		u.log = config.LoggerFactory.NewLogger("transport-udp")
	}

	if u.conn == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0"
		}
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return nil, err
		}
		u.conn = conn
	}

	return u, nil
}

// Start begins the read loop.
func (u *UDP) Start() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	if u.started {
		u.mu.Unlock()
		return ErrAlreadyStarted
	}
	u.started = true
	u.mu.Unlock()

	if u.log != nil {
		u.log.Debugf("starting UDP transport on %s -> %v", u.conn.LocalAddr(), u.remote)
	}

	u.wg.Add(1)
	go u.readLoop()

	return nil
}

// Stop closes the socket and waits for the read loop to exit.
func (u *UDP) Stop() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	u.closed = true
	u.mu.Unlock()

	if u.log != nil {
		u.log.Debug("stopping UDP transport")
	}

	close(u.closeCh)

	// Unblock the pending read.
	u.conn.SetReadDeadline(time.Now())
	u.conn.Close()
	u.wg.Wait()

	return nil
}

// Send writes data to the configured remote address.
func (u *UDP) Send(data []byte) error {
	return u.SendTo(data, u.remote)
}

// SendTo writes data to addr. Used for broadcast discovery before the
// device address is known.
func (u *UDP) SendTo(data []byte, addr net.Addr) error {
	u.mu.RLock()
	closed := u.closed
	u.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	if addr == nil {
		return ErrInvalidAddress
	}
	if len(data) > MaxDatagramSize {
		return ErrMessageTooLarge
	}

	if u.log != nil {
		u.log.Tracef("sending %d bytes to %v", len(data), addr)
	}

	if _, err := u.conn.WriteTo(data, addr); err != nil {
		if u.log != nil {
			u.log.Warnf("send to %v failed: %v", addr, err)
		}
		return err
	}
	return nil
}

// LocalAddr returns the local socket address.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// RemoteAddr returns the device address.
func (u *UDP) RemoteAddr() net.Addr {
	return u.remote
}

func (u *UDP) readLoop() {
	defer u.wg.Done()

	buf := make([]byte, MaxDatagramSize)

	for {
		select {
		case <-u.closeCh:
			return
		default:
		}

		n, addr, err := u.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-u.closeCh:
				return
			default:
				if u.log != nil {
					u.log.Warnf("UDP read error: %v", err)
				}
				// A closed conn never recovers.
				if isClosedErr(err) {
					return
				}
				continue
			}
		}
		if n == 0 {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		if u.log != nil {
			u.log.Tracef("received %d bytes from %v", n, addr)
		}

		u.handler(&ReceivedMessage{Data: data, From: addr})
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF)
}
