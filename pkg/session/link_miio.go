package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/backkem/miio/pkg/crypto"
	"github.com/backkem/miio/pkg/message"
	"github.com/backkem/miio/pkg/transport"
	"github.com/pion/logging"
)

// inboxSize bounds datagrams queued between the read loop and a waiting
// exchange. Excess datagrams are dropped.
const inboxSize = 16

type miioLinkConfig struct {
	Conn          net.PacketConn
	Remote        net.Addr
	Token         crypto.Token
	DeviceID      uint32
	Counter       *message.SyncCounter
	LoggerFactory logging.LoggerFactory
}

// miioLink speaks the point-to-point miio protocol. Each command is one
// encrypted datagram answered by one encrypted datagram carrying the same
// id. The header stamp follows the device uptime learned from hello.
type miioLink struct {
	udp     *transport.UDP
	token   crypto.Token
	counter *message.SyncCounter
	inbox   chan []byte
	log     logging.LeveledLogger

	mu         sync.Mutex
	codec      *message.PacketCodec
	helloStamp uint32
	helloAt    time.Time
	lastSent   uint32
	sent       bool
}

func newMiioLink(config miioLinkConfig) (*miioLink, error) {
	codec, err := message.NewPacketCodec(config.Token, config.DeviceID)
	if err != nil {
		return nil, err
	}

	l := &miioLink{
		token:   config.Token,
		counter: config.Counter,
		codec:   codec,
		inbox:   make(chan []byte, inboxSize),
	}
	if config.LoggerFactory != nil {
		l.log = config.LoggerFactory.NewLogger("session")
	}

	udp, err := transport.NewUDP(transport.UDPConfig{
		Conn:           config.Conn,
		RemoteAddr:     config.Remote,
		MessageHandler: l.handleDatagram,
		LoggerFactory:  config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	if err := udp.Start(); err != nil {
		return nil, err
	}
	l.udp = udp
	return l, nil
}

func (l *miioLink) handleDatagram(rm *transport.ReceivedMessage) {
	select {
	case l.inbox <- rm.Data:
	default:
		if l.log != nil {
			l.log.Debugf("inbox full, dropping %d bytes", len(rm.Data))
		}
	}
}

// drain discards datagrams left over from earlier exchanges.
func (l *miioLink) drain() {
	for {
		select {
		case <-l.inbox:
		default:
			return
		}
	}
}

// hello sends the discovery packet and waits for a header-only reply.
func (l *miioLink) hello(ctx context.Context) (message.Header, error) {
	l.drain()
	if err := l.udp.Send(message.HelloPacket()); err != nil {
		return message.Header{}, err
	}

	for {
		select {
		case <-ctx.Done():
			return message.Header{}, ctx.Err()
		case raw := <-l.inbox:
			if !message.IsHelloReply(raw) {
				continue
			}
			h, err := message.DecodeHeader(raw)
			if err != nil {
				continue
			}

			l.mu.Lock()
			l.helloStamp = h.Stamp
			l.helloAt = time.Now()
			l.mu.Unlock()
			return h, nil
		}
	}
}

// Discover learns the device id from a hello reply and rekeys the codec
// with it.
func (l *miioLink) Discover(ctx context.Context) (uint32, error) {
	h, err := l.hello(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return 0, ErrNoDeviceID
		}
		return 0, err
	}
	if h.DeviceID == 0 {
		return 0, ErrNoDeviceID
	}

	codec, err := message.NewPacketCodec(l.token, h.DeviceID)
	if err != nil {
		return 0, err
	}
	l.mu.Lock()
	l.codec = codec
	l.mu.Unlock()

	if l.log != nil {
		l.log.Infof("discovered device id %08x", h.DeviceID)
	}
	return h.DeviceID, nil
}

// Ping implements link.
func (l *miioLink) Ping(ctx context.Context) error {
	_, err := l.hello(ctx)
	return err
}

// Sync implements message.Syncer. The message id needs no agreement with
// the device; the exchange refreshes the stamp and the candidate stands.
func (l *miioLink) Sync(ctx context.Context, candidate uint32) (uint32, error) {
	if _, err := l.hello(ctx); err != nil {
		return 0, err
	}
	return candidate, nil
}

// stamp estimates the device uptime from the last hello reply.
func (l *miioLink) stamp() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.helloAt.IsZero() {
		return l.helloStamp
	}
	return l.helloStamp + uint32(time.Since(l.helloAt)/time.Second)
}

// Identify implements link.
func (l *miioLink) Identify(ctx context.Context) (*message.DeviceInfo, error) {
	result, err := l.Call(ctx, message.MethodInfo, nil)
	if err != nil {
		return nil, err
	}
	return message.DecodeDeviceInfo(result)
}

// nextID returns the id for the next request. It follows the session
// counter but never repeats an id already sent on this link, so a late
// reply to a lost request cannot match a newer one. The counter itself
// only moves when a reply confirms an id.
func (l *miioLink) nextID() uint32 {
	id := l.counter.NextOutbound()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sent && int32(id-l.lastSent) <= 0 {
		id = l.lastSent + 1
	}
	l.lastSent = id
	l.sent = true
	return id
}

// Call implements link.
func (l *miioLink) Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	id := l.nextID()
	req := message.Request{ID: id, Method: method, Params: params}
	payload, err := req.Encode()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	codec := l.codec
	l.mu.Unlock()

	packet, err := codec.Encrypt(payload, l.stamp())
	if err != nil {
		return nil, err
	}

	l.drain()
	if err := l.udp.Send(packet); err != nil {
		return nil, err
	}
	if l.log != nil {
		l.log.Tracef("-> %s id=%d", method, id)
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case raw := <-l.inbox:
			if message.IsHelloReply(raw) {
				continue
			}

			_, plain, err := codec.Open(raw)
			if err != nil {
				l.counter.ParseFailed()
				return nil, err
			}
			resp, err := message.DecodeResponse(plain)
			if err != nil {
				l.counter.ParseFailed()
				return nil, err
			}
			if resp.ID != id {
				if l.log != nil {
					l.log.Debugf("skipping stale response id=%d, want %d", resp.ID, id)
				}
				continue
			}

			l.counter.Confirm(id)
			if resp.Error != nil {
				return nil, fmt.Errorf("%w: %w", ErrDeviceRejected, resp.Error)
			}
			return resp.Result, nil
		}
	}
}

// Close implements link.
func (l *miioLink) Close() error {
	return l.udp.Stop()
}
