package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/backkem/miio/pkg/coap"
	"github.com/backkem/miio/pkg/crypto"
	"github.com/backkem/miio/pkg/message"
	"github.com/backkem/miio/pkg/observe"
	"github.com/pion/logging"
)

// Resources of the push protocol.
const (
	PathSync    = "/sys/dev/sync"
	PathStatus  = "/sys/dev/status"
	PathControl = "/sys/dev/control"
	PathInfo    = "/sys/dev/info"
)

// controlSuccess is the plaintext reply to an accepted control request.
var controlSuccess = []byte(`{"status":"success"}`)

type coapLinkConfig struct {
	Conn          net.PacketConn
	Remote        net.Addr
	Secret        []byte
	Counter       *message.SyncCounter
	Timeout       time.Duration
	Random        coap.RandomSource
	LoggerFactory logging.LoggerFactory
}

// coapLink speaks the encrypted CoAP push protocol. Status arrives as
// observe notifications; commands are encrypted desired-state documents
// posted to the control resource under a freshly synchronized counter.
type coapLink struct {
	client  *coap.Client
	cipher  *crypto.CounterCipher
	counter *message.SyncCounter
	log     logging.LeveledLogger
}

func newCoAPLink(config coapLinkConfig) (*coapLink, error) {
	cipher, err := crypto.NewCounterCipher(config.Secret)
	if err != nil {
		return nil, err
	}

	client, err := coap.NewClient(coap.ClientConfig{
		Conn:            config.Conn,
		RemoteAddr:      config.Remote,
		ExchangeTimeout: config.Timeout,
		Random:          config.Random,
		LoggerFactory:   config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}

	l := &coapLink{
		client:  client,
		cipher:  cipher,
		counter: config.Counter,
	}
	if config.LoggerFactory != nil {
		l.log = config.LoggerFactory.NewLogger("session")
	}
	return l, nil
}

// Sync implements message.Syncer. The device answers the offered counter
// with the one it expects.
func (l *coapLink) Sync(ctx context.Context, candidate uint32) (uint32, error) {
	resp, err := l.client.Post(ctx, PathSync, []byte(message.FormatCounter(candidate)))
	if err != nil {
		return 0, err
	}
	return message.ParseCounter(bytes.TrimSpace(resp.Payload))
}

// Ping implements link.
func (l *coapLink) Ping(ctx context.Context) error {
	return l.client.Ping(ctx)
}

// coapInfo is the plaintext document served on the info resource.
type coapInfo struct {
	Name      string `json:"name"`
	ModelID   string `json:"modelid"`
	SWVersion string `json:"swversion"`
	Type      string `json:"type"`
	DeviceID  string `json:"device_id"`
}

// Identify implements link. Push devices carry no network block.
func (l *coapLink) Identify(ctx context.Context) (*message.DeviceInfo, error) {
	resp, err := l.client.Get(ctx, PathInfo)
	if err != nil {
		return nil, err
	}

	var info coapInfo
	if err := json.Unmarshal(bytes.TrimSpace(resp.Payload), &info); err != nil {
		return nil, fmt.Errorf("%w: %w", message.ErrInvalidResponse, err)
	}
	if info.ModelID == "" {
		return nil, fmt.Errorf("%w: info without model", message.ErrInvalidResponse)
	}
	return &message.DeviceInfo{
		Model:           info.ModelID,
		FirmwareVersion: info.SWVersion,
		HardwareVersion: info.Type,
	}, nil
}

// Call implements link. The method names a key of the desired state and
// params must hold exactly its value.
func (l *coapLink) Call(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error) {
	var values []json.RawMessage
	if err := json.Unmarshal(params, &values); err != nil || len(values) != 1 {
		return nil, fmt.Errorf("%w: %s needs exactly one parameter", ErrUnsupportedCommand, method)
	}

	if _, err := l.counter.Synchronize(ctx, l); err != nil {
		return nil, err
	}
	n := l.counter.NextOutbound()

	desired := map[string]json.RawMessage{
		method:        values[0],
		"CommandType": json.RawMessage(`"app"`),
		"DeviceId":    json.RawMessage(`""`),
		"EnduserId":   json.RawMessage(`"1"`),
	}
	body, err := json.Marshal(map[string]any{"state": map[string]any{"desired": desired}})
	if err != nil {
		return nil, err
	}

	envelope, err := l.cipher.Encrypt(body, n)
	if err != nil {
		return nil, err
	}
	if l.log != nil {
		l.log.Tracef("-> control %s counter=%s", method, message.FormatCounter(n))
	}

	resp, err := l.client.Post(ctx, PathControl, envelope)
	if err != nil {
		return nil, err
	}
	reply := bytes.TrimSpace(resp.Payload)
	if !bytes.Equal(reply, controlSuccess) {
		return nil, fmt.Errorf("%w: control reply %q", ErrDeviceRejected, reply)
	}

	l.counter.Confirm(n)
	return json.RawMessage(reply), nil
}

// Register implements observe.Registrar on the status resource.
func (l *coapLink) Register(ctx context.Context, deliver func(payload []byte)) (observe.Relation, error) {
	handler := func(m *coap.Message) {
		if reported, ok := l.reported(m.Payload); ok {
			deliver(reported)
		}
	}

	obs, resp, err := l.client.Observe(ctx, PathStatus, handler)
	if err != nil {
		return nil, err
	}
	handler(resp)
	return &coapRelation{link: l, obs: obs}, nil
}

// reported decrypts a status push and extracts its reported state.
// The counter prefix is accepted only after the digest and the document
// shape check out; anything else is dropped.
func (l *coapLink) reported(payload []byte) (json.RawMessage, bool) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		return nil, false
	}

	var reported json.RawMessage
	_, err := l.counter.ObserveInbound(payload, func(raw []byte) error {
		plain, err := l.cipher.Decrypt(raw)
		if err != nil {
			return err
		}
		reported, err = extractReported(plain)
		return err
	})
	if err != nil {
		if l.log != nil {
			l.log.Debugf("dropping push: %v", err)
		}
		return nil, false
	}
	return reported, true
}

// extractReported returns the state.reported object of a status document.
func extractReported(doc []byte) (json.RawMessage, error) {
	var status struct {
		State struct {
			Reported json.RawMessage `json:"reported"`
		} `json:"state"`
	}
	if err := json.Unmarshal(doc, &status); err != nil {
		return nil, fmt.Errorf("%w: %w", message.ErrInvalidResponse, err)
	}
	if len(status.State.Reported) == 0 || status.State.Reported[0] != '{' {
		return nil, fmt.Errorf("%w: no reported state", message.ErrInvalidResponse)
	}
	return status.State.Reported, nil
}

// Close implements link.
func (l *coapLink) Close() error {
	return l.client.Close()
}

// coapRelation adapts a coap.Observation to observe.Relation.
type coapRelation struct {
	link *coapLink
	obs  *coap.Observation
}

func (r *coapRelation) Ping(ctx context.Context) error {
	return r.link.client.Ping(ctx)
}

// Reregister repeats the registration. Its response carries the current
// state, returned here rather than delivered as a push.
func (r *coapRelation) Reregister(ctx context.Context) ([]byte, error) {
	resp, err := r.obs.Reregister(ctx)
	if err != nil {
		return nil, err
	}
	reported, ok := r.link.reported(resp.Payload)
	if !ok {
		return nil, nil
	}
	return reported, nil
}

func (r *coapRelation) Cancel(ctx context.Context) error {
	return r.obs.Cancel(ctx)
}

var (
	_ link              = (*coapLink)(nil)
	_ link              = (*miioLink)(nil)
	_ observe.Registrar = (*coapLink)(nil)
	_ observe.Relation  = (*coapRelation)(nil)
)
