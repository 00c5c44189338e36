package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/backkem/miio/pkg/coap"
	"github.com/backkem/miio/pkg/crypto"
	"github.com/backkem/miio/pkg/message"
	"github.com/backkem/miio/pkg/transport"
)

const testToken = "00112233445566778899aabbccddeeff"

// fakeDevice serves one or more pipes, one per dial. serveOne handles a
// single datagram and returns the replies.
type fakeDevice struct {
	serveOne func(data []byte) [][]byte

	silent atomic.Bool

	mu    sync.Mutex
	conns []*transport.PipePacketConn
	stop  bool
	wg    sync.WaitGroup
}

// dialer returns a Config.Dial that opens a fresh pipe to the device on
// every call.
func (d *fakeDevice) dialer(t *testing.T) DialFunc {
	return func(ctx context.Context) (net.PacketConn, net.Addr, error) {
		p := transport.NewPipe()
		t.Cleanup(func() { p.Close() })
		d.attach(p.Device())
		return p.Client(), p.Client().PeerAddr(), nil
	}
}

func (d *fakeDevice) attach(conn *transport.PipePacketConn) {
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		buf := make([]byte, transport.MaxDatagramSize)
		for {
			n, _, err := conn.ReadFrom(buf)
			if err != nil {
				d.mu.Lock()
				stop := d.stop
				d.mu.Unlock()
				var ne net.Error
				if stop || !errors.As(err, &ne) || !ne.Timeout() {
					return
				}
				continue
			}
			if d.silent.Load() {
				continue
			}
			data := append([]byte(nil), buf[:n]...)
			for _, reply := range d.serveOne(data) {
				conn.WriteTo(reply, conn.PeerAddr())
			}
		}
	}()
}

// send writes an unsolicited datagram on the latest pipe.
func (d *fakeDevice) send(data []byte) {
	d.mu.Lock()
	conn := d.conns[len(d.conns)-1]
	d.mu.Unlock()
	conn.WriteTo(data, conn.PeerAddr())
}

func (d *fakeDevice) close() {
	d.mu.Lock()
	d.stop = true
	conns := d.conns
	d.mu.Unlock()
	for _, c := range conns {
		c.SetReadDeadline(time.Now())
	}
	d.wg.Wait()
}

// fakeMiio is a polled device answering hello and encrypted commands.
type fakeMiio struct {
	fakeDevice

	id    uint32
	stamp uint32
	codec *message.PacketCodec

	mu       sync.Mutex
	props    map[string]any
	info     map[string]any
	requests []message.Request
	hellos   int
	// reply overrides the encoded response to a request.
	reply func(req message.Request) []byte
	// replyCodec overrides the codec replies are encrypted with.
	replyCodec *message.PacketCodec
}

func newFakeMiio(t *testing.T, id uint32) *fakeMiio {
	t.Helper()
	codec, err := message.NewPacketCodec(crypto.MustParseToken(testToken), id)
	if err != nil {
		t.Fatalf("NewPacketCodec() error = %v", err)
	}
	d := &fakeMiio{
		id:    id,
		stamp: 1000,
		codec: codec,
		props: map[string]any{
			"power":          "on",
			"mode":           "auto",
			"aqi":            12,
			"led":            "off",
			"buzzer":         "on",
			"filter1_life":   80,
			"temp_dec":       215,
			"humidity":       40,
			"favorite_level": 5,
			"child_lock":     "off",
		},
		info: map[string]any{
			"model":  "zhimi.airpurifier.m1",
			"fw_ver": "1.2.4_59",
			"hw_ver": "MW300",
			"ap":     map[string]any{"ssid": "home", "bssid": "AA:BB:CC:DD:EE:FF", "rssi": -51},
			"life":   3600,
		},
	}
	d.serveOne = d.handle
	t.Cleanup(d.close)
	return d
}

func (d *fakeMiio) handle(data []byte) [][]byte {
	if bytes.Equal(data, message.HelloPacket()) {
		d.mu.Lock()
		d.hellos++
		d.mu.Unlock()
		h := message.Header{Length: message.HeaderSize, DeviceID: d.id, Stamp: d.stamp}
		return [][]byte{h.Encode()}
	}

	_, plain, err := d.codec.Open(data)
	if err != nil {
		return nil
	}
	var req message.Request
	if err := json.Unmarshal(bytes.TrimRight(plain, "\x00"), &req); err != nil {
		return nil
	}

	d.mu.Lock()
	d.requests = append(d.requests, req)
	override := d.reply
	codec := d.codec
	if d.replyCodec != nil {
		codec = d.replyCodec
	}
	d.mu.Unlock()

	var payload []byte
	if override != nil {
		payload = override(req)
	} else {
		payload = d.respond(req)
	}
	if payload == nil {
		return nil
	}
	packet, err := codec.Encrypt(payload, d.stamp)
	if err != nil {
		return nil
	}
	return [][]byte{packet}
}

func (d *fakeMiio) respond(req message.Request) []byte {
	resp := map[string]any{"id": req.ID}

	d.mu.Lock()
	defer d.mu.Unlock()

	switch req.Method {
	case message.MethodInfo:
		resp["result"] = d.info
	case message.MethodGetProperty:
		var names []string
		json.Unmarshal(req.Params, &names)
		values := make([]any, len(names))
		for i, n := range names {
			values[i] = d.props[n]
		}
		resp["result"] = values
	case "set_power":
		var params []string
		json.Unmarshal(req.Params, &params)
		if len(params) == 1 {
			d.props["power"] = params[0]
		}
		resp["result"] = []string{"ok"}
	case "set_mode":
		resp["result"] = []string{"ok"}
	default:
		resp["error"] = map[string]any{"code": -5001, "message": "command error"}
	}

	data, _ := json.Marshal(resp)
	return data
}

func (d *fakeMiio) received() []message.Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]message.Request(nil), d.requests...)
}

func (d *fakeMiio) methods() []string {
	var out []string
	for _, r := range d.received() {
		out = append(out, r.Method)
	}
	return out
}

// fakeCoAP is a push device serving the sync, info, control and status
// resources.
type fakeCoAP struct {
	fakeDevice

	cipher *crypto.CounterCipher

	mu       sync.Mutex
	counter  uint32
	mid      uint16
	reported map[string]any
	desired  []map[string]any
	observer []byte
	paths    []string
	control  string
}

func newFakeCoAP(t *testing.T) *fakeCoAP {
	t.Helper()
	cipher, err := crypto.NewCounterCipher(crypto.MustParseToken(testToken).Bytes())
	if err != nil {
		t.Fatalf("NewCounterCipher() error = %v", err)
	}
	d := &fakeCoAP{
		cipher:  cipher,
		counter: 0x1000,
		mid:     500,
		reported: map[string]any{
			"pwr":  "1",
			"mode": "P",
			"om":   "2",
			"aqil": 100,
			"cl":   false,
			"pm25": 7,
			"iaql": 1,
			"rh":   45,
			"temp": 22,
		},
		control: `{"status":"success"}`,
	}
	d.serveOne = d.handle
	t.Cleanup(d.close)
	return d
}

func (d *fakeCoAP) handle(data []byte) [][]byte {
	req, err := coap.Unmarshal(data)
	if err != nil {
		return nil
	}

	if req.IsEmpty() {
		if req.Type == coap.Confirmable {
			return [][]byte{d.marshal(&coap.Message{Type: coap.Reset, MessageID: req.MessageID})}
		}
		return nil
	}
	if !coap.IsRequest(req.Code) {
		return nil
	}

	d.mu.Lock()
	d.paths = append(d.paths, req.Code.String()+" "+req.Path())
	d.mu.Unlock()

	ack := &coap.Message{Type: coap.Acknowledgement, Code: coap.Content, MessageID: req.MessageID, Token: req.Token}

	switch req.Path() {
	case PathSync:
		d.mu.Lock()
		ack.Payload = []byte(message.FormatCounter(d.counter))
		d.mu.Unlock()

	case PathInfo:
		ack.Payload = []byte(`{"name":"Living room","modelid":"AC2729/10","swversion":"0.2.1","type":"AC2729","device_id":"abc"}`)

	case PathControl:
		ack.Code = coap.Changed
		plain, err := d.cipher.Decrypt(req.Payload)
		if err != nil {
			ack.Payload = []byte(`{"status":"failed"}`)
			break
		}
		var body struct {
			State struct {
				Desired map[string]any `json:"desired"`
			} `json:"state"`
		}
		json.Unmarshal(plain, &body)
		d.mu.Lock()
		d.desired = append(d.desired, body.State.Desired)
		for k, v := range body.State.Desired {
			if _, ok := d.reported[k]; ok {
				d.reported[k] = v
			}
		}
		ack.Payload = []byte(d.control)
		d.mu.Unlock()

	case PathStatus:
		obs, ok := req.Observe()
		d.mu.Lock()
		if ok && obs == coap.ObserveRegister {
			d.observer = req.Token
		} else if ok {
			d.observer = nil
		}
		d.mu.Unlock()
		if ok && obs == coap.ObserveRegister {
			ack.SetObserve(1)
			ack.Payload = d.status()
		}

	default:
		ack.Code = coap.NotFound
	}
	return [][]byte{d.marshal(ack)}
}

// status encrypts the current reported state under the next counter.
func (d *fakeCoAP) status() []byte {
	d.mu.Lock()
	d.counter++
	n := d.counter
	doc, _ := json.Marshal(map[string]any{"state": map[string]any{"reported": d.reported}})
	d.mu.Unlock()

	envelope, err := d.cipher.Encrypt(doc, n)
	if err != nil {
		panic(err)
	}
	return envelope
}

// push sends a notification to the registered observer.
func (d *fakeCoAP) push(t *testing.T, changes map[string]any) {
	t.Helper()
	d.mu.Lock()
	for k, v := range changes {
		d.reported[k] = v
	}
	d.mu.Unlock()
	d.pushRaw(t, d.status())
}

// pushRaw sends a notification carrying payload as is.
func (d *fakeCoAP) pushRaw(t *testing.T, payload []byte) {
	t.Helper()
	d.mu.Lock()
	token := d.observer
	d.mid++
	mid := d.mid
	d.mu.Unlock()
	if token == nil {
		t.Fatal("push without observer")
	}

	m := &coap.Message{Type: coap.NonConfirmable, Code: coap.Content, MessageID: mid, Token: token}
	m.SetObserve(2)
	m.Payload = payload
	d.send(d.marshal(m))
}

func (d *fakeCoAP) marshal(m *coap.Message) []byte {
	data, err := m.Marshal()
	if err != nil {
		panic(err)
	}
	return data
}

func (d *fakeCoAP) desiredStates() []map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]map[string]any(nil), d.desired...)
}

func (d *fakeCoAP) requestPaths() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.paths...)
}

type fixedRandom float64

func (r fixedRandom) Float64() float64 { return float64(r) }

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
