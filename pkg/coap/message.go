package coap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/plgd-dev/go-coap/v3/message"
	"github.com/plgd-dev/go-coap/v3/message/codes"
	"github.com/plgd-dev/go-coap/v3/udp/coder"
)

// Version is the only CoAP version (RFC 7252 Section 3).
const Version = 1

// MaxTokenSize is the longest token a message may carry.
const MaxTokenSize = 8

// maxOptions bounds the options decoded from one datagram.
const maxOptions = 16

// Type is the message type.
type Type = message.Type

const (
	Confirmable     = message.Confirmable
	NonConfirmable  = message.NonConfirmable
	Acknowledgement = message.Acknowledgement
	Reset           = message.Reset
)

// Code is a request method or response code, class in the top 3 bits.
type Code = codes.Code

const (
	Empty  = codes.Empty
	GET    = codes.GET
	POST   = codes.POST
	PUT    = codes.PUT
	DELETE = codes.DELETE

	Created = codes.Created
	Deleted = codes.Deleted
	Valid   = codes.Valid
	Changed = codes.Changed
	Content = codes.Content

	BadRequest          = codes.BadRequest
	Unauthorized        = codes.Unauthorized
	NotFound            = codes.NotFound
	MethodNotAllowed    = codes.MethodNotAllowed
	InternalServerError = codes.InternalServerError
	ServiceUnavailable  = codes.ServiceUnavailable
)

// CodeClass returns the class of c (0 request, 2 success, 4 client error,
// 5 server error).
func CodeClass(c Code) uint8 { return uint8(c >> 5) }

// IsRequest reports whether c is a request method.
func IsRequest(c Code) bool { return c != Empty && CodeClass(c) == 0 }

// IsSuccess reports whether c is a 2.xx response.
func IsSuccess(c Code) bool { return CodeClass(c) == 2 }

// Option and OptionID are the library's option types.
type (
	Option   = message.Option
	OptionID = message.OptionID
)

const (
	OptionObserve  = message.Observe
	OptionURIPath  = message.URIPath
	OptionURIQuery = message.URIQuery
)

// Observe option values for requests (RFC 7641 Section 2).
const (
	ObserveRegister   uint32 = 0
	ObserveDeregister uint32 = 1
)

// Message is a CoAP message. It keeps the 16-bit message ID the client
// tracks and converts to the library representation on the wire.
type Message struct {
	Type      Type
	Code      Code
	MessageID uint16
	Token     []byte
	Options   message.Options
	Payload   []byte
}

// IsEmpty reports whether the message carries no code (ping, empty ACK, RST).
func (m *Message) IsEmpty() bool {
	return m.Code == Empty
}

// SetPath replaces the Uri-Path options with the segments of path.
func (m *Message) SetPath(path string) {
	m.Options = m.Options.Remove(OptionURIPath)
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg == "" {
			continue
		}
		m.Options = m.Options.Add(Option{ID: OptionURIPath, Value: []byte(seg)})
	}
}

// Path returns the Uri-Path as "/a/b".
func (m *Message) Path() string {
	p, err := m.Options.Path()
	if err != nil || p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

// SetObserve sets the Observe option.
func (m *Message) SetObserve(v uint32) {
	opts, _, err := m.Options.SetObserve(make([]byte, 4), v)
	if err == nil {
		m.Options = opts
	}
}

// Observe returns the Observe option value, if present.
func (m *Message) Observe() (uint32, bool) {
	v, err := m.Options.Observe()
	if err != nil {
		return 0, false
	}
	return v, true
}

func (m *Message) wire() message.Message {
	opts := make(message.Options, len(m.Options))
	copy(opts, m.Options)
	sort.SliceStable(opts, func(i, j int) bool { return opts[i].ID < opts[j].ID })

	return message.Message{
		Type:      m.Type,
		Code:      m.Code,
		MessageID: int32(m.MessageID),
		Token:     message.Token(m.Token),
		Options:   opts,
		Payload:   m.Payload,
	}
}

// Marshal encodes the message with the UDP coder.
func (m *Message) Marshal() ([]byte, error) {
	if len(m.Token) > MaxTokenSize {
		return nil, ErrTokenTooLong
	}

	msg := m.wire()
	size, err := coder.DefaultCoder.Size(msg)
	if err != nil {
		return nil, fmt.Errorf("coap: sizing message: %w", err)
	}
	buf := make([]byte, size)
	n, err := coder.DefaultCoder.Encode(msg, buf)
	if err != nil {
		return nil, fmt.Errorf("coap: encoding message: %w", err)
	}
	return buf[:n], nil
}

// Unmarshal decodes a message. The header is checked here so callers get
// stable errors; options and payload are left to the UDP coder.
func Unmarshal(data []byte) (*Message, error) {
	if len(data) < 4 {
		return nil, ErrMessageTooShort
	}
	if data[0]>>6 != Version {
		return nil, ErrInvalidVersion
	}
	tkl := int(data[0] & 0x0F)
	if tkl > MaxTokenSize {
		return nil, ErrTokenTooLong
	}
	if len(data) < 4+tkl {
		return nil, ErrMessageTooShort
	}

	// The decoded message aliases its input.
	data = append([]byte(nil), data...)
	msg := message.Message{Options: make(message.Options, 0, maxOptions)}
	if _, err := coder.DefaultCoder.Decode(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOption, err)
	}

	m := &Message{
		Type:      msg.Type,
		Code:      msg.Code,
		MessageID: uint16(msg.MessageID),
		Options:   msg.Options,
	}
	if len(msg.Token) > 0 {
		m.Token = []byte(msg.Token)
	}
	if len(msg.Payload) > 0 {
		m.Payload = msg.Payload
	}
	return m, nil
}
