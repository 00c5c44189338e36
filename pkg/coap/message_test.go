package coap

import (
	"bytes"
	"errors"
	"testing"
)

func TestMessageMarshal(t *testing.T) {
	m := &Message{
		Type:      Confirmable,
		Code:      GET,
		MessageID: 0x1234,
		Token:     []byte{0xAA},
	}
	m.SetPath("/sys/dev/status")
	m.SetObserve(ObserveRegister)

	got, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	want := []byte{
		0x41, 0x01, 0x12, 0x34, 0xAA,
		0x60,
		0x53, 's', 'y', 's',
		0x03, 'd', 'e', 'v',
		0x06, 's', 't', 'a', 't', 'u', 's',
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Marshal() = %x, want %x", got, want)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	m := &Message{
		Type:      NonConfirmable,
		Code:      Content,
		MessageID: 7,
		Token:     []byte{1, 2, 3, 4},
		Payload:   []byte(`{"state":{}}`),
	}
	m.SetPath("sys/dev/control")
	m.Options = m.Options.Add(Option{ID: OptionURIQuery, Value: bytes.Repeat([]byte{'q'}, 20)})

	data, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if got.Type != m.Type || got.Code != m.Code || got.MessageID != m.MessageID {
		t.Errorf("header = %s %s %d", got.Type, got.Code, got.MessageID)
	}
	if !bytes.Equal(got.Token, m.Token) {
		t.Errorf("Token = %x", got.Token)
	}
	if got.Path() != "/sys/dev/control" {
		t.Errorf("Path() = %q", got.Path())
	}
	if !bytes.Equal(got.Payload, m.Payload) {
		t.Errorf("Payload = %q", got.Payload)
	}

	var query *Option
	for i := range got.Options {
		if got.Options[i].ID == OptionURIQuery {
			query = &got.Options[i]
		}
	}
	if query == nil || len(query.Value) != 20 {
		t.Errorf("extended-length option not decoded: %+v", got.Options)
	}
}

func TestMessageObserve(t *testing.T) {
	m := &Message{}
	if _, ok := m.Observe(); ok {
		t.Error("Observe() present on empty message")
	}

	m.SetObserve(0x012345)
	v, ok := m.Observe()
	if !ok || v != 0x012345 {
		t.Errorf("Observe() = %x, %v", v, ok)
	}

	m.SetObserve(ObserveDeregister)
	if v, _ := m.Observe(); v != ObserveDeregister {
		t.Errorf("Observe() after replace = %d", v)
	}
}

func TestUnmarshalErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short", []byte{0x40, 0x01}, ErrMessageTooShort},
		{"version", []byte{0x80, 0x01, 0x00, 0x01}, ErrInvalidVersion},
		{"token length", []byte{0x49, 0x01, 0x00, 0x01}, ErrTokenTooLong},
		{"truncated token", []byte{0x42, 0x01, 0x00, 0x01, 0xAA}, ErrMessageTooShort},
		{"reserved nibble", []byte{0x40, 0x01, 0x00, 0x01, 0xF1, 0x00}, ErrInvalidOption},
		{"truncated value", []byte{0x40, 0x01, 0x00, 0x01, 0xB4, 's'}, ErrInvalidOption},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Unmarshal(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("Unmarshal() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCodeClass(t *testing.T) {
	tests := []struct {
		code    Code
		class   uint8
		request bool
		success bool
	}{
		{Empty, 0, false, false},
		{GET, 0, true, false},
		{POST, 0, true, false},
		{Content, 2, false, true},
		{Changed, 2, false, true},
		{NotFound, 4, false, false},
		{InternalServerError, 5, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			if got := CodeClass(tt.code); got != tt.class {
				t.Errorf("CodeClass() = %d, want %d", got, tt.class)
			}
			if got := IsRequest(tt.code); got != tt.request {
				t.Errorf("IsRequest() = %v, want %v", got, tt.request)
			}
			if got := IsSuccess(tt.code); got != tt.success {
				t.Errorf("IsSuccess() = %v, want %v", got, tt.success)
			}
		})
	}

	if GET.String() != "GET" || POST.String() != "POST" {
		t.Errorf("method names = %s, %s", GET, POST)
	}
}
