package message

import (
	"crypto/subtle"
	"fmt"

	"github.com/backkem/miio/pkg/crypto"
)

// PacketCodec encodes and decodes miio packets for one device.
// The counter passed to Encrypt is the header stamp.
type PacketCodec struct {
	token    crypto.Token
	cipher   *crypto.TokenCipher
	deviceID uint32
}

// NewPacketCodec creates a codec for the device identified by deviceID.
func NewPacketCodec(token crypto.Token, deviceID uint32) (*PacketCodec, error) {
	c, err := crypto.NewTokenCipher(token)
	if err != nil {
		return nil, err
	}
	return &PacketCodec{
		token:    token,
		cipher:   c,
		deviceID: deviceID,
	}, nil
}

// DeviceID returns the device ID written into outbound headers.
func (c *PacketCodec) DeviceID() uint32 {
	return c.deviceID
}

// Encrypt builds a complete packet around payload.
func (c *PacketCodec) Encrypt(payload []byte, stamp uint32) ([]byte, error) {
	ct := c.cipher.Encrypt(payload)
	total := HeaderSize + len(ct)
	if total > MaxPacketSize {
		return nil, fmt.Errorf("%w: %w", crypto.ErrEncrypt, ErrPacketTooLarge)
	}

	h := Header{
		Length:   uint16(total),
		DeviceID: c.deviceID,
		Stamp:    stamp,
	}
	packet := make([]byte, total)
	h.EncodeTo(packet)
	copy(packet[HeaderSize:], ct)

	sum := c.checksum(packet)
	copy(packet[16:32], sum[:])
	return packet, nil
}

// Decrypt verifies a packet and returns its plaintext payload.
func (c *PacketCodec) Decrypt(raw []byte) ([]byte, error) {
	_, payload, err := c.Open(raw)
	return payload, err
}

// Open verifies a packet and returns its header and plaintext payload.
// Header-only packets (hello replies) return a nil payload.
func (c *PacketCodec) Open(raw []byte) (Header, []byte, error) {
	h, err := DecodeHeader(raw)
	if err != nil {
		return h, nil, err
	}
	if len(raw) == HeaderSize {
		return h, nil, nil
	}

	want := c.checksum(raw)
	if subtle.ConstantTimeCompare(want[:], h.Checksum[:]) != 1 {
		return h, nil, ErrChecksum
	}

	payload, err := c.cipher.Decrypt(raw[HeaderSize:])
	if err != nil {
		return h, nil, err
	}
	return h, payload, nil
}

// checksum computes MD5 over the first 16 header bytes, the token and the
// encrypted payload.
func (c *PacketCodec) checksum(packet []byte) [crypto.MD5LenBytes]byte {
	return crypto.MD5(packet[:16], c.token[:], packet[HeaderSize:])
}

var _ crypto.Codec = (*PacketCodec)(nil)
