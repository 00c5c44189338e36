package message

import (
	"bytes"
	"encoding/binary"
)

// Header is the 32-byte miio packet header. All fields are big-endian.
//
//	0      2      4          8          12     16                32
//	+------+------+----------+----------+------+------------------+
//	|magic |length| unknown  | deviceID |stamp | checksum (MD5)   |
//	+------+------+----------+----------+------+------------------+
type Header struct {
	// Length is the total packet length including the header.
	Length uint16

	// Unknown is zero for normal packets and 0xFFFFFFFF for hello.
	Unknown uint32

	// DeviceID identifies the device. Zero until discovered.
	DeviceID uint32

	// Stamp is the device uptime in seconds.
	Stamp uint32

	// Checksum is MD5 over the header (with the token in this field) and
	// the encrypted payload. A hello reply may carry the device token here.
	Checksum [16]byte
}

// Encode serializes the header.
func (h *Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	h.EncodeTo(buf)
	return buf
}

// EncodeTo serializes the header into buf, which must be at least
// HeaderSize bytes long.
func (h *Header) EncodeTo(buf []byte) {
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	binary.BigEndian.PutUint16(buf[2:4], h.Length)
	binary.BigEndian.PutUint32(buf[4:8], h.Unknown)
	binary.BigEndian.PutUint32(buf[8:12], h.DeviceID)
	binary.BigEndian.PutUint32(buf[12:16], h.Stamp)
	copy(buf[16:32], h.Checksum[:])
}

// DecodeHeader parses a header from the start of data and checks the magic
// and length fields against len(data).
func DecodeHeader(data []byte) (Header, error) {
	var h Header
	if len(data) < HeaderSize {
		return h, ErrPacketTooShort
	}
	if binary.BigEndian.Uint16(data[0:2]) != Magic {
		return h, ErrInvalidMagic
	}

	h.Length = binary.BigEndian.Uint16(data[2:4])
	h.Unknown = binary.BigEndian.Uint32(data[4:8])
	h.DeviceID = binary.BigEndian.Uint32(data[8:12])
	h.Stamp = binary.BigEndian.Uint32(data[12:16])
	copy(h.Checksum[:], data[16:32])

	if int(h.Length) != len(data) {
		return h, ErrLengthMismatch
	}
	return h, nil
}

// HelloPacket returns the discovery packet: magic, length 32 and 28 bytes
// of 0xFF. Devices answer with their ID and stamp.
func HelloPacket() []byte {
	buf := bytes.Repeat([]byte{0xFF}, HeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	binary.BigEndian.PutUint16(buf[2:4], HeaderSize)
	return buf
}

// IsHelloReply reports whether data is a header-only packet, the shape of
// a hello reply.
func IsHelloReply(data []byte) bool {
	return len(data) == HeaderSize && binary.BigEndian.Uint16(data[0:2]) == Magic
}

// HelloToken returns the token a device leaks in its hello reply checksum
// field, or false when the field holds a placeholder.
func (h *Header) HelloToken() ([16]byte, bool) {
	zero := [16]byte{}
	ones := [16]byte{}
	for i := range ones {
		ones[i] = 0xFF
	}
	if h.Checksum == zero || h.Checksum == ones {
		return zero, false
	}
	return h.Checksum, true
}
