package crypto

import (
	"crypto/subtle"
	"encoding/hex"
	"fmt"
)

// Codec encrypts outbound payloads and decrypts inbound messages for one
// device session. The counter is embedded in the wire form by the
// implementation (header stamp or plaintext prefix).
type Codec interface {
	Encrypt(payload []byte, counter uint32) ([]byte, error)
	Decrypt(raw []byte) ([]byte, error)
}

// TokenCipher is the miio payload cipher.
//
//	key = MD5(token)
//	iv  = MD5(key || token)
type TokenCipher struct {
	cbc *AESCBC
}

// NewTokenCipher derives the miio key and IV from token.
func NewTokenCipher(token Token) (*TokenCipher, error) {
	key := MD5(token[:])
	iv := MD5(key[:], token[:])

	cbc, err := NewAESCBC(key[:], iv[:])
	if err != nil {
		return nil, err
	}
	return &TokenCipher{cbc: cbc}, nil
}

// Encrypt encrypts a plaintext payload.
func (c *TokenCipher) Encrypt(plaintext []byte) []byte {
	return c.cbc.Encrypt(plaintext)
}

// Decrypt decrypts a ciphertext payload.
func (c *TokenCipher) Decrypt(ciphertext []byte) ([]byte, error) {
	plain, err := c.cbc.Decrypt(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	return plain, nil
}

// Counter envelope layout: 8 hex digits of counter, hex ciphertext,
// 64 hex digits of SHA-256 over the preceding text.
const (
	CounterPrefixLen = 8
	digestHexLen     = SHA256LenBytes * 2
)

// CounterCipher is the cipher for the encrypted CoAP push protocol.
//
// Each message carries its counter as a plaintext prefix. The AES key and
// IV are the upper-case hex halves of MD5(secret || prefix), so every
// counter value has its own key.
type CounterCipher struct {
	secret []byte
}

// NewCounterCipher creates a counter cipher keyed by secret.
func NewCounterCipher(secret []byte) (*CounterCipher, error) {
	if len(secret) == 0 {
		return nil, ErrInvalidKeySize
	}
	return &CounterCipher{secret: append([]byte(nil), secret...)}, nil
}

func (c *CounterCipher) cbcFor(prefix string) (*AESCBC, error) {
	kv := MD5(c.secret, []byte(prefix))
	s := UpperHex(kv[:])
	half := len(s) / 2
	return NewAESCBC([]byte(s[:half]), []byte(s[half:]))
}

// Encrypt builds the envelope for payload under counter.
func (c *CounterCipher) Encrypt(payload []byte, counter uint32) ([]byte, error) {
	prefix := fmt.Sprintf("%08X", counter)

	cbc, err := c.cbcFor(prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncrypt, err)
	}

	body := prefix + UpperHex(cbc.Encrypt(payload))
	digest := SHA256([]byte(body))

	return []byte(body + UpperHex(digest[:])), nil
}

// Decrypt verifies the digest of an envelope and returns its plaintext.
func (c *CounterCipher) Decrypt(raw []byte) ([]byte, error) {
	if len(raw) < CounterPrefixLen+AESBlockSize*2+digestHexLen {
		return nil, ErrTruncated
	}

	body := raw[:len(raw)-digestHexLen]
	want := SHA256(body)
	got, err := hex.DecodeString(string(raw[len(body):]))
	if err != nil || subtle.ConstantTimeCompare(got, want[:]) != 1 {
		return nil, ErrDigestMismatch
	}

	ct, err := hex.DecodeString(string(body[CounterPrefixLen:]))
	if err != nil {
		return nil, fmt.Errorf("%w: ciphertext not hex", ErrDecrypt)
	}

	cbc, err := c.cbcFor(string(body[:CounterPrefixLen]))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	plain, err := cbc.Decrypt(ct)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecrypt, err)
	}
	return plain, nil
}

var _ Codec = (*CounterCipher)(nil)
