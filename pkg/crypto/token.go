package crypto

import (
	"encoding/hex"
)

// TokenSize is the size of a device token in bytes.
const TokenSize = 16

// Token is the per-device shared secret.
type Token [TokenSize]byte

// ParseToken parses a configured token.
//
// Accepted forms are exactly 16 raw characters, used as-is, or 32 hex
// characters decoding to 16 bytes. Anything else yields ErrInvalidToken.
// Placeholder tokens parse fine; see IsPlaceholder.
func ParseToken(s string) (Token, error) {
	var t Token
	switch len(s) {
	case TokenSize:
		copy(t[:], s)
		return t, nil
	case TokenSize * 2:
		b, err := hex.DecodeString(s)
		if err != nil || len(b) != TokenSize {
			return t, ErrInvalidToken
		}
		copy(t[:], b)
		return t, nil
	default:
		return t, ErrInvalidToken
	}
}

// MustParseToken is like ParseToken but panics on error. Intended for tests.
func MustParseToken(s string) Token {
	t, err := ParseToken(s)
	if err != nil {
		panic(err)
	}
	return t
}

// IsPlaceholder reports whether t is the all-zero or all-ones token that
// unprovisioned devices report. Such a token never decrypts real traffic.
func (t Token) IsPlaceholder() bool {
	zero, ones := true, true
	for _, b := range t {
		zero = zero && b == 0x00
		ones = ones && b == 0xFF
	}
	return zero || ones
}

// Bytes returns the token as a byte slice.
func (t Token) Bytes() []byte {
	return t[:]
}

// String hides the token value so it never ends up in logs.
func (t Token) String() string {
	return "Token(********)"
}
