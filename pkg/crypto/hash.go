// Package crypto provides the cryptographic primitives used by the miio and
// Philips CoAP device protocols: token handling, AES-128-CBC with PKCS#7
// padding, and the two payload ciphers built on top of it.
package crypto

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Digest sizes in bytes.
const (
	MD5LenBytes    = md5.Size
	SHA256LenBytes = sha256.Size
)

// MD5 returns the MD5 digest of the concatenation of parts.
// Both device protocols derive keys and checksums from MD5; it is not used
// as a security boundary on its own.
func MD5(parts ...[]byte) [MD5LenBytes]byte {
	h := md5.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [MD5LenBytes]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SHA256 computes the SHA-256 hash of the concatenation of parts.
func SHA256(parts ...[]byte) [SHA256LenBytes]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [SHA256LenBytes]byte
	copy(out[:], h.Sum(nil))
	return out
}

// UpperHex encodes b as upper-case hexadecimal, the form used on the CoAP wire.
func UpperHex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}
