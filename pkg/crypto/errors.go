package crypto

import "errors"

// Crypto errors.
var (
	// ErrInvalidToken is returned when a device token is neither 16 raw
	// bytes nor 32 hex characters decoding to 16 bytes.
	ErrInvalidToken = errors.New("crypto: invalid token")

	// ErrInvalidKeySize is returned when an AES key or IV is not 16 bytes.
	ErrInvalidKeySize = errors.New("crypto: invalid key size, must be 16 bytes")

	// ErrEncrypt is returned when a payload cannot be encrypted.
	ErrEncrypt = errors.New("crypto: encryption failed")

	// ErrDecrypt is returned when a payload cannot be decrypted.
	ErrDecrypt = errors.New("crypto: decryption failed")

	// ErrCiphertextLength is returned when a ciphertext is empty or not a
	// multiple of the AES block size.
	ErrCiphertextLength = errors.New("crypto: ciphertext length not a multiple of block size")

	// ErrPadding is returned when PKCS#7 padding is malformed.
	ErrPadding = errors.New("crypto: invalid padding")

	// ErrDigestMismatch is returned when the message digest does not match.
	ErrDigestMismatch = errors.New("crypto: digest mismatch")

	// ErrTruncated is returned when an envelope is shorter than its fixed parts.
	ErrTruncated = errors.New("crypto: message truncated")
)

// IsCryptoError reports whether err belongs to the crypto error class, i.e.
// the payload could not be encrypted, decrypted or authenticated.
func IsCryptoError(err error) bool {
	switch {
	case errors.Is(err, ErrEncrypt),
		errors.Is(err, ErrDecrypt),
		errors.Is(err, ErrCiphertextLength),
		errors.Is(err, ErrPadding),
		errors.Is(err, ErrDigestMismatch),
		errors.Is(err, ErrTruncated),
		errors.Is(err, ErrInvalidKeySize):
		return true
	}
	return false
}
