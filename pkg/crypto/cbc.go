package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
)

// AES-CBC constants.
const (
	// AESKeySize is the AES-128 key size in bytes.
	AESKeySize = 16

	// AESBlockSize is the AES block size (always 16 bytes).
	AESBlockSize = aes.BlockSize
)

// AESCBC is an AES-128-CBC cipher with a fixed key and IV and PKCS#7 padding.
// Both device protocols use a static IV per key, so encryption is deterministic.
type AESCBC struct {
	block cipher.Block
	iv    [AESBlockSize]byte
}

// NewAESCBC creates a new AES-128-CBC cipher.
func NewAESCBC(key, iv []byte) (*AESCBC, error) {
	if len(key) != AESKeySize || len(iv) != AESBlockSize {
		return nil, ErrInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	c := &AESCBC{block: block}
	copy(c.iv[:], iv)
	return c, nil
}

// Encrypt pads and encrypts plaintext. An empty plaintext yields one block.
func (c *AESCBC) Encrypt(plaintext []byte) []byte {
	padded := pkcs7Pad(plaintext, AESBlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(c.block, c.iv[:]).CryptBlocks(out, padded)
	return out
}

// Decrypt decrypts ciphertext and strips padding.
// It never returns partial plaintext: any length or padding error discards
// the output.
func (c *AESCBC) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%AESBlockSize != 0 {
		return nil, ErrCiphertextLength
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(c.block, c.iv[:]).CryptBlocks(out, ciphertext)

	plain, err := pkcs7Unpad(out, AESBlockSize)
	if err != nil {
		return nil, err
	}
	return plain, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(bytes.Clone(data), bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrPadding
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, ErrPadding
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, ErrPadding
		}
	}
	return data[:len(data)-n], nil
}
