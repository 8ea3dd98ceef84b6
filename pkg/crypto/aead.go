package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"io"
)

// AES-256-GCM parameters.
const (
	// SymmetricKeySize is the size of every symmetric key used by the protocol.
	SymmetricKeySize = 32

	// IVSize is the GCM nonce size carried explicitly in each envelope.
	IVSize = 12

	// TagSize is the GCM authentication tag size appended to each ciphertext.
	TagSize = 16
)

// AEAD errors.
var (
	// ErrInvalidKeySize is returned when a symmetric key is not SymmetricKeySize bytes.
	ErrInvalidKeySize = errors.New("aead: invalid key size, must be 32 bytes")

	// ErrDecryptionFailed is returned when authenticated decryption fails for any
	// reason: wrong key, corrupted IV, ciphertext, tag or additional data.
	ErrDecryptionFailed = errors.New("aead: decryption failed")
)

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != SymmetricKeySize {
		return nil, ErrInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts and authenticates plaintext under key with a fresh IV drawn from r.
// The aad is authenticated but not encrypted.
//
// Returns the IV and ciphertext || tag.
func Seal(key []byte, r io.Reader, plaintext, aad []byte) (iv, ciphertext []byte, err error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	iv = make([]byte, IVSize)
	if _, err := io.ReadFull(r, iv); err != nil {
		return nil, nil, fmt.Errorf("aead: read iv: %w", err)
	}
	return iv, aead.Seal(nil, iv, plaintext, aad), nil
}

// Open verifies and decrypts ciphertext. Every failure is reported as ErrDecryptionFailed,
// never as garbage plaintext.
func Open(key, iv, ciphertext, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(iv) != IVSize || len(ciphertext) < TagSize {
		return nil, ErrDecryptionFailed
	}
	plaintext, err := aead.Open(nil, iv, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
