package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"sync"
)

// NonceSize is the length of a handshake nonce in bytes.
const NonceSize = 8

// Errors for nonce operations.
var (
	// ErrNonceDestroyed is returned when a destroyed nonce is read or serialized.
	ErrNonceDestroyed = errors.New("nonce: destroyed")

	// ErrInvalidNonceSize is returned when decoding a nonce of the wrong length.
	ErrInvalidNonceSize = errors.New("nonce: invalid size")
)

// Nonce is a single-use random value exchanged during the handshake.
//
// A Nonce is immutable until Destroy is called, which zeroes the backing bytes.
// After that every accessor fails with ErrNonceDestroyed.
type Nonce struct {
	mu        sync.RWMutex
	value     [NonceSize]byte
	destroyed bool
}

// NewNonce draws a nonce from r.
func NewNonce(r io.Reader) (*Nonce, error) {
	n := &Nonce{}
	if _, err := io.ReadFull(r, n.value[:]); err != nil {
		return nil, fmt.Errorf("nonce: read random: %w", err)
	}
	return n, nil
}

// RandomNonce draws a nonce from crypto/rand.
func RandomNonce() (*Nonce, error) {
	return NewNonce(rand.Reader)
}

// NonceFromBytes wraps received nonce bytes. The input is copied.
func NonceFromBytes(b []byte) (*Nonce, error) {
	if len(b) != NonceSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidNonceSize, len(b), NonceSize)
	}
	n := &Nonce{}
	copy(n.value[:], b)
	return n, nil
}

// Value returns a copy of the nonce bytes.
func (n *Nonce) Value() ([]byte, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.destroyed {
		return nil, ErrNonceDestroyed
	}
	out := make([]byte, NonceSize)
	copy(out, n.value[:])
	return out, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (n *Nonce) MarshalBinary() ([]byte, error) {
	return n.Value()
}

// Equal reports whether two live nonces hold the same bytes.
// A destroyed nonce is never equal to anything.
func (n *Nonce) Equal(other *Nonce) bool {
	if n == nil || other == nil {
		return false
	}
	a, err := n.Value()
	if err != nil {
		return false
	}
	b, err := other.Value()
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(a, b) == 1
}

// Destroy zeroes the nonce and marks it unusable. It is safe to call more than once.
func (n *Nonce) Destroy() {
	n.mu.Lock()
	defer n.mu.Unlock()
	Wipe(n.value[:])
	n.destroyed = true
}

// Destroyed reports whether Destroy has been called.
func (n *Nonce) Destroyed() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.destroyed
}
