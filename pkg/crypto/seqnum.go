package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
)

// SequenceNumberSize is the width of a sequence number in bytes.
const SequenceNumberSize = 32

// ErrInvalidSequenceNumber is returned when decoding a sequence number of the wrong length.
var ErrInvalidSequenceNumber = errors.New("seqnum: invalid size")

// SequenceNumber is a fixed-width big-endian counter used by continuous authentication.
//
// The response to a value is the value plus one, modulo 2^(8*SequenceNumberSize).
// Each party proves it still holds the session state by answering with the
// response to the last value its peer accepted.
type SequenceNumber [SequenceNumberSize]byte

// NewSequenceNumber draws a random starting value from r.
func NewSequenceNumber(r io.Reader) (SequenceNumber, error) {
	var s SequenceNumber
	if _, err := io.ReadFull(r, s[:]); err != nil {
		return s, fmt.Errorf("seqnum: read random: %w", err)
	}
	return s, nil
}

// RandomSequenceNumber draws a random starting value from crypto/rand.
func RandomSequenceNumber() (SequenceNumber, error) {
	return NewSequenceNumber(rand.Reader)
}

// SequenceNumberFromBytes decodes a sequence number. Every bit pattern of the
// right length is a valid counter value; protocol validity is only established
// through VerifyResponse.
func SequenceNumberFromBytes(b []byte) (SequenceNumber, error) {
	var s SequenceNumber
	if len(b) != SequenceNumberSize {
		return s, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidSequenceNumber, len(b), SequenceNumberSize)
	}
	copy(s[:], b)
	return s, nil
}

// Response returns the next value, carrying across bytes in big-endian order.
// The maximum value wraps to zero.
func (s SequenceNumber) Response() SequenceNumber {
	next := s
	for i := len(next) - 1; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			break
		}
	}
	return next
}

// VerifyResponse reports whether candidate is the response to s.
func (s SequenceNumber) VerifyResponse(candidate SequenceNumber) bool {
	want := s.Response()
	return subtle.ConstantTimeCompare(want[:], candidate[:]) == 1
}

// Bytes returns the serialized form.
func (s SequenceNumber) Bytes() []byte {
	out := make([]byte, SequenceNumberSize)
	copy(out, s[:])
	return out
}

// Wipe zeroes the value in place.
func (s *SequenceNumber) Wipe() {
	Wipe(s[:])
}
