// Package crypto provides the cryptographic primitives used by the Pico protocol:
// single-use nonces, wraparound sequence numbers, P-256 identity and ephemeral keys,
// public key commitments, HKDF, HMAC and AES-GCM envelopes.
package crypto

import (
	"crypto/sha256"
	"crypto/subtle"
)

// SHA256LenBytes is the SHA-256 output length in bytes.
const SHA256LenBytes = 32

// CommitmentSize is the size of a public key commitment.
const CommitmentSize = SHA256LenBytes

// SHA256 computes the SHA-256 hash of a message.
func SHA256(message []byte) [SHA256LenBytes]byte {
	return sha256.Sum256(message)
}

// Commitment returns the commitment to an encoded public key.
//
// A commitment is a pre-image resistant hash that lets a party recognise a known
// peer (for example from a pairing record) without storing the raw key.
//
//	Commitment = SHA-256(PKIX DER encoding of the public key)
func Commitment(publicKey []byte) []byte {
	h := sha256.Sum256(publicKey)
	return h[:]
}

// CommitmentEqual compares two commitments in constant time.
func CommitmentEqual(a, b []byte) bool {
	return len(a) == len(b) && subtle.ConstantTimeCompare(a, b) == 1
}
