// Package handshake implements the Pico authentication handshake.
//
// The handshake is a three-message SIGMA exchange in which a prover (the
// personal authenticator) and a verifier (the service) prove possession of
// their long-term identity keys and agree on a fresh session key:
//
//	Prover                                        Verifier
//	  │── Start{sid, proverEph, proverNonce} ──────►│
//	  │◄─ EncServiceAuth{sid, verifierEph, nonce,   │
//	  │     E(verifierPub, sig, mac)} ──────────────│
//	  │── EncPicoAuth{sid, E(proverPub, sig, mac,   │
//	  │     extraData)} ───────────────────────────►│
//	  │◄─ EncStatus{sid, E(status, extraData)} ─────│
//
// The prover pins the verifier by the commitment (SHA-256) of its public key.
// The verifier decides whether to admit the prover through an Authorizer.
// On success both sides hold the same Result.SharedKey, used by continuous
// authentication.
//
// Key Derivation:
//
// All keys are HKDF-SHA256 over the ephemeral P-256 ECDH secret with
// salt = proverNonce || verifierNonce || sessionID (4 bytes, big-endian):
//
//	"pico-v-mac"    verifier MAC key (MAC over verifier public key)
//	"pico-p-mac"    prover MAC key (MAC over prover public key)
//	"pico-v-enc"    encrypts ServiceAuth and Status
//	"pico-p-enc"    encrypts PicoAuth
//	"pico-session"  session key handed to continuous authentication
package handshake

import (
	"bytes"
	"errors"
	"time"

	"github.com/backkem/pico/pkg/crypto"
	"github.com/backkem/pico/pkg/session"
)

// Errors.
var (
	// ErrProtocolViolation is returned for malformed, out-of-order or
	// cryptographically invalid messages. The attempt is aborted.
	ErrProtocolViolation = errors.New("handshake: protocol violation")

	// ErrProverAuthRejected is returned when the verifier declines the prover.
	ErrProverAuthRejected = errors.New("handshake: prover authentication rejected")

	// ErrVerifierAuthFailed is returned when the prover declines the verifier's
	// identity: commitment mismatch, bad signature or bad MAC.
	ErrVerifierAuthFailed = errors.New("handshake: verifier authentication failed")

	// ErrIO wraps transport failures reported by a VerifierChannel.
	ErrIO = errors.New("handshake: transport failure")

	// ErrInvalidState is returned when an operation is invalid for the current state.
	ErrInvalidState = errors.New("handshake: invalid state")

	// ErrInvalidConfig is returned for an incomplete configuration.
	ErrInvalidConfig = errors.New("handshake: invalid config")

	// ErrTooManyPending is returned when the verifier holds too many
	// unfinished handshakes.
	ErrTooManyPending = errors.New("handshake: too many pending handshakes")
)

// Role identifies the side of a handshake.
type Role int

const (
	// RoleProver is the authenticator proving its identity.
	RoleProver Role = iota
	// RoleVerifier is the service authenticating the prover.
	RoleVerifier
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleProver:
		return "Prover"
	case RoleVerifier:
		return "Verifier"
	default:
		return "Unknown"
	}
}

// State is the prover's handshake state.
type State int

const (
	// StateIdle is the state before Prove is called.
	StateIdle State = iota
	// StateStartSent means the StartMessage was sent.
	StateStartSent
	// StateServiceAuthReceived means the verifier was authenticated.
	StateServiceAuthReceived
	// StatePicoAuthSent means the PicoAuthMessage was sent.
	StatePicoAuthSent
	// StateComplete means the handshake succeeded.
	StateComplete
	// StateFailed means the handshake failed.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateStartSent:
		return "StartSent"
	case StateServiceAuthReceived:
		return "ServiceAuthReceived"
	case StatePicoAuthSent:
		return "PicoAuthSent"
	case StateComplete:
		return "Complete"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Result is the outcome of a successful handshake, as seen by one side.
type Result struct {
	// Role is the local side.
	Role Role

	// SessionID is the handshake session identifier.
	SessionID uint32

	// SharedKey is the session key for continuous authentication.
	SharedKey []byte

	// PeerPublicKey is the peer's verified long-term public key (PKIX DER).
	PeerPublicKey []byte

	// PeerCommitment is the commitment of PeerPublicKey.
	PeerCommitment []byte

	// ExtraData is the payload delivered by the peer: the prover's extra data
	// on the verifier side, the verifier's status payload (e.g. an auth token)
	// on the prover side.
	ExtraData []byte

	// Continuous is true when the verifier requested continuous authentication.
	Continuous bool
}

// NewSession creates the session record for this result: Active when
// continuous authentication was requested, Paused otherwise. On the prover
// side the delivered payload becomes the session's auth token.
func (r *Result) NewSession(pairingID uint64, now time.Time) *session.Session {
	status := session.StatusPaused
	if r.Continuous {
		status = session.StatusActive
	}
	s := session.New(r.SessionID, r.SharedKey, pairingID, status, now)
	if r.Role == RoleProver {
		s.AuthToken = bytes.Clone(r.ExtraData)
	}
	return s
}

// Wipe zeroes the shared key.
func (r *Result) Wipe() {
	crypto.Wipe(r.SharedKey)
}
