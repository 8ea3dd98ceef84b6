package message

import (
	"fmt"
	"math"
	"time"

	"github.com/backkem/pico/pkg/crypto"
)

// MaxTimeout is the largest timeout hint a ServiceReauthMessage can carry.
const MaxTimeout = time.Duration(math.MaxUint32) * time.Millisecond

// StartMessage opens a handshake. It is the only message sent in the clear.
type StartMessage struct {
	SessionID          uint32
	ProverEphemeralKey []byte // PKIX DER
	ProverNonce        []byte // crypto.NonceSize bytes
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *StartMessage) MarshalBinary() ([]byte, error) {
	w := NewWriter(4 + 4 + len(m.ProverEphemeralKey) + 4 + len(m.ProverNonce))
	w.PutUint32(m.SessionID)
	w.PutBytes(m.ProverEphemeralKey)
	w.PutBytes(m.ProverNonce)
	return w.Bytes()
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *StartMessage) UnmarshalBinary(data []byte) error {
	r := NewReader(data)
	m.SessionID = r.Uint32()
	m.ProverEphemeralKey = r.Bytes()
	m.ProverNonce = r.Bytes()
	return r.Finish()
}

// ServiceAuthMessage is the verifier's reply to StartMessage. The ephemeral key
// and nonce travel in the clear; the identity fields are encrypted.
type ServiceAuthMessage struct {
	SessionID            uint32
	VerifierEphemeralKey []byte
	VerifierNonce        []byte

	// Encrypted part.
	VerifierPublicKey []byte // long-term, PKIX DER
	Signature         []byte // over proverNonce || sessionID || verifierEphemeralKey
	MAC               []byte // over VerifierPublicKey
}

func (m *ServiceAuthMessage) encodeBody() ([]byte, error) {
	w := NewWriter(12 + len(m.VerifierPublicKey) + len(m.Signature) + len(m.MAC))
	w.PutBytes(m.VerifierPublicKey)
	w.PutBytes(m.Signature)
	w.PutBytes(m.MAC)
	return w.Bytes()
}

func (m *ServiceAuthMessage) decodeBody(r *Reader) {
	m.VerifierPublicKey = r.Bytes()
	m.Signature = r.Bytes()
	m.MAC = r.Bytes()
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *ServiceAuthMessage) MarshalBinary() ([]byte, error) {
	body, err := m.encodeBody()
	if err != nil {
		return nil, err
	}
	w := NewWriter(12 + len(m.VerifierEphemeralKey) + len(m.VerifierNonce) + len(body))
	w.PutUint32(m.SessionID)
	w.PutBytes(m.VerifierEphemeralKey)
	w.PutBytes(m.VerifierNonce)
	w.PutFixed(body)
	return w.Bytes()
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *ServiceAuthMessage) UnmarshalBinary(data []byte) error {
	r := NewReader(data)
	m.SessionID = r.Uint32()
	m.VerifierEphemeralKey = r.Bytes()
	m.VerifierNonce = r.Bytes()
	m.decodeBody(r)
	return r.Finish()
}

// PicoAuthMessage carries the prover's identity proof and any extra data for the verifier.
type PicoAuthMessage struct {
	SessionID       uint32
	ProverPublicKey []byte // long-term, PKIX DER
	Signature       []byte // over verifierNonce || sessionID || proverEphemeralKey
	MAC             []byte // over ProverPublicKey
	ExtraData       []byte
}

func (m *PicoAuthMessage) encodeBody() ([]byte, error) {
	w := NewWriter(16 + len(m.ProverPublicKey) + len(m.Signature) + len(m.MAC) + len(m.ExtraData))
	w.PutBytes(m.ProverPublicKey)
	w.PutBytes(m.Signature)
	w.PutBytes(m.MAC)
	w.PutBytes(m.ExtraData)
	return w.Bytes()
}

func (m *PicoAuthMessage) decodeBody(r *Reader) {
	m.ProverPublicKey = r.Bytes()
	m.Signature = r.Bytes()
	m.MAC = r.Bytes()
	m.ExtraData = r.Bytes()
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *PicoAuthMessage) MarshalBinary() ([]byte, error) {
	return withSessionID(m.SessionID, m.encodeBody)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *PicoAuthMessage) UnmarshalBinary(data []byte) error {
	r := NewReader(data)
	m.SessionID = r.Uint32()
	m.decodeBody(r)
	return r.Finish()
}

// StatusMessage ends the handshake.
type StatusMessage struct {
	SessionID uint32
	Status    StatusCode
	ExtraData []byte // e.g. an auth token delivered to the prover
}

func (m *StatusMessage) encodeBody() ([]byte, error) {
	w := NewWriter(5 + len(m.ExtraData))
	w.PutUint8(uint8(m.Status))
	w.PutBytes(m.ExtraData)
	return w.Bytes()
}

func (m *StatusMessage) decodeBody(r *Reader) {
	status, err := ParseStatusCode(r.Uint8())
	if r.Err() == nil && err != nil {
		r.Fail(err)
	}
	m.Status = status
	m.ExtraData = r.Bytes()
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *StatusMessage) MarshalBinary() ([]byte, error) {
	return withSessionID(m.SessionID, m.encodeBody)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *StatusMessage) UnmarshalBinary(data []byte) error {
	r := NewReader(data)
	m.SessionID = r.Uint32()
	m.decodeBody(r)
	return r.Finish()
}

// PicoReauthMessage is the prover's half of a continuous authentication round.
type PicoReauthMessage struct {
	SessionID      uint32
	State          ReauthState
	SequenceNumber crypto.SequenceNumber
}

func (m *PicoReauthMessage) encodeBody() ([]byte, error) {
	w := NewWriter(1 + crypto.SequenceNumberSize)
	w.PutUint8(uint8(m.State))
	w.PutFixed(m.SequenceNumber[:])
	return w.Bytes()
}

func (m *PicoReauthMessage) decodeBody(r *Reader) {
	m.State = readReauthState(r)
	copy(m.SequenceNumber[:], r.Fixed(crypto.SequenceNumberSize))
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *PicoReauthMessage) MarshalBinary() ([]byte, error) {
	return withSessionID(m.SessionID, m.encodeBody)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *PicoReauthMessage) UnmarshalBinary(data []byte) error {
	r := NewReader(data)
	m.SessionID = r.Uint32()
	m.decodeBody(r)
	return r.Finish()
}

// ServiceReauthMessage is the verifier's half of a continuous authentication round.
// Timeout suggests how long the prover may wait before the next round.
type ServiceReauthMessage struct {
	SessionID      uint32
	State          ReauthState
	Timeout        time.Duration // millisecond resolution on the wire
	SequenceNumber crypto.SequenceNumber
}

func (m *ServiceReauthMessage) encodeBody() ([]byte, error) {
	if m.Timeout < 0 || m.Timeout > MaxTimeout {
		return nil, fmt.Errorf("%w: %s", ErrInvalidTimeout, m.Timeout)
	}
	w := NewWriter(5 + crypto.SequenceNumberSize)
	w.PutUint8(uint8(m.State))
	w.PutUint32(uint32(m.Timeout / time.Millisecond))
	w.PutFixed(m.SequenceNumber[:])
	return w.Bytes()
}

func (m *ServiceReauthMessage) decodeBody(r *Reader) {
	m.State = readReauthState(r)
	m.Timeout = time.Duration(r.Uint32()) * time.Millisecond
	copy(m.SequenceNumber[:], r.Fixed(crypto.SequenceNumberSize))
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *ServiceReauthMessage) MarshalBinary() ([]byte, error) {
	return withSessionID(m.SessionID, m.encodeBody)
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *ServiceReauthMessage) UnmarshalBinary(data []byte) error {
	r := NewReader(data)
	m.SessionID = r.Uint32()
	m.decodeBody(r)
	return r.Finish()
}

func readReauthState(r *Reader) ReauthState {
	b := r.Uint8()
	if r.Err() != nil {
		return 0
	}
	state, err := ParseReauthState(b)
	if err != nil {
		r.Fail(err)
	}
	return state
}

func withSessionID(sessionID uint32, body func() ([]byte, error)) ([]byte, error) {
	b, err := body()
	if err != nil {
		return nil, err
	}
	w := NewWriter(4 + len(b))
	w.PutUint32(sessionID)
	w.PutFixed(b)
	return w.Bytes()
}
