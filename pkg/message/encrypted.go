package message

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/backkem/pico/pkg/crypto"
)

// Kind identifies an encrypted message type. It is bound into the additional
// authenticated data so an envelope cannot be replayed as another kind.
type Kind uint8

const (
	KindServiceAuth   Kind = 0x02
	KindPicoAuth      Kind = 0x03
	KindStatus        Kind = 0x04
	KindPicoReauth    Kind = 0x05
	KindServiceReauth Kind = 0x06
)

// Envelope is the encrypted form shared by every message except StartMessage:
// the session ID in the clear, the IV, and AES-GCM ciphertext || tag.
type Envelope struct {
	SessionID  uint32
	IV         []byte
	Ciphertext []byte
}

func (e *Envelope) aad(kind Kind, extra ...[]byte) ([]byte, error) {
	w := NewWriter(5)
	w.PutUint8(uint8(kind))
	w.PutUint32(e.SessionID)
	for _, b := range extra {
		w.PutBytes(b)
	}
	return w.Bytes()
}

func (e *Envelope) seal(kind Kind, key, body []byte, extra ...[]byte) error {
	aad, err := e.aad(kind, extra...)
	if err != nil {
		return err
	}
	e.IV, e.Ciphertext, err = crypto.Seal(key, rand.Reader, body, aad)
	return err
}

// open decrypts the envelope and hands the plaintext body to decode.
func (e *Envelope) open(kind Kind, key []byte, decode func(*Reader), extra ...[]byte) error {
	aad, err := e.aad(kind, extra...)
	if err != nil {
		return err
	}
	body, err := crypto.Open(key, e.IV, e.Ciphertext, aad)
	if err != nil {
		if errors.Is(err, crypto.ErrDecryptionFailed) {
			return ErrDecryptionFailed
		}
		return err
	}
	defer crypto.Wipe(body)

	r := NewReader(body)
	decode(r)
	if err := r.Finish(); err != nil {
		return fmt.Errorf("decode %s body: %w", kind, err)
	}
	return nil
}

func (e *Envelope) put(w *Writer) {
	w.PutBytes(e.IV)
	w.PutBytes(e.Ciphertext)
}

func (e *Envelope) get(r *Reader) {
	e.IV = r.Bytes()
	e.Ciphertext = r.Bytes()
}

func (e *Envelope) marshal() ([]byte, error) {
	w := NewWriter(12 + len(e.IV) + len(e.Ciphertext))
	w.PutUint32(e.SessionID)
	e.put(w)
	return w.Bytes()
}

func (e *Envelope) unmarshal(data []byte) error {
	r := NewReader(data)
	e.SessionID = r.Uint32()
	e.get(r)
	return r.Finish()
}

// String returns a human-readable name.
func (k Kind) String() string {
	switch k {
	case KindServiceAuth:
		return "ServiceAuth"
	case KindPicoAuth:
		return "PicoAuth"
	case KindStatus:
		return "Status"
	case KindPicoReauth:
		return "PicoReauth"
	case KindServiceReauth:
		return "ServiceReauth"
	default:
		return fmt.Sprintf("Kind(0x%02x)", uint8(k))
	}
}

// EncServiceAuthMessage is the encrypted ServiceAuthMessage. The verifier's
// ephemeral key and nonce stay in the clear because the prover needs them to
// derive the decryption key; both are authenticated as additional data.
type EncServiceAuthMessage struct {
	Envelope
	VerifierEphemeralKey []byte
	VerifierNonce        []byte
}

// Encrypt seals the message under key with a fresh IV.
func (m *ServiceAuthMessage) Encrypt(key []byte) (*EncServiceAuthMessage, error) {
	body, err := m.encodeBody()
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(body)
	enc := &EncServiceAuthMessage{
		Envelope:             Envelope{SessionID: m.SessionID},
		VerifierEphemeralKey: clone(m.VerifierEphemeralKey),
		VerifierNonce:        clone(m.VerifierNonce),
	}
	if err := enc.seal(KindServiceAuth, key, body, enc.VerifierEphemeralKey, enc.VerifierNonce); err != nil {
		return nil, err
	}
	return enc, nil
}

// Decrypt opens the envelope. Any tampering yields ErrDecryptionFailed.
func (m *EncServiceAuthMessage) Decrypt(key []byte) (*ServiceAuthMessage, error) {
	out := &ServiceAuthMessage{
		SessionID:            m.SessionID,
		VerifierEphemeralKey: clone(m.VerifierEphemeralKey),
		VerifierNonce:        clone(m.VerifierNonce),
	}
	if err := m.open(KindServiceAuth, key, out.decodeBody, m.VerifierEphemeralKey, m.VerifierNonce); err != nil {
		return nil, err
	}
	return out, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *EncServiceAuthMessage) MarshalBinary() ([]byte, error) {
	w := NewWriter(20 + len(m.VerifierEphemeralKey) + len(m.VerifierNonce) + len(m.IV) + len(m.Ciphertext))
	w.PutUint32(m.SessionID)
	w.PutBytes(m.VerifierEphemeralKey)
	w.PutBytes(m.VerifierNonce)
	m.put(w)
	return w.Bytes()
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *EncServiceAuthMessage) UnmarshalBinary(data []byte) error {
	r := NewReader(data)
	m.SessionID = r.Uint32()
	m.VerifierEphemeralKey = r.Bytes()
	m.VerifierNonce = r.Bytes()
	m.get(r)
	return r.Finish()
}

// EncPicoAuthMessage is the encrypted PicoAuthMessage.
type EncPicoAuthMessage struct {
	Envelope
}

// Encrypt seals the message under key with a fresh IV.
func (m *PicoAuthMessage) Encrypt(key []byte) (*EncPicoAuthMessage, error) {
	enc := &EncPicoAuthMessage{Envelope{SessionID: m.SessionID}}
	if err := sealBody(&enc.Envelope, KindPicoAuth, key, m.encodeBody); err != nil {
		return nil, err
	}
	return enc, nil
}

// Decrypt opens the envelope. Any tampering yields ErrDecryptionFailed.
func (m *EncPicoAuthMessage) Decrypt(key []byte) (*PicoAuthMessage, error) {
	out := &PicoAuthMessage{SessionID: m.SessionID}
	if err := m.open(KindPicoAuth, key, out.decodeBody); err != nil {
		return nil, err
	}
	return out, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *EncPicoAuthMessage) MarshalBinary() ([]byte, error) { return m.marshal() }

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *EncPicoAuthMessage) UnmarshalBinary(data []byte) error { return m.unmarshal(data) }

// EncStatusMessage is the encrypted StatusMessage.
type EncStatusMessage struct {
	Envelope
}

// Encrypt seals the message under key with a fresh IV.
func (m *StatusMessage) Encrypt(key []byte) (*EncStatusMessage, error) {
	enc := &EncStatusMessage{Envelope{SessionID: m.SessionID}}
	if err := sealBody(&enc.Envelope, KindStatus, key, m.encodeBody); err != nil {
		return nil, err
	}
	return enc, nil
}

// Decrypt opens the envelope. Any tampering yields ErrDecryptionFailed.
func (m *EncStatusMessage) Decrypt(key []byte) (*StatusMessage, error) {
	out := &StatusMessage{SessionID: m.SessionID}
	if err := m.open(KindStatus, key, out.decodeBody); err != nil {
		return nil, err
	}
	return out, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *EncStatusMessage) MarshalBinary() ([]byte, error) { return m.marshal() }

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *EncStatusMessage) UnmarshalBinary(data []byte) error { return m.unmarshal(data) }

// EncPicoReauthMessage is the encrypted PicoReauthMessage.
type EncPicoReauthMessage struct {
	Envelope
}

// Encrypt seals the message under key with a fresh IV.
func (m *PicoReauthMessage) Encrypt(key []byte) (*EncPicoReauthMessage, error) {
	enc := &EncPicoReauthMessage{Envelope{SessionID: m.SessionID}}
	if err := sealBody(&enc.Envelope, KindPicoReauth, key, m.encodeBody); err != nil {
		return nil, err
	}
	return enc, nil
}

// Decrypt opens the envelope. Any tampering yields ErrDecryptionFailed.
func (m *EncPicoReauthMessage) Decrypt(key []byte) (*PicoReauthMessage, error) {
	out := &PicoReauthMessage{SessionID: m.SessionID}
	if err := m.open(KindPicoReauth, key, out.decodeBody); err != nil {
		return nil, err
	}
	return out, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *EncPicoReauthMessage) MarshalBinary() ([]byte, error) { return m.marshal() }

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *EncPicoReauthMessage) UnmarshalBinary(data []byte) error { return m.unmarshal(data) }

// EncServiceReauthMessage is the encrypted ServiceReauthMessage.
type EncServiceReauthMessage struct {
	Envelope
}

// Encrypt seals the message under key with a fresh IV.
func (m *ServiceReauthMessage) Encrypt(key []byte) (*EncServiceReauthMessage, error) {
	enc := &EncServiceReauthMessage{Envelope{SessionID: m.SessionID}}
	if err := sealBody(&enc.Envelope, KindServiceReauth, key, m.encodeBody); err != nil {
		return nil, err
	}
	return enc, nil
}

// Decrypt opens the envelope. Any tampering yields ErrDecryptionFailed.
func (m *EncServiceReauthMessage) Decrypt(key []byte) (*ServiceReauthMessage, error) {
	out := &ServiceReauthMessage{SessionID: m.SessionID}
	if err := m.open(KindServiceReauth, key, out.decodeBody); err != nil {
		return nil, err
	}
	return out, nil
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *EncServiceReauthMessage) MarshalBinary() ([]byte, error) { return m.marshal() }

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (m *EncServiceReauthMessage) UnmarshalBinary(data []byte) error { return m.unmarshal(data) }

func sealBody(e *Envelope, kind Kind, key []byte, encode func() ([]byte, error)) error {
	body, err := encode()
	if err != nil {
		return err
	}
	defer crypto.Wipe(body)
	return e.seal(kind, key, body)
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
