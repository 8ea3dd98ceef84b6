// Package session holds the records shared by the handshake and continuous
// authentication engines: the Session established by a handshake and the
// Pairing it was established under.
//
// The engines never touch storage. They report lifecycle events through a
// Recorder; the Tracker maps those events onto the Session record (see Apply)
// and persists it through a Store. Two Store implementations are provided:
// MemoryStore for tests and embedding, BoltStore for a bbolt database file.
//
//	handshake.Result ──NewSession──► Session{Active|Paused}
//	                                    │
//	reauth engine ──Record(event)──► Tracker ──Apply──► Store.SaveSession
package session

import (
	"bytes"
	"fmt"
	"time"

	"github.com/backkem/pico/pkg/crypto"
)

// Status is the lifecycle state of a Session.
type Status uint8

const (
	// StatusActive means continuous authentication is running.
	StatusActive Status = iota
	// StatusPaused means the session is established but no rounds are scheduled.
	StatusPaused
	// StatusClosed means the session was stopped and its key released.
	StatusClosed
	// StatusError means the session failed; see Session.Error for the cause.
	StatusError
)

// String returns a human-readable name.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusPaused:
		return "Paused"
	case StatusClosed:
		return "Closed"
	case StatusError:
		return "Error"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// IsValid returns true if the status is a defined value.
func (s Status) IsValid() bool {
	return s <= StatusError
}

// IsTerminal returns true for Closed and Error. A terminal session is never
// resumed; a new handshake is required.
func (s Status) IsTerminal() bool {
	return s == StatusClosed || s == StatusError
}

// Error is the cause recorded when a session enters StatusError.
type Error uint8

const (
	// ErrorNone means no error has occurred.
	ErrorNone Error = iota
	// ErrorIOException means the transport failed or a reply never arrived.
	ErrorIOException
	// ErrorServiceAuthenticationFailure means a message failed decryption or
	// sequence number verification.
	ErrorServiceAuthenticationFailure
	// ErrorServiceReportedError means the peer signalled an error in-band.
	ErrorServiceReportedError
)

// String returns a human-readable name.
func (e Error) String() string {
	switch e {
	case ErrorNone:
		return "None"
	case ErrorIOException:
		return "IOException"
	case ErrorServiceAuthenticationFailure:
		return "ServiceAuthenticationFailure"
	case ErrorServiceReportedError:
		return "ServiceReportedError"
	default:
		return fmt.Sprintf("Error(%d)", uint8(e))
	}
}

// IsValid returns true if the error is a defined value.
func (e Error) IsValid() bool {
	return e <= ErrorServiceReportedError
}

// Session is the record of one authenticated session.
//
// ID is assigned by the Store on first save; zero means the session has never
// been persisted. RemoteID is the handshake session identifier both parties
// use on the wire.
type Session struct {
	ID           uint64    `json:"id"`
	RemoteID     uint32    `json:"remote_id"`
	SecretKey    []byte    `json:"secret_key,omitempty"`
	PairingID    uint64    `json:"pairing_id"`
	Status       Status    `json:"status"`
	Error        Error     `json:"error"`
	LastAuthDate time.Time `json:"last_auth_date"`
	AuthToken    []byte    `json:"auth_token,omitempty"`
}

// New creates an unpersisted session. The key is copied.
func New(remoteID uint32, key []byte, pairingID uint64, status Status, now time.Time) *Session {
	return &Session{
		RemoteID:     remoteID,
		SecretKey:    bytes.Clone(key),
		PairingID:    pairingID,
		Status:       status,
		LastAuthDate: now,
	}
}

// SetLastAuthDate records a successful authentication. Dates after now are
// rejected with ErrFutureDate.
func (s *Session) SetLastAuthDate(date, now time.Time) error {
	if date.After(now) {
		return fmt.Errorf("%w: %s is after %s", ErrFutureDate, date.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	}
	s.LastAuthDate = date
	return nil
}

// SameAs reports whether s and other are the same stored session. Two
// sessions that were never persisted cannot be compared and yield
// ErrNotPersisted.
func (s *Session) SameAs(other *Session) (bool, error) {
	if other == nil {
		return false, nil
	}
	if s.ID == 0 && other.ID == 0 {
		return false, ErrNotPersisted
	}
	return s.ID == other.ID, nil
}

// ReleaseKey wipes and drops the session key and the delivered auth token.
func (s *Session) ReleaseKey() {
	crypto.Wipe(s.SecretKey)
	s.SecretKey = nil
	crypto.Wipe(s.AuthToken)
	s.AuthToken = nil
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.SecretKey = bytes.Clone(s.SecretKey)
	c.AuthToken = bytes.Clone(s.AuthToken)
	return &c
}

// Validate checks that the enum fields hold defined values.
func (s *Session) Validate() error {
	if !s.Status.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, s.Status)
	}
	if !s.Error.IsValid() {
		return fmt.Errorf("%w: %s", ErrInvalidError, s.Error)
	}
	return nil
}

func (s *Session) String() string {
	return fmt.Sprintf("session %d (remote %08x, %s)", s.ID, s.RemoteID, s.Status)
}
