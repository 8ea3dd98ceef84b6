package session

import "errors"

// Session package errors.
var (
	// ErrFutureDate is returned when a last-authenticated date lies in the future.
	ErrFutureDate = errors.New("session: last auth date is in the future")

	// ErrNotPersisted is returned when comparing two sessions that have never
	// been stored.
	ErrNotPersisted = errors.New("session: neither session has been persisted")

	// ErrInvalidStatus is returned for an undefined Status value.
	ErrInvalidStatus = errors.New("session: invalid status")

	// ErrInvalidError is returned for an undefined Error value.
	ErrInvalidError = errors.New("session: invalid error cause")

	// ErrInvalidEvent is returned for an undefined Event value.
	ErrInvalidEvent = errors.New("session: invalid event")

	// ErrSessionNotFound is returned when a session lookup fails.
	ErrSessionNotFound = errors.New("session: session not found")

	// ErrPairingNotFound is returned when a pairing lookup fails.
	ErrPairingNotFound = errors.New("session: pairing not found")

	// ErrStoreClosed is returned when using a closed store.
	ErrStoreClosed = errors.New("session: store closed")
)
