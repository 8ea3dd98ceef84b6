// Package reauth implements continuous authentication: after a handshake the
// prover periodically proves it still holds the session by exchanging
// sequence numbers with the verifier under the session key.
//
//	Prover                                          Verifier
//	  │── EncPicoReauth{state, seq} ──────────────────►│ check seq
//	  │◄─ EncServiceReauth{state, timeout, seq} ───────│ arm liveness timer
//	  │ check seq, timer(timeout)                      │
//
// The first round carries each side's random starting sequence number. Every
// later round carries Response() of the sender's previous value, checked by
// the receiver with VerifyResponse. A mismatch is a security event: the
// session moves to Error and is never resumed.
//
// Each session is owned by a single goroutine. Timer firings, application
// requests (pause, resume, stop) and incoming messages are posted to it as
// commands, so two rounds of one session never interleave.
//
// State machine (both sides):
//
//	Active ⇄ Paused ──► Closed
//	   └───────┴──────► Error (absorbing)
package reauth

import (
	"errors"
	"time"
)

// Defaults.
const (
	// DefaultTimeout is the interval the verifier suggests between rounds.
	DefaultTimeout = 10 * time.Second

	// DefaultGrace is added to the suggested interval before the verifier
	// declares the prover gone.
	DefaultGrace = 5 * time.Second

	// DefaultRequestTimeout bounds a single round trip on the prover.
	DefaultRequestTimeout = 10 * time.Second
)

// Errors.
var (
	// ErrSessionClosed is returned when operating on a terminated session.
	ErrSessionClosed = errors.New("reauth: session closed")

	// ErrUnknownSession is returned for a message naming no known session.
	ErrUnknownSession = errors.New("reauth: unknown session")

	// ErrDuplicateSession is returned when adding a session whose ID is in use.
	ErrDuplicateSession = errors.New("reauth: duplicate session")

	// ErrInvalidConfig is returned for an incomplete configuration.
	ErrInvalidConfig = errors.New("reauth: invalid config")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("reauth: already started")

	// ErrNotStarted is returned when using an engine before Start.
	ErrNotStarted = errors.New("reauth: not started")
)
