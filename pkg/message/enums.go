// Package message implements the Pico message envelope layer.
//
// It defines the plaintext messages exchanged by the handshake and continuous
// authentication protocols, their encrypted envelopes, and the length-prefixed
// binary codec and transport frames that carry them.
//
// Handshake flow:
//
//	Prover                                   Verifier
//	  | --- StartMessage -------------------> |
//	  | <-- EncServiceAuthMessage ----------- |
//	  | --- EncPicoAuthMessage -------------> |
//	  | <-- EncStatusMessage ---------------- |
//
// Continuous authentication then repeats:
//
//	| --- EncPicoReauthMessage -----------> |
//	| <-- EncServiceReauthMessage --------- |
package message

import "fmt"

// ReauthState is the in-band control value of continuous authentication.
type ReauthState uint8

const (
	// ReauthContinue keeps the session active.
	ReauthContinue ReauthState = 0x00
	// ReauthPause pauses the session until the prover resumes it.
	ReauthPause ReauthState = 0x01
	// ReauthStop closes the session for good.
	ReauthStop ReauthState = 0x02
	// ReauthError signals that the sender considers the session broken.
	ReauthError ReauthState = 0x03
)

// ParseReauthState decodes a single-byte reauth state.
func ParseReauthState(b byte) (ReauthState, error) {
	s := ReauthState(b)
	if !s.IsValid() {
		return 0, fmt.Errorf("%w: 0x%02x", ErrInvalidReauthState, b)
	}
	return s, nil
}

// IsValid returns true if the state is a defined value.
func (s ReauthState) IsValid() bool {
	return s <= ReauthError
}

// String returns a human-readable name.
func (s ReauthState) String() string {
	switch s {
	case ReauthContinue:
		return "Continue"
	case ReauthPause:
		return "Pause"
	case ReauthStop:
		return "Stop"
	case ReauthError:
		return "Error"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(s))
	}
}

// StatusCode is the result carried by a StatusMessage.
type StatusCode uint8

const (
	// StatusOKDone means the prover was accepted and no continuous authentication follows.
	StatusOKDone StatusCode = 0x00
	// StatusOKContinue means the prover was accepted and continuous authentication follows.
	StatusOKContinue StatusCode = 0x01
	// StatusError means the verifier failed while processing the handshake.
	StatusError StatusCode = 0xFE
	// StatusRejected means the verifier declined the prover.
	StatusRejected StatusCode = 0xFF
)

// ParseStatusCode decodes a single-byte status code.
func ParseStatusCode(b byte) (StatusCode, error) {
	s := StatusCode(b)
	if !s.IsValid() {
		return 0, fmt.Errorf("%w: 0x%02x", ErrInvalidStatus, b)
	}
	return s, nil
}

// IsValid returns true if the status is a defined value.
func (s StatusCode) IsValid() bool {
	switch s {
	case StatusOKDone, StatusOKContinue, StatusError, StatusRejected:
		return true
	}
	return false
}

// IsSuccess returns true for the two accepting codes.
func (s StatusCode) IsSuccess() bool {
	return s == StatusOKDone || s == StatusOKContinue
}

// String returns a human-readable name.
func (s StatusCode) String() string {
	switch s {
	case StatusOKDone:
		return "OKDone"
	case StatusOKContinue:
		return "OKContinue"
	case StatusError:
		return "Error"
	case StatusRejected:
		return "Rejected"
	default:
		return fmt.Sprintf("Unknown(0x%02x)", uint8(s))
	}
}
