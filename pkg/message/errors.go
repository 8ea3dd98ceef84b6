package message

import "errors"

// Message layer errors.
var (
	// Codec errors
	ErrTruncated    = errors.New("message: data truncated")
	ErrFieldTooLong = errors.New("message: field exceeds maximum length")
	ErrTrailingData = errors.New("message: trailing data after message")

	// Field validation errors
	ErrInvalidReauthState = errors.New("message: invalid reauth state")
	ErrInvalidStatus      = errors.New("message: invalid status code")
	ErrInvalidTimeout     = errors.New("message: timeout out of range")

	// Security errors
	ErrDecryptionFailed = errors.New("message: decryption/authentication failed")

	// Frame errors
	ErrFrameTooLarge    = errors.New("message: frame exceeds maximum size")
	ErrUnknownFrameType = errors.New("message: unknown frame type")
	ErrUnexpectedFrame  = errors.New("message: unexpected frame type")
)
