package reauth

import (
	"context"

	"github.com/backkem/pico/pkg/message"
)

// Channel carries one continuous authentication round to the verifier.
// Transport failures, including reply timeouts, are returned as errors.
type Channel interface {
	Reauth(ctx context.Context, m *message.EncPicoReauthMessage) (*message.EncServiceReauthMessage, error)
}

// ChannelFunc adapts a function to Channel.
type ChannelFunc func(ctx context.Context, m *message.EncPicoReauthMessage) (*message.EncServiceReauthMessage, error)

// Reauth calls f.
func (f ChannelFunc) Reauth(ctx context.Context, m *message.EncPicoReauthMessage) (*message.EncServiceReauthMessage, error) {
	return f(ctx, m)
}
