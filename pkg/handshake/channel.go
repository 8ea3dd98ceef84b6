package handshake

import (
	"context"

	"github.com/backkem/pico/pkg/message"
)

// VerifierChannel carries the prover's handshake messages to a verifier and
// returns its replies. Implementations report transport failures as errors;
// the prover wraps them with ErrIO.
type VerifierChannel interface {
	Start(ctx context.Context, m *message.StartMessage) (*message.EncServiceAuthMessage, error)
	Authenticate(ctx context.Context, m *message.EncPicoAuthMessage) (*message.EncStatusMessage, error)
}

// LocalChannel connects a prover to an in-process Verifier.
type LocalChannel struct {
	Verifier *Verifier

	// OnResult is called with the verifier-side result of a successful handshake.
	OnResult func(*Result)

	// OnError is called when the verifier rejects a prover. The negative
	// status is still passed to the prover.
	OnError func(error)
}

// Start implements VerifierChannel.
func (c *LocalChannel) Start(ctx context.Context, m *message.StartMessage) (*message.EncServiceAuthMessage, error) {
	return c.Verifier.Start(ctx, m)
}

// Authenticate implements VerifierChannel.
func (c *LocalChannel) Authenticate(ctx context.Context, m *message.EncPicoAuthMessage) (*message.EncStatusMessage, error) {
	status, result, err := c.Verifier.Authenticate(ctx, m)
	if err != nil {
		if c.OnError != nil {
			c.OnError(err)
		}
		if status == nil {
			return nil, err
		}
		return status, nil
	}
	if c.OnResult != nil {
		c.OnResult(result)
	}
	return status, nil
}

var _ VerifierChannel = (*LocalChannel)(nil)
