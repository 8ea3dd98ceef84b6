package handshake

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/backkem/pico/pkg/crypto"
	"github.com/backkem/pico/pkg/message"
	"github.com/pion/logging"
)

// ProverConfig configures a Prover.
type ProverConfig struct {
	// KeyPair is the prover's long-term identity key. Required.
	KeyPair *crypto.KeyPair

	// Channel carries messages to the verifier. Required.
	Channel VerifierChannel

	// ExpectedVerifierCommitment pins the verifier's identity key. Nil accepts
	// any verifier, which is only appropriate for first-contact pairing.
	ExpectedVerifierCommitment []byte

	// ExtraData is delivered to the verifier inside PicoAuth.
	ExtraData []byte

	// Rand is the randomness source. Defaults to crypto/rand.
	Rand io.Reader

	// LoggerFactory for creating loggers. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration.
func (c *ProverConfig) Validate() error {
	if c.KeyPair == nil {
		return fmt.Errorf("%w: KeyPair is required", ErrInvalidConfig)
	}
	if c.Channel == nil {
		return fmt.Errorf("%w: Channel is required", ErrInvalidConfig)
	}
	if c.ExpectedVerifierCommitment != nil && len(c.ExpectedVerifierCommitment) != crypto.CommitmentSize {
		return fmt.Errorf("%w: verifier commitment must be %d bytes", ErrInvalidConfig, crypto.CommitmentSize)
	}
	return nil
}

func (c *ProverConfig) applyDefaults() {
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
}

// Prover runs one handshake attempt against a verifier.
//
// Usage:
//  1. Create with NewProver()
//  2. Call Prove() once; it blocks until the handshake completes or fails
//  3. Use the Result (or SharedKey() and friends)
type Prover struct {
	config ProverConfig
	log    logging.LeveledLogger

	state             State
	sessionID         uint32
	sharedKey         []byte
	verifierPublicKey []byte
	receivedExtraData []byte

	mu sync.Mutex
}

// NewProver creates a prover in StateIdle.
func NewProver(config ProverConfig) (*Prover, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	p := &Prover{
		config: config,
		state:  StateIdle,
	}
	if config.LoggerFactory != nil {
		p.log = config.LoggerFactory.NewLogger("handshake")
	}
	return p, nil
}

// State returns the current handshake state.
func (p *Prover) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// SharedKey returns a copy of the session key, or nil before completion.
func (p *Prover) SharedKey() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.sharedKey)
}

// VerifierPublicKey returns the verified verifier public key, or nil.
func (p *Prover) VerifierPublicKey() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.verifierPublicKey)
}

// ReceivedExtraData returns the payload the verifier delivered in its status.
func (p *Prover) ReceivedExtraData() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.receivedExtraData)
}

// SessionID returns the session ID chosen for this attempt.
func (p *Prover) SessionID() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// proveRun holds the secrets of one attempt so they can be wiped on any exit.
type proveRun struct {
	ephemeral *crypto.KeyPair
	nonce     *crypto.Nonce
	keys      *keySchedule
}

func (r *proveRun) destroy() {
	r.ephemeral = nil
	if r.nonce != nil {
		r.nonce.Destroy()
	}
	r.keys.wipe()
}

// Prove runs the handshake. It may be called once.
func (p *Prover) Prove(ctx context.Context) (*Result, error) {
	p.mu.Lock()
	if p.state != StateIdle {
		state := p.state
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: Prove() called in state %s", ErrInvalidState, state)
	}
	p.state = StateStartSent
	p.mu.Unlock()

	run := &proveRun{}
	defer run.destroy()

	result, err := p.prove(ctx, run)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.state = StateFailed
		if p.log != nil {
			p.log.Warnf("handshake %08x failed: %v", p.sessionID, err)
		}
		return nil, err
	}
	p.state = StateComplete
	p.sharedKey = bytes.Clone(result.SharedKey)
	p.verifierPublicKey = result.PeerPublicKey
	p.receivedExtraData = result.ExtraData
	if p.log != nil {
		p.log.Infof("handshake %08x complete (continuous=%v)", result.SessionID, result.Continuous)
	}
	return result, nil
}

func (p *Prover) prove(ctx context.Context, run *proveRun) (*Result, error) {
	var err error
	var sid [4]byte
	if _, err := io.ReadFull(p.config.Rand, sid[:]); err != nil {
		return nil, fmt.Errorf("handshake: read session ID: %w", err)
	}
	sessionID := binary.BigEndian.Uint32(sid[:])
	p.mu.Lock()
	p.sessionID = sessionID
	p.mu.Unlock()

	if run.ephemeral, err = crypto.GenerateKeyPair(p.config.Rand); err != nil {
		return nil, err
	}
	if run.nonce, err = crypto.NewNonce(p.config.Rand); err != nil {
		return nil, err
	}
	proverNonce, err := run.nonce.Value()
	if err != nil {
		return nil, err
	}
	proverEph := run.ephemeral.PublicKeyBytes()

	// Round 1: Start -> ServiceAuth.
	start := &message.StartMessage{
		SessionID:          sessionID,
		ProverEphemeralKey: proverEph,
		ProverNonce:        proverNonce,
	}
	if p.log != nil {
		p.log.Debugf("handshake %08x: sending Start", sessionID)
	}
	encSA, err := p.config.Channel.Start(ctx, start)
	if err != nil {
		return nil, channelError("start", err)
	}
	if encSA == nil || encSA.SessionID != sessionID {
		return nil, fmt.Errorf("%w: ServiceAuth for wrong session", ErrProtocolViolation)
	}
	if len(encSA.VerifierNonce) != crypto.NonceSize {
		return nil, fmt.Errorf("%w: verifier nonce length %d", ErrProtocolViolation, len(encSA.VerifierNonce))
	}
	secret, err := run.ephemeral.ECDH(encSA.VerifierEphemeralKey)
	if err != nil {
		return nil, fmt.Errorf("%w: verifier ephemeral key: %v", ErrProtocolViolation, err)
	}
	run.keys, err = deriveKeys(secret, proverNonce, encSA.VerifierNonce, sessionID)
	crypto.Wipe(secret)
	if err != nil {
		return nil, err
	}
	sa, err := encSA.Decrypt(run.keys.verifierEnc)
	if err != nil {
		return nil, fmt.Errorf("%w: ServiceAuth: %v", ErrProtocolViolation, err)
	}

	// Authenticate the verifier.
	if err := p.verifyServiceAuth(sa, proverNonce, run.keys); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.state = StateServiceAuthReceived
	p.mu.Unlock()

	// Round 2: PicoAuth -> Status.
	ownPub := p.config.KeyPair.PublicKeyBytes()
	sig, err := p.config.KeyPair.Sign(p.config.Rand, signedData(sa.VerifierNonce, sessionID, proverEph))
	if err != nil {
		return nil, err
	}
	pa := &message.PicoAuthMessage{
		SessionID:       sessionID,
		ProverPublicKey: ownPub,
		Signature:       sig,
		MAC:             crypto.HMACSHA256(run.keys.proverMAC, ownPub),
		ExtraData:       p.config.ExtraData,
	}
	encPA, err := pa.Encrypt(run.keys.proverEnc)
	if err != nil {
		return nil, err
	}
	// Single use: nothing after this point needs the ephemeral secrets.
	run.nonce.Destroy()
	run.ephemeral = nil

	p.mu.Lock()
	p.state = StatePicoAuthSent
	p.mu.Unlock()
	if p.log != nil {
		p.log.Debugf("handshake %08x: verifier authenticated, sending PicoAuth", sessionID)
	}

	encStatus, err := p.config.Channel.Authenticate(ctx, encPA)
	if err != nil {
		return nil, channelError("authenticate", err)
	}
	if encStatus == nil || encStatus.SessionID != sessionID {
		return nil, fmt.Errorf("%w: Status for wrong session", ErrProtocolViolation)
	}
	status, err := encStatus.Decrypt(run.keys.verifierEnc)
	if err != nil {
		return nil, fmt.Errorf("%w: Status: %v", ErrProtocolViolation, err)
	}

	switch status.Status {
	case message.StatusOKDone, message.StatusOKContinue:
	case message.StatusRejected:
		return nil, ErrProverAuthRejected
	default:
		return nil, fmt.Errorf("%w: verifier reported %s", ErrProtocolViolation, status.Status)
	}

	return &Result{
		Role:           RoleProver,
		SessionID:      sessionID,
		SharedKey:      run.keys.sessionKey(),
		PeerPublicKey:  sa.VerifierPublicKey,
		PeerCommitment: crypto.Commitment(sa.VerifierPublicKey),
		ExtraData:      status.ExtraData,
		Continuous:     status.Status == message.StatusOKContinue,
	}, nil
}

// verifyServiceAuth checks the verifier's commitment, signature and MAC.
func (p *Prover) verifyServiceAuth(sa *message.ServiceAuthMessage, proverNonce []byte, keys *keySchedule) error {
	if expected := p.config.ExpectedVerifierCommitment; expected != nil {
		if !crypto.CommitmentEqual(crypto.Commitment(sa.VerifierPublicKey), expected) {
			return fmt.Errorf("%w: commitment mismatch", ErrVerifierAuthFailed)
		}
	}
	signed := signedData(proverNonce, sa.SessionID, sa.VerifierEphemeralKey)
	if err := crypto.VerifySignature(sa.VerifierPublicKey, signed, sa.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrVerifierAuthFailed, err)
	}
	if !crypto.HMACEqual(crypto.HMACSHA256(keys.verifierMAC, sa.VerifierPublicKey), sa.MAC) {
		return fmt.Errorf("%w: MAC mismatch", ErrVerifierAuthFailed)
	}
	return nil
}

// channelError keeps handshake errors reported by the channel and wraps
// everything else as ErrIO.
func channelError(op string, err error) error {
	if errors.Is(err, ErrProtocolViolation) || errors.Is(err, ErrProverAuthRejected) ||
		errors.Is(err, ErrVerifierAuthFailed) || errors.Is(err, ErrIO) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrIO, op, err)
}
