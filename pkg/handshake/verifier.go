package handshake

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/backkem/pico/pkg/crypto"
	"github.com/backkem/pico/pkg/message"
	"github.com/backkem/pico/pkg/session"
	"github.com/pion/logging"
)

// Verifier defaults.
const (
	// DefaultPendingTimeout bounds the time between Start and Authenticate.
	DefaultPendingTimeout = 30 * time.Second

	// DefaultMaxPending bounds the number of unfinished handshakes.
	DefaultMaxPending = 1024
)

// Decision is the application's answer for an authenticated prover.
type Decision struct {
	// Accept admits the prover.
	Accept bool

	// ExtraData is delivered to the prover in the status message, e.g. an
	// auth token.
	ExtraData []byte

	// Continuous requests continuous authentication after the handshake.
	Continuous bool
}

// Authorizer decides whether to admit a prover whose identity has been
// verified. proverPublicKey is PKIX DER; extraData is what the prover sent.
// A returned error aborts the handshake with an error status.
type Authorizer func(ctx context.Context, proverPublicKey, extraData []byte) (Decision, error)

// AcceptCommitments returns an Authorizer admitting provers whose public key
// commitment is in the list.
func AcceptCommitments(continuous bool, commitments ...[]byte) Authorizer {
	return func(_ context.Context, pub, _ []byte) (Decision, error) {
		c := crypto.Commitment(pub)
		for _, allowed := range commitments {
			if crypto.CommitmentEqual(c, allowed) {
				return Decision{Accept: true, Continuous: continuous}, nil
			}
		}
		return Decision{}, nil
	}
}

// AcceptPairings returns an Authorizer admitting provers named by the
// ProverCommitment of a pairing in store. The store is consulted on every
// handshake, so pairings added while serving take effect at once.
func AcceptPairings(store session.Store, continuous bool) Authorizer {
	return func(_ context.Context, pub, _ []byte) (Decision, error) {
		c := crypto.Commitment(pub)
		_, err := session.FindPairing(store, func(p *session.Pairing) bool {
			return crypto.CommitmentEqual(p.ProverCommitment, c)
		})
		if errors.Is(err, session.ErrPairingNotFound) {
			return Decision{}, nil
		}
		if err != nil {
			return Decision{}, err
		}
		return Decision{Accept: true, Continuous: continuous}, nil
	}
}

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	// KeyPair is the verifier's long-term identity key. Required.
	KeyPair *crypto.KeyPair

	// Authorizer admits or rejects authenticated provers. Required.
	Authorizer Authorizer

	// PendingTimeout bounds the time between Start and Authenticate.
	PendingTimeout time.Duration

	// MaxPending bounds the number of unfinished handshakes.
	MaxPending int

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time

	// Rand is the randomness source. Defaults to crypto/rand.
	Rand io.Reader

	// LoggerFactory for creating loggers. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration.
func (c *VerifierConfig) Validate() error {
	if c.KeyPair == nil {
		return fmt.Errorf("%w: KeyPair is required", ErrInvalidConfig)
	}
	if c.Authorizer == nil {
		return fmt.Errorf("%w: Authorizer is required", ErrInvalidConfig)
	}
	if c.PendingTimeout < 0 || c.MaxPending < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidConfig)
	}
	return nil
}

func (c *VerifierConfig) applyDefaults() {
	if c.PendingTimeout == 0 {
		c.PendingTimeout = DefaultPendingTimeout
	}
	if c.MaxPending == 0 {
		c.MaxPending = DefaultMaxPending
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.Rand == nil {
		c.Rand = rand.Reader
	}
}

// pendingHandshake is the state a verifier keeps between Start and
// Authenticate for one session ID.
type pendingHandshake struct {
	keys          *keySchedule
	proverEph     []byte
	verifierNonce *crypto.Nonce
	expires       time.Time
}

func (p *pendingHandshake) destroy() {
	p.keys.wipe()
	p.verifierNonce.Destroy()
}

// Verifier authenticates provers. Start and Authenticate may be called
// concurrently for different sessions; per-session state is keyed by session
// ID and removed on every outcome of Authenticate.
type Verifier struct {
	config VerifierConfig
	log    logging.LeveledLogger

	pending map[uint32]*pendingHandshake
	mu      sync.Mutex
}

// NewVerifier creates a verifier.
func NewVerifier(config VerifierConfig) (*Verifier, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	v := &Verifier{
		config:  config,
		pending: make(map[uint32]*pendingHandshake),
	}
	if config.LoggerFactory != nil {
		v.log = config.LoggerFactory.NewLogger("handshake")
	}
	return v, nil
}

// PublicKey returns the verifier's long-term public key.
func (v *Verifier) PublicKey() []byte {
	return v.config.KeyPair.PublicKeyBytes()
}

// Commitment returns the commitment a prover pins this verifier by.
func (v *Verifier) Commitment() []byte {
	return v.config.KeyPair.Commitment()
}

// Pending returns the number of unfinished handshakes.
func (v *Verifier) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.expireLocked(v.config.Clock())
	return len(v.pending)
}

// Start handles a StartMessage and returns the encrypted ServiceAuth reply.
func (v *Verifier) Start(ctx context.Context, m *message.StartMessage) (*message.EncServiceAuthMessage, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil Start", ErrProtocolViolation)
	}
	if len(m.ProverNonce) != crypto.NonceSize {
		return nil, fmt.Errorf("%w: prover nonce length %d", ErrProtocolViolation, len(m.ProverNonce))
	}
	if err := crypto.ValidatePublicKey(m.ProverEphemeralKey); err != nil {
		return nil, fmt.Errorf("%w: prover ephemeral key: %v", ErrProtocolViolation, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ephemeral, err := crypto.GenerateKeyPair(v.config.Rand)
	if err != nil {
		return nil, err
	}
	nonce, err := crypto.NewNonce(v.config.Rand)
	if err != nil {
		return nil, err
	}
	verifierNonce, err := nonce.Value()
	if err != nil {
		return nil, err
	}
	secret, err := ephemeral.ECDH(m.ProverEphemeralKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	keys, err := deriveKeys(secret, m.ProverNonce, verifierNonce, m.SessionID)
	crypto.Wipe(secret)
	if err != nil {
		return nil, err
	}
	p := &pendingHandshake{
		keys:          keys,
		proverEph:     bytes.Clone(m.ProverEphemeralKey),
		verifierNonce: nonce,
	}

	verifierEph := ephemeral.PublicKeyBytes()
	ownPub := v.config.KeyPair.PublicKeyBytes()
	sig, err := v.config.KeyPair.Sign(v.config.Rand, signedData(m.ProverNonce, m.SessionID, verifierEph))
	if err != nil {
		p.destroy()
		return nil, err
	}
	sa := &message.ServiceAuthMessage{
		SessionID:            m.SessionID,
		VerifierEphemeralKey: verifierEph,
		VerifierNonce:        verifierNonce,
		VerifierPublicKey:    ownPub,
		Signature:            sig,
		MAC:                  crypto.HMACSHA256(keys.verifierMAC, ownPub),
	}
	enc, err := sa.Encrypt(keys.verifierEnc)
	if err != nil {
		p.destroy()
		return nil, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.config.Clock()
	v.expireLocked(now)
	if _, ok := v.pending[m.SessionID]; ok {
		p.destroy()
		return nil, fmt.Errorf("%w: session %08x already in progress", ErrProtocolViolation, m.SessionID)
	}
	if len(v.pending) >= v.config.MaxPending {
		p.destroy()
		return nil, ErrTooManyPending
	}
	p.expires = now.Add(v.config.PendingTimeout)
	v.pending[m.SessionID] = p

	if v.log != nil {
		v.log.Debugf("handshake %08x: Start accepted", m.SessionID)
	}
	return enc, nil
}

// Authenticate handles the prover's PicoAuth message.
//
// On success it returns the encrypted status and the Result. When the prover
// fails authentication or is declined by the Authorizer it returns a negative
// status for the prover together with ErrProverAuthRejected. Messages that
// cannot be attributed to a pending session or fail decryption yield
// ErrProtocolViolation and no status.
func (v *Verifier) Authenticate(ctx context.Context, m *message.EncPicoAuthMessage) (*message.EncStatusMessage, *Result, error) {
	if m == nil {
		return nil, nil, fmt.Errorf("%w: nil PicoAuth", ErrProtocolViolation)
	}

	v.mu.Lock()
	v.expireLocked(v.config.Clock())
	p, ok := v.pending[m.SessionID]
	delete(v.pending, m.SessionID)
	v.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("%w: no pending handshake for session %08x", ErrProtocolViolation, m.SessionID)
	}
	defer p.destroy()

	pa, err := m.Decrypt(p.keys.proverEnc)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: PicoAuth: %v", ErrProtocolViolation, err)
	}

	verifierNonce, err := p.verifierNonce.Value()
	if err != nil {
		return nil, nil, err
	}
	if err := v.verifyPicoAuth(pa, verifierNonce, p); err != nil {
		return v.reject(m.SessionID, p, message.StatusRejected, err)
	}

	decision, err := v.config.Authorizer(ctx, pa.ProverPublicKey, pa.ExtraData)
	if err != nil {
		status, _, _ := v.reject(m.SessionID, p, message.StatusError, err)
		return status, nil, fmt.Errorf("handshake: authorizer: %w", err)
	}
	if !decision.Accept {
		return v.reject(m.SessionID, p, message.StatusRejected, fmt.Errorf("%w: declined by authorizer", ErrProverAuthRejected))
	}

	code := message.StatusOKDone
	if decision.Continuous {
		code = message.StatusOKContinue
	}
	status := &message.StatusMessage{SessionID: m.SessionID, Status: code, ExtraData: decision.ExtraData}
	enc, err := status.Encrypt(p.keys.verifierEnc)
	if err != nil {
		return nil, nil, err
	}

	if v.log != nil {
		v.log.Infof("handshake %08x complete (continuous=%v)", m.SessionID, decision.Continuous)
	}
	return enc, &Result{
		Role:           RoleVerifier,
		SessionID:      m.SessionID,
		SharedKey:      p.keys.sessionKey(),
		PeerPublicKey:  pa.ProverPublicKey,
		PeerCommitment: crypto.Commitment(pa.ProverPublicKey),
		ExtraData:      pa.ExtraData,
		Continuous:     decision.Continuous,
	}, nil
}

func (v *Verifier) verifyPicoAuth(pa *message.PicoAuthMessage, verifierNonce []byte, p *pendingHandshake) error {
	signed := signedData(verifierNonce, pa.SessionID, p.proverEph)
	if err := crypto.VerifySignature(pa.ProverPublicKey, signed, pa.Signature); err != nil {
		return fmt.Errorf("%w: %v", ErrProverAuthRejected, err)
	}
	if !crypto.HMACEqual(crypto.HMACSHA256(p.keys.proverMAC, pa.ProverPublicKey), pa.MAC) {
		return fmt.Errorf("%w: MAC mismatch", ErrProverAuthRejected)
	}
	return nil
}

// reject builds a negative status for the prover.
func (v *Verifier) reject(sessionID uint32, p *pendingHandshake, code message.StatusCode, cause error) (*message.EncStatusMessage, *Result, error) {
	if v.log != nil {
		v.log.Warnf("handshake %08x: %s: %v", sessionID, code, cause)
	}
	status := &message.StatusMessage{SessionID: sessionID, Status: code}
	enc, err := status.Encrypt(p.keys.verifierEnc)
	if err != nil {
		return nil, nil, err
	}
	return enc, nil, cause
}

func (v *Verifier) expireLocked(now time.Time) {
	for id, p := range v.pending {
		if now.After(p.expires) {
			p.destroy()
			delete(v.pending, id)
			if v.log != nil {
				v.log.Debugf("handshake %08x: pending state expired", id)
			}
		}
	}
}
