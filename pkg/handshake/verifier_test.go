package handshake

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/backkem/pico/pkg/crypto"
	"github.com/backkem/pico/pkg/message"
)

func testStart(t *testing.T, sessionID uint32) *message.StartMessage {
	t.Helper()
	eph := generateKeyPair(t)
	nonce, err := crypto.RandomNonce()
	if err != nil {
		t.Fatal(err)
	}
	value, err := nonce.Value()
	if err != nil {
		t.Fatal(err)
	}
	return &message.StartMessage{
		SessionID:          sessionID,
		ProverEphemeralKey: eph.PublicKeyBytes(),
		ProverNonce:        value,
	}
}

func acceptAll(context.Context, []byte, []byte) (Decision, error) {
	return Decision{Accept: true}, nil
}

func TestVerifier_StartValidation(t *testing.T) {
	v, err := NewVerifier(VerifierConfig{KeyPair: generateKeyPair(t), Authorizer: acceptAll})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(m *message.StartMessage)
	}{
		{"short nonce", func(m *message.StartMessage) { m.ProverNonce = m.ProverNonce[:4] }},
		{"garbage key", func(m *message.StartMessage) { m.ProverEphemeralKey = []byte("not a key") }},
		{"empty key", func(m *message.StartMessage) { m.ProverEphemeralKey = nil }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := testStart(t, 1)
			tc.mutate(m)
			if _, err := v.Start(ctx, m); !errors.Is(err, ErrProtocolViolation) {
				t.Errorf("error = %v, want ErrProtocolViolation", err)
			}
		})
	}
	if _, err := v.Start(ctx, nil); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("nil Start: error = %v", err)
	}
}

func TestVerifier_DuplicateSessionID(t *testing.T) {
	v, _ := NewVerifier(VerifierConfig{KeyPair: generateKeyPair(t), Authorizer: acceptAll})
	ctx := context.Background()

	if _, err := v.Start(ctx, testStart(t, 42)); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if _, err := v.Start(ctx, testStart(t, 42)); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("duplicate: error = %v, want ErrProtocolViolation", err)
	}
	if v.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", v.Pending())
	}
}

func TestVerifier_UnknownSession(t *testing.T) {
	v, _ := NewVerifier(VerifierConfig{KeyPair: generateKeyPair(t), Authorizer: acceptAll})
	m := &message.EncPicoAuthMessage{Envelope: message.Envelope{SessionID: 7, IV: make([]byte, 12), Ciphertext: make([]byte, 32)}}
	status, result, err := v.Authenticate(context.Background(), m)
	if !errors.Is(err, ErrProtocolViolation) || status != nil || result != nil {
		t.Errorf("Authenticate() = %v, %v, %v", status, result, err)
	}
}

func TestVerifier_PendingExpiry(t *testing.T) {
	now := time.Unix(0, 0)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	v, _ := NewVerifier(VerifierConfig{
		KeyPair:        generateKeyPair(t),
		Authorizer:     acceptAll,
		PendingTimeout: time.Second,
		Clock:          clock,
	})
	ctx := context.Background()

	if _, err := v.Start(ctx, testStart(t, 1)); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	now = now.Add(2 * time.Second)
	mu.Unlock()

	if v.Pending() != 0 {
		t.Errorf("Pending() = %d after expiry", v.Pending())
	}
	// The ID is free again.
	if _, err := v.Start(ctx, testStart(t, 1)); err != nil {
		t.Errorf("Start() after expiry failed: %v", err)
	}
}

func TestVerifier_MaxPending(t *testing.T) {
	v, _ := NewVerifier(VerifierConfig{KeyPair: generateKeyPair(t), Authorizer: acceptAll, MaxPending: 2})
	ctx := context.Background()
	for i := uint32(1); i <= 2; i++ {
		if _, err := v.Start(ctx, testStart(t, i)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := v.Start(ctx, testStart(t, 3)); !errors.Is(err, ErrTooManyPending) {
		t.Errorf("error = %v, want ErrTooManyPending", err)
	}
}

// TestVerifier_ConcurrentSessions runs several handshakes against one verifier.
func TestVerifier_ConcurrentSessions(t *testing.T) {
	verifierKey := generateKeyPair(t)
	v, _ := NewVerifier(VerifierConfig{KeyPair: verifierKey, Authorizer: acceptAll})

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			kp, err := crypto.GenerateKeyPair(nil)
			if err != nil {
				errs <- err
				return
			}
			p, err := NewProver(ProverConfig{
				KeyPair:                    kp,
				Channel:                    &LocalChannel{Verifier: v},
				ExpectedVerifierCommitment: verifierKey.Commitment(),
			})
			if err != nil {
				errs <- err
				return
			}
			if _, err := p.Prove(context.Background()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent handshake failed: %v", err)
	}
	if v.Pending() != 0 {
		t.Errorf("Pending() = %d", v.Pending())
	}
}
