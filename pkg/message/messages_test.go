package message

import (
	"bytes"
	"crypto/rand"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/backkem/pico/pkg/crypto"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, crypto.SymmetricKeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return key
}

func testSeq(t *testing.T) crypto.SequenceNumber {
	t.Helper()
	s, err := crypto.RandomSequenceNumber()
	if err != nil {
		t.Fatalf("RandomSequenceNumber() failed: %v", err)
	}
	return s
}

// encryptable adapts every plaintext/encrypted pair to a common shape for table tests.
type encryptable struct {
	name    string
	plain   any
	encrypt func(key []byte) (any, error)
	decrypt func(enc any, key []byte) (any, error)
	env     func(enc any) *Envelope
}

func encryptables(t *testing.T) []encryptable {
	sa := &ServiceAuthMessage{
		SessionID:            7,
		VerifierEphemeralKey: []byte("verifier ephemeral key"),
		VerifierNonce:        []byte{1, 2, 3, 4, 5, 6, 7, 8},
		VerifierPublicKey:    []byte("verifier public key"),
		Signature:            []byte("signature"),
		MAC:                  []byte("mac"),
	}
	pa := &PicoAuthMessage{
		SessionID:       7,
		ProverPublicKey: []byte("prover public key"),
		Signature:       []byte("signature"),
		MAC:             []byte("mac"),
		ExtraData:       []byte("credentials"),
	}
	st := &StatusMessage{SessionID: 7, Status: StatusOKContinue, ExtraData: []byte("token")}
	pr := &PicoReauthMessage{SessionID: 7, State: ReauthPause, SequenceNumber: testSeq(t)}
	sr := &ServiceReauthMessage{SessionID: 7, State: ReauthContinue, Timeout: 10 * time.Second, SequenceNumber: testSeq(t)}

	return []encryptable{
		{
			name:    "ServiceAuth",
			plain:   sa,
			encrypt: func(k []byte) (any, error) { return sa.Encrypt(k) },
			decrypt: func(e any, k []byte) (any, error) { return e.(*EncServiceAuthMessage).Decrypt(k) },
			env:     func(e any) *Envelope { return &e.(*EncServiceAuthMessage).Envelope },
		},
		{
			name:    "PicoAuth",
			plain:   pa,
			encrypt: func(k []byte) (any, error) { return pa.Encrypt(k) },
			decrypt: func(e any, k []byte) (any, error) { return e.(*EncPicoAuthMessage).Decrypt(k) },
			env:     func(e any) *Envelope { return &e.(*EncPicoAuthMessage).Envelope },
		},
		{
			name:    "Status",
			plain:   st,
			encrypt: func(k []byte) (any, error) { return st.Encrypt(k) },
			decrypt: func(e any, k []byte) (any, error) { return e.(*EncStatusMessage).Decrypt(k) },
			env:     func(e any) *Envelope { return &e.(*EncStatusMessage).Envelope },
		},
		{
			name:    "PicoReauth",
			plain:   pr,
			encrypt: func(k []byte) (any, error) { return pr.Encrypt(k) },
			decrypt: func(e any, k []byte) (any, error) { return e.(*EncPicoReauthMessage).Decrypt(k) },
			env:     func(e any) *Envelope { return &e.(*EncPicoReauthMessage).Envelope },
		},
		{
			name:    "ServiceReauth",
			plain:   sr,
			encrypt: func(k []byte) (any, error) { return sr.Encrypt(k) },
			decrypt: func(e any, k []byte) (any, error) { return e.(*EncServiceReauthMessage).Decrypt(k) },
			env:     func(e any) *Envelope { return &e.(*EncServiceReauthMessage).Envelope },
		},
	}
}

func TestEncrypt_RoundTrip(t *testing.T) {
	key := testKey(t)
	for _, tc := range encryptables(t) {
		t.Run(tc.name, func(t *testing.T) {
			enc, err := tc.encrypt(key)
			if err != nil {
				t.Fatalf("Encrypt() failed: %v", err)
			}
			got, err := tc.decrypt(enc, key)
			if err != nil {
				t.Fatalf("Decrypt() failed: %v", err)
			}
			if !reflect.DeepEqual(got, tc.plain) {
				t.Errorf("Decrypt() = %+v, want %+v", got, tc.plain)
			}
		})
	}
}

func TestEncrypt_FreshIV(t *testing.T) {
	key := testKey(t)
	for _, tc := range encryptables(t) {
		t.Run(tc.name, func(t *testing.T) {
			a, _ := tc.encrypt(key)
			b, _ := tc.encrypt(key)
			ea, eb := tc.env(a), tc.env(b)
			if bytes.Equal(ea.IV, eb.IV) {
				t.Error("IV reused across encryptions")
			}
			if bytes.Equal(ea.Ciphertext, eb.Ciphertext) {
				t.Error("ciphertext identical across encryptions")
			}
			da, _ := tc.decrypt(a, key)
			db, _ := tc.decrypt(b, key)
			if !reflect.DeepEqual(da, db) {
				t.Error("both encryptions should decrypt to the same message")
			}
		})
	}
}

func TestDecrypt_Tampering(t *testing.T) {
	key := testKey(t)
	tampers := []struct {
		name  string
		apply func(e *Envelope) []byte // returns key to use
	}{
		{"wrong key", func(e *Envelope) []byte { return testKey(t) }},
		{"iv bit flip", func(e *Envelope) []byte { e.IV[0] ^= 0x01; return key }},
		{"ciphertext bit flip", func(e *Envelope) []byte { e.Ciphertext[0] ^= 0x01; return key }},
		{"tag bit flip", func(e *Envelope) []byte { e.Ciphertext[len(e.Ciphertext)-1] ^= 0x80; return key }},
		{"session id", func(e *Envelope) []byte { e.SessionID++; return key }},
		{"short iv", func(e *Envelope) []byte { e.IV = e.IV[:3]; return key }},
	}

	for _, tc := range encryptables(t) {
		for _, tamper := range tampers {
			t.Run(tc.name+"/"+tamper.name, func(t *testing.T) {
				enc, err := tc.encrypt(key)
				if err != nil {
					t.Fatalf("Encrypt() failed: %v", err)
				}
				useKey := tamper.apply(tc.env(enc))
				if _, err := tc.decrypt(enc, useKey); !errors.Is(err, ErrDecryptionFailed) {
					t.Errorf("error = %v, want ErrDecryptionFailed", err)
				}
			})
		}
	}
}

func TestDecrypt_ServiceAuthClearFields(t *testing.T) {
	key := testKey(t)
	sa := &ServiceAuthMessage{
		SessionID:            1,
		VerifierEphemeralKey: []byte("ephemeral"),
		VerifierNonce:        []byte{8, 7, 6, 5, 4, 3, 2, 1},
		VerifierPublicKey:    []byte("public"),
	}

	t.Run("ephemeral key", func(t *testing.T) {
		enc, _ := sa.Encrypt(key)
		enc.VerifierEphemeralKey[0] ^= 0x01
		if _, err := enc.Decrypt(key); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("error = %v, want ErrDecryptionFailed", err)
		}
	})
	t.Run("nonce", func(t *testing.T) {
		enc, _ := sa.Encrypt(key)
		enc.VerifierNonce[7] ^= 0x01
		if _, err := enc.Decrypt(key); !errors.Is(err, ErrDecryptionFailed) {
			t.Errorf("error = %v, want ErrDecryptionFailed", err)
		}
	})
}

func TestDecrypt_KindConfusion(t *testing.T) {
	key := testKey(t)
	pr := &PicoReauthMessage{SessionID: 3, State: ReauthContinue, SequenceNumber: testSeq(t)}
	enc, err := pr.Encrypt(key)
	if err != nil {
		t.Fatalf("Encrypt() failed: %v", err)
	}
	swapped := &EncServiceReauthMessage{Envelope: enc.Envelope}
	if _, err := swapped.Decrypt(key); !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("error = %v, want ErrDecryptionFailed", err)
	}
}

func TestEncrypted_MarshalRoundTrip(t *testing.T) {
	key := testKey(t)

	sa := &ServiceAuthMessage{SessionID: 9, VerifierEphemeralKey: []byte("e"), VerifierNonce: []byte("nnnnnnnn")}
	encSA, _ := sa.Encrypt(key)
	data, err := encSA.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() failed: %v", err)
	}
	var decodedSA EncServiceAuthMessage
	if err := decodedSA.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary() failed: %v", err)
	}
	if !reflect.DeepEqual(&decodedSA, encSA) {
		t.Errorf("decoded = %+v, want %+v", decodedSA, encSA)
	}

	st := &StatusMessage{SessionID: 9, Status: StatusRejected}
	encSt, _ := st.Encrypt(key)
	data, _ = encSt.MarshalBinary()
	var decodedSt EncStatusMessage
	if err := decodedSt.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary() failed: %v", err)
	}
	plain, err := decodedSt.Decrypt(key)
	if err != nil {
		t.Fatalf("Decrypt() failed: %v", err)
	}
	if !reflect.DeepEqual(plain, st) {
		t.Errorf("Decrypt() = %+v, want %+v", plain, st)
	}

	if err := decodedSt.UnmarshalBinary(append(data, 0x00)); !errors.Is(err, ErrTrailingData) {
		t.Errorf("trailing byte: error = %v, want ErrTrailingData", err)
	}
}

func TestStartMessage_MarshalRoundTrip(t *testing.T) {
	m := &StartMessage{SessionID: 0xCAFE, ProverEphemeralKey: []byte("key"), ProverNonce: []byte("12345678")}
	data, err := m.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary() failed: %v", err)
	}
	var got StartMessage
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary() failed: %v", err)
	}
	if !reflect.DeepEqual(&got, m) {
		t.Errorf("got %+v, want %+v", got, m)
	}
	if err := got.UnmarshalBinary(data[:len(data)-1]); !errors.Is(err, ErrTruncated) {
		t.Errorf("truncated: error = %v, want ErrTruncated", err)
	}
}

func TestPlaintext_InvalidFields(t *testing.T) {
	t.Run("reauth state", func(t *testing.T) {
		m := &PicoReauthMessage{SessionID: 1, State: ReauthState(0x09)}
		data, _ := m.MarshalBinary()
		var got PicoReauthMessage
		if err := got.UnmarshalBinary(data); !errors.Is(err, ErrInvalidReauthState) {
			t.Errorf("error = %v, want ErrInvalidReauthState", err)
		}
	})
	t.Run("status", func(t *testing.T) {
		m := &StatusMessage{SessionID: 1, Status: StatusCode(0x42)}
		data, _ := m.MarshalBinary()
		var got StatusMessage
		if err := got.UnmarshalBinary(data); !errors.Is(err, ErrInvalidStatus) {
			t.Errorf("error = %v, want ErrInvalidStatus", err)
		}
	})
	t.Run("negative timeout", func(t *testing.T) {
		m := &ServiceReauthMessage{SessionID: 1, Timeout: -time.Second}
		if _, err := m.Encrypt(testKey(t)); !errors.Is(err, ErrInvalidTimeout) {
			t.Errorf("error = %v, want ErrInvalidTimeout", err)
		}
	})
	t.Run("timeout truncated to milliseconds", func(t *testing.T) {
		key := testKey(t)
		m := &ServiceReauthMessage{SessionID: 1, Timeout: 1500*time.Millisecond + 300*time.Microsecond}
		enc, _ := m.Encrypt(key)
		got, err := enc.Decrypt(key)
		if err != nil {
			t.Fatalf("Decrypt() failed: %v", err)
		}
		if got.Timeout != 1500*time.Millisecond {
			t.Errorf("Timeout = %s, want 1.5s", got.Timeout)
		}
	})
}
