package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
)

// SharedSecretSize is the size of a P-256 ECDH shared secret.
const SharedSecretSize = 32

// pemTypeECPrivateKey is the PEM block type used for SEC 1 private keys.
const pemTypeECPrivateKey = "EC PRIVATE KEY"

// Key errors.
var (
	// ErrInvalidPublicKey is returned when a public key cannot be parsed or is not P-256.
	ErrInvalidPublicKey = errors.New("keys: invalid public key")

	// ErrInvalidPrivateKey is returned when a private key cannot be parsed.
	ErrInvalidPrivateKey = errors.New("keys: invalid private key")

	// ErrSignatureInvalid is returned when a signature does not verify.
	ErrSignatureInvalid = errors.New("keys: signature verification failed")
)

// KeyPair is a P-256 key pair. The same type serves as a long-term identity key
// (signing) and as a per-handshake ephemeral key (ECDH).
type KeyPair struct {
	private *ecdsa.PrivateKey
	public  []byte // PKIX DER, cached
}

// GenerateKeyPair generates a new P-256 key pair from r. A nil r uses crypto/rand.
func GenerateKeyPair(r io.Reader) (*KeyPair, error) {
	if r == nil {
		r = rand.Reader
	}
	priv, err := ecdsa.GenerateKey(elliptic.P256(), r)
	if err != nil {
		return nil, fmt.Errorf("keys: generate: %w", err)
	}
	return newKeyPair(priv)
}

func newKeyPair(priv *ecdsa.PrivateKey) (*KeyPair, error) {
	pub, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("keys: encode public key: %w", err)
	}
	return &KeyPair{private: priv, public: pub}, nil
}

// PublicKeyBytes returns the public key in PKIX DER form.
func (kp *KeyPair) PublicKeyBytes() []byte {
	out := make([]byte, len(kp.public))
	copy(out, kp.public)
	return out
}

// Commitment returns the commitment to this key pair's public key.
func (kp *KeyPair) Commitment() []byte {
	return Commitment(kp.public)
}

// Sign signs message with ECDSA over SHA-256 and returns an ASN.1 signature.
func (kp *KeyPair) Sign(r io.Reader, message []byte) ([]byte, error) {
	digest := sha256.Sum256(message)
	sig, err := ecdsa.SignASN1(r, kp.private, digest[:])
	if err != nil {
		return nil, fmt.Errorf("keys: sign: %w", err)
	}
	return sig, nil
}

// ECDH computes the shared secret with the peer's PKIX DER encoded public key.
func (kp *KeyPair) ECDH(peerPublicKey []byte) ([]byte, error) {
	peer, err := ParsePublicKey(peerPublicKey)
	if err != nil {
		return nil, err
	}
	peerECDH, err := peer.ECDH()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	local, err := kp.private.ECDH()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	secret, err := local.ECDH(peerECDH)
	if err != nil {
		return nil, fmt.Errorf("keys: ecdh: %w", err)
	}
	return secret, nil
}

// MarshalPrivateKey encodes the private key as a PEM SEC 1 block.
func (kp *KeyPair) MarshalPrivateKey() ([]byte, error) {
	der, err := x509.MarshalECPrivateKey(kp.private)
	if err != nil {
		return nil, fmt.Errorf("keys: encode private key: %w", err)
	}
	defer Wipe(der)
	return pem.EncodeToMemory(&pem.Block{Type: pemTypeECPrivateKey, Bytes: der}), nil
}

// ParsePrivateKey decodes a PEM SEC 1 private key produced by MarshalPrivateKey.
func ParsePrivateKey(data []byte) (*KeyPair, error) {
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemTypeECPrivateKey {
		return nil, fmt.Errorf("%w: no %s block", ErrInvalidPrivateKey, pemTypeECPrivateKey)
	}
	priv, err := x509.ParseECPrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	if priv.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: not a P-256 key", ErrInvalidPrivateKey)
	}
	return newKeyPair(priv)
}

// ParsePublicKey decodes a PKIX DER P-256 public key.
func ParsePublicKey(der []byte) (*ecdsa.PublicKey, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return nil, fmt.Errorf("%w: not a P-256 key", ErrInvalidPublicKey)
	}
	return pub, nil
}

// ValidatePublicKey checks that der is a well-formed P-256 public key on the curve.
func ValidatePublicKey(der []byte) error {
	pub, err := ParsePublicKey(der)
	if err != nil {
		return err
	}
	if _, err := pub.ECDH(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return nil
}

// VerifySignature checks an ASN.1 ECDSA/SHA-256 signature against a PKIX DER public key.
func VerifySignature(publicKey, message, signature []byte) error {
	pub, err := ParsePublicKey(publicKey)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(message)
	if !ecdsa.VerifyASN1(pub, digest[:], signature) {
		return ErrSignatureInvalid
	}
	return nil
}
