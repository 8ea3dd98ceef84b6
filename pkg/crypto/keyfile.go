package crypto

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/scrypt"
)

// scrypt parameters for identity key files.
const (
	keyFileVersion = 1
	keyFileSaltLen = 16
	keyFileN       = 1 << 15
	keyFileR       = 8
	keyFileP       = 1
)

var (
	// ErrWrongPassphrase is returned when a key file cannot be opened with the given passphrase.
	ErrWrongPassphrase = errors.New("keyfile: wrong passphrase or corrupted file")

	// ErrKeyFileParams is returned for scrypt parameters outside the range
	// EncryptPrivateKey writes.
	ErrKeyFileParams = errors.New("keyfile: scrypt parameters out of range")
)

type keyFile struct {
	V          int    `json:"v"`
	Salt       []byte `json:"salt"`
	N          int    `json:"scrypt_n"`
	R          int    `json:"scrypt_r"`
	P          int    `json:"scrypt_p"`
	IV         []byte `json:"iv"`
	Ciphertext []byte `json:"cipher"`
}

// EncryptPrivateKey seals a key pair under a passphrase-derived key.
// The result is a JSON document suitable for writing to disk.
func EncryptPrivateKey(kp *KeyPair, passphrase []byte) ([]byte, error) {
	raw, err := kp.MarshalPrivateKey()
	if err != nil {
		return nil, err
	}
	defer Wipe(raw)

	salt := make([]byte, keyFileSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("keyfile: read salt: %w", err)
	}
	key, err := scrypt.Key(passphrase, salt, keyFileN, keyFileR, keyFileP, SymmetricKeySize)
	if err != nil {
		return nil, fmt.Errorf("keyfile: derive key: %w", err)
	}
	defer Wipe(key)

	iv, ct, err := Seal(key, rand.Reader, raw, salt)
	if err != nil {
		return nil, err
	}
	return json.Marshal(keyFile{
		V:          keyFileVersion,
		Salt:       salt,
		N:          keyFileN,
		R:          keyFileR,
		P:          keyFileP,
		IV:         iv,
		Ciphertext: ct,
	})
}

// DecryptPrivateKey opens a document produced by EncryptPrivateKey.
func DecryptPrivateKey(data, passphrase []byte) (*KeyPair, error) {
	var f keyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("keyfile: decode: %w", err)
	}
	if f.V != keyFileVersion {
		return nil, fmt.Errorf("keyfile: unsupported version %d", f.V)
	}
	if err := f.checkParams(); err != nil {
		return nil, err
	}
	key, err := scrypt.Key(passphrase, f.Salt, f.N, f.R, f.P, SymmetricKeySize)
	if err != nil {
		return nil, fmt.Errorf("keyfile: derive key: %w", err)
	}
	defer Wipe(key)

	raw, err := Open(key, f.IV, f.Ciphertext, f.Salt)
	if err != nil {
		return nil, ErrWrongPassphrase
	}
	defer Wipe(raw)
	return ParsePrivateKey(raw)
}

// checkParams bounds the work a key file can demand of scrypt.
func (f *keyFile) checkParams() error {
	if f.N < 2 || f.N > keyFileN || f.N&(f.N-1) != 0 {
		return fmt.Errorf("%w: N=%d", ErrKeyFileParams, f.N)
	}
	if f.R < 1 || f.R > keyFileR {
		return fmt.Errorf("%w: r=%d", ErrKeyFileParams, f.R)
	}
	if f.P < 1 || f.P > keyFileP {
		return fmt.Errorf("%w: p=%d", ErrKeyFileParams, f.P)
	}
	return nil
}
