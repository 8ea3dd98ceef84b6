package commands

import (
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/backkem/pico/pkg/crypto"
	"github.com/backkem/pico/pkg/session"
)

var errNoPassphrase = errors.New("no passphrase: use --passphrase or $" + passphraseEnv)

func readPassphrase() ([]byte, error) {
	p := passphrase
	if p == "" {
		p = os.Getenv(passphraseEnv)
	}
	if p == "" {
		return nil, errNoPassphrase
	}
	return []byte(p), nil
}

func loadIdentity() (*crypto.KeyPair, error) {
	pass, err := readPassphrase()
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(pass)

	data, err := os.ReadFile(cfg.Identity)
	if err != nil {
		return nil, fmt.Errorf("read identity: %w", err)
	}
	kp, err := crypto.DecryptPrivateKey(data, pass)
	if err != nil {
		return nil, fmt.Errorf("open identity %s: %w", cfg.Identity, err)
	}
	return kp, nil
}

func openStore() (*session.BoltStore, error) {
	return session.OpenBoltStore(session.BoltStoreConfig{
		Path:          cfg.Store,
		LoggerFactory: loggers,
	})
}

// parseCommitment accepts a commitment in hex or standard base64.
func parseCommitment(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if b, err := hex.DecodeString(s); err == nil && len(b) == crypto.CommitmentSize {
		return b, nil
	}
	if b, err := base64.StdEncoding.DecodeString(s); err == nil && len(b) == crypto.CommitmentSize {
		return b, nil
	}
	return nil, fmt.Errorf("invalid commitment %q: want %d bytes in hex or base64", s, crypto.CommitmentSize)
}

func formatCommitment(c []byte) string {
	return base64.StdEncoding.EncodeToString(c)
}
