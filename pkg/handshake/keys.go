package handshake

import (
	"encoding/binary"

	"github.com/backkem/pico/pkg/crypto"
)

// Key derivation info strings.
var (
	verifierMACInfo = []byte("pico-v-mac")
	proverMACInfo   = []byte("pico-p-mac")
	verifierEncInfo = []byte("pico-v-enc")
	proverEncInfo   = []byte("pico-p-enc")
	sessionKeyInfo  = []byte("pico-session")
)

// keySchedule holds every key derived from one ephemeral exchange.
type keySchedule struct {
	verifierMAC []byte
	proverMAC   []byte
	verifierEnc []byte
	proverEnc   []byte
	session     []byte
}

// deriveKeys expands the ECDH secret into the handshake and session keys.
func deriveKeys(secret, proverNonce, verifierNonce []byte, sessionID uint32) (*keySchedule, error) {
	salt := make([]byte, 0, len(proverNonce)+len(verifierNonce)+4)
	salt = append(salt, proverNonce...)
	salt = append(salt, verifierNonce...)
	salt = binary.BigEndian.AppendUint32(salt, sessionID)

	k := &keySchedule{}
	for _, d := range []struct {
		out  *[]byte
		info []byte
	}{
		{&k.verifierMAC, verifierMACInfo},
		{&k.proverMAC, proverMACInfo},
		{&k.verifierEnc, verifierEncInfo},
		{&k.proverEnc, proverEncInfo},
		{&k.session, sessionKeyInfo},
	} {
		key, err := crypto.HKDFSHA256(secret, salt, d.info, crypto.SymmetricKeySize)
		if err != nil {
			k.wipe()
			return nil, err
		}
		*d.out = key
	}
	return k, nil
}

// sessionKey returns a copy of the session key.
func (k *keySchedule) sessionKey() []byte {
	out := make([]byte, len(k.session))
	copy(out, k.session)
	return out
}

func (k *keySchedule) wipe() {
	if k == nil {
		return
	}
	crypto.Wipe(k.verifierMAC)
	crypto.Wipe(k.proverMAC)
	crypto.Wipe(k.verifierEnc)
	crypto.Wipe(k.proverEnc)
	crypto.Wipe(k.session)
}

// signedData builds nonce || sessionID || ephemeralKey, the data each side
// signs with its long-term key. Each side signs the peer's nonce and its own
// ephemeral key.
func signedData(nonce []byte, sessionID uint32, ephemeralKey []byte) []byte {
	out := make([]byte, 0, len(nonce)+4+len(ephemeralKey))
	out = append(out, nonce...)
	out = binary.BigEndian.AppendUint32(out, sessionID)
	return append(out, ephemeralKey...)
}
