// Package discovery advertises and finds Pico verifiers with DNS-SD.
//
// A verifier registers a "_pico._tcp" service whose TXT record carries its
// name and the commitment to its long-term public key. A prover that knows
// the commitment from pairing browses for the service and connects to the
// instance advertising it; the handshake then proves the verifier holds the
// committed key.
package discovery

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/backkem/pico/pkg/crypto"
)

// DNS-SD service parameters.
const (
	// ServicePico is the DNS-SD service type of a Pico verifier.
	ServicePico = "_pico._tcp"

	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."

	// DefaultPort is the default verifier port.
	DefaultPort = 7440
)

// TXT record keys.
const (
	// TXTKeyName is the human-readable service name.
	TXTKeyName = "nm"

	// TXTKeyCommitment is the base64 (standard, padded) verifier commitment.
	TXTKeyCommitment = "cm"

	// TXTKeyVersion is the protocol version.
	TXTKeyVersion = "v"
)

// ProtocolVersion is advertised under TXTKeyVersion.
const ProtocolVersion = 1

// MaxNameLength bounds the service name so the TXT entry fits in one
// 255-byte character string.
const MaxNameLength = 200

// ServiceTXT is the TXT record of a Pico verifier.
type ServiceTXT struct {
	// Name is the human-readable service name. Required.
	Name string

	// Commitment is the commitment to the verifier's public key.
	Commitment []byte

	// Version is the protocol version. Zero encodes as ProtocolVersion.
	Version int
}

// Validate checks the record.
func (t *ServiceTXT) Validate() error {
	if t.Name == "" || len(t.Name) > MaxNameLength {
		return ErrInvalidName
	}
	if len(t.Commitment) != crypto.CommitmentSize {
		return fmt.Errorf("%w: commitment must be %d bytes", ErrInvalidTXTRecord, crypto.CommitmentSize)
	}
	return nil
}

// Encode returns the TXT entries in key=value form.
func (t *ServiceTXT) Encode() []string {
	version := t.Version
	if version == 0 {
		version = ProtocolVersion
	}
	return []string{
		TXTKeyVersion + "=" + strconv.Itoa(version),
		TXTKeyName + "=" + t.Name,
		TXTKeyCommitment + "=" + base64.StdEncoding.EncodeToString(t.Commitment),
	}
}

// ParseTXT parses raw TXT record strings into a map.
func ParseTXT(records []string) map[string]string {
	result := make(map[string]string)
	for _, record := range records {
		if idx := strings.IndexByte(record, '='); idx > 0 {
			result[record[:idx]] = record[idx+1:]
		}
	}
	return result
}

// ParseServiceTXT parses raw TXT records into a ServiceTXT.
func ParseServiceTXT(records []string) (*ServiceTXT, error) {
	m := ParseTXT(records)
	txt := &ServiceTXT{Name: m[TXTKeyName], Version: ProtocolVersion}

	if v, ok := m[TXTKeyVersion]; ok {
		version, err := strconv.Atoi(v)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("%w: version %q", ErrInvalidTXTRecord, v)
		}
		txt.Version = version
	}

	cm, ok := m[TXTKeyCommitment]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidTXTRecord, TXTKeyCommitment)
	}
	commitment, err := base64.StdEncoding.DecodeString(cm)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTXTRecord, TXTKeyCommitment, err)
	}
	txt.Commitment = commitment

	if err := txt.Validate(); err != nil {
		return nil, err
	}
	return txt, nil
}
