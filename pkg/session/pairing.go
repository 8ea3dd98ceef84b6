package session

import (
	"bytes"
	"time"
)

// Pairing records a relationship between a prover and a verifier established
// out of band.
//
// On the prover side ServiceCommitment pins the verifier's identity key and
// ServiceAddress says where to reach it. On the verifier side
// ProverCommitment names the prover the pairing admits.
type Pairing struct {
	ID                uint64    `json:"id"`
	Name              string    `json:"name"`
	ServiceName       string    `json:"service_name"`
	ServiceCommitment []byte    `json:"service_commitment,omitempty"`
	ServiceAddress    string    `json:"service_address,omitempty"`
	ProverCommitment  []byte    `json:"prover_commitment,omitempty"`
	Created           time.Time `json:"created"`
}

// Clone returns a deep copy.
func (p *Pairing) Clone() *Pairing {
	if p == nil {
		return nil
	}
	c := *p
	c.ServiceCommitment = bytes.Clone(p.ServiceCommitment)
	c.ProverCommitment = bytes.Clone(p.ProverCommitment)
	return &c
}
