package session

// Store persists pairings and sessions.
//
// Save methods assign an ID to records whose ID is zero and write it back to
// the caller's record. Load methods return copies. All methods must be safe
// for concurrent use.
type Store interface {
	SaveSession(s *Session) error
	LoadSession(id uint64) (*Session, error)
	LoadSessions() ([]*Session, error)
	DeleteSession(id uint64) error

	SavePairing(p *Pairing) error
	LoadPairing(id uint64) (*Pairing, error)
	LoadPairings() ([]*Pairing, error)
	DeletePairing(id uint64) error

	Close() error
}

// FindPairing returns the first pairing for which match is true.
func FindPairing(store Store, match func(*Pairing) bool) (*Pairing, error) {
	pairings, err := store.LoadPairings()
	if err != nil {
		return nil, err
	}
	for _, p := range pairings {
		if match(p) {
			return p, nil
		}
	}
	return nil, ErrPairingNotFound
}
