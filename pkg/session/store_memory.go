package session

import (
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store implementation.
// Useful for testing and development. Data is lost when the process exits.
//
// All methods are safe for concurrent use.
type MemoryStore struct {
	mu sync.RWMutex

	sessions      map[uint64]*Session
	pairings      map[uint64]*Pairing
	nextSessionID uint64
	nextPairingID uint64
	closed        bool
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:      make(map[uint64]*Session),
		pairings:      make(map[uint64]*Pairing),
		nextSessionID: 1,
		nextPairingID: 1,
	}
}

// SaveSession stores or updates a session.
func (m *MemoryStore) SaveSession(s *Session) error {
	if err := s.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if s.ID == 0 {
		s.ID = m.nextSessionID
		m.nextSessionID++
	}
	m.sessions[s.ID] = s.Clone()
	return nil
}

// LoadSession returns the session with the given ID.
func (m *MemoryStore) LoadSession(id uint64) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.Clone(), nil
}

// LoadSessions returns all stored sessions ordered by ID.
func (m *MemoryStore) LoadSessions() ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	result := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		result = append(result, s.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// DeleteSession removes a session. Deleting a missing session is not an error.
func (m *MemoryStore) DeleteSession(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.sessions, id)
	return nil
}

// SavePairing stores or updates a pairing.
func (m *MemoryStore) SavePairing(p *Pairing) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	if p.ID == 0 {
		p.ID = m.nextPairingID
		m.nextPairingID++
	}
	m.pairings[p.ID] = p.Clone()
	return nil
}

// LoadPairing returns the pairing with the given ID.
func (m *MemoryStore) LoadPairing(id uint64) (*Pairing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	p, ok := m.pairings[id]
	if !ok {
		return nil, ErrPairingNotFound
	}
	return p.Clone(), nil
}

// LoadPairings returns all stored pairings ordered by ID.
func (m *MemoryStore) LoadPairings() ([]*Pairing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	result := make([]*Pairing, 0, len(m.pairings))
	for _, p := range m.pairings {
		result = append(result, p.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// DeletePairing removes a pairing and every session established under it.
func (m *MemoryStore) DeletePairing(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	delete(m.pairings, id)
	for sid, s := range m.sessions {
		if s.PairingID == id {
			delete(m.sessions, sid)
		}
	}
	return nil
}

// Close marks the store closed. Later calls return ErrStoreClosed.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Verify MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
