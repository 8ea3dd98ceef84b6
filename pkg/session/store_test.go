package session

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func stores(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"bolt": func(t *testing.T) Store {
			s, err := OpenBoltStore(BoltStoreConfig{Path: filepath.Join(t.TempDir(), "pico.db")})
			if err != nil {
				t.Fatalf("OpenBoltStore() failed: %v", err)
			}
			return s
		},
	}
}

func TestStore_Sessions(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			defer store.Close()

			a := New(1, []byte("key-a"), 7, StatusActive, time.Unix(100, 0).UTC())
			b := New(2, []byte("key-b"), 8, StatusPaused, time.Unix(200, 0).UTC())
			for _, s := range []*Session{a, b} {
				if err := store.SaveSession(s); err != nil {
					t.Fatalf("SaveSession() failed: %v", err)
				}
			}
			if a.ID == 0 || b.ID == 0 || a.ID == b.ID {
				t.Fatalf("IDs not assigned: %d %d", a.ID, b.ID)
			}

			got, err := store.LoadSession(a.ID)
			if err != nil {
				t.Fatalf("LoadSession() failed: %v", err)
			}
			if got.RemoteID != 1 || !bytes.Equal(got.SecretKey, []byte("key-a")) || got.PairingID != 7 {
				t.Errorf("LoadSession() = %+v", got)
			}
			if !got.LastAuthDate.Equal(a.LastAuthDate) {
				t.Errorf("LastAuthDate = %v, want %v", got.LastAuthDate, a.LastAuthDate)
			}

			// Loads are copies.
			got.SecretKey[0] = 'X'
			again, _ := store.LoadSession(a.ID)
			if again.SecretKey[0] != 'k' {
				t.Error("LoadSession() returned shared storage")
			}

			a.Status = StatusClosed
			if err := store.SaveSession(a); err != nil {
				t.Fatalf("SaveSession() update failed: %v", err)
			}
			all, err := store.LoadSessions()
			if err != nil {
				t.Fatalf("LoadSessions() failed: %v", err)
			}
			if len(all) != 2 || all[0].ID != a.ID || all[0].Status != StatusClosed {
				t.Errorf("LoadSessions() = %v", all)
			}

			if err := store.DeleteSession(b.ID); err != nil {
				t.Fatalf("DeleteSession() failed: %v", err)
			}
			if _, err := store.LoadSession(b.ID); !errors.Is(err, ErrSessionNotFound) {
				t.Errorf("deleted: error = %v, want ErrSessionNotFound", err)
			}

			bad := &Session{Status: Status(99)}
			if err := store.SaveSession(bad); !errors.Is(err, ErrInvalidStatus) {
				t.Errorf("invalid status: error = %v, want ErrInvalidStatus", err)
			}
		})
	}
}

func TestStore_Pairings(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			defer store.Close()

			p := &Pairing{
				Name:              "laptop",
				ServiceName:       "example",
				ServiceCommitment: bytes.Repeat([]byte{0xAB}, 32),
				ServiceAddress:    "127.0.0.1:5330",
				Created:           time.Unix(300, 0).UTC(),
			}
			if err := store.SavePairing(p); err != nil {
				t.Fatalf("SavePairing() failed: %v", err)
			}
			s := New(9, []byte("k"), p.ID, StatusActive, time.Unix(400, 0))
			if err := store.SaveSession(s); err != nil {
				t.Fatalf("SaveSession() failed: %v", err)
			}

			got, err := store.LoadPairing(p.ID)
			if err != nil {
				t.Fatalf("LoadPairing() failed: %v", err)
			}
			if got.Name != "laptop" || got.ServiceAddress != p.ServiceAddress || !bytes.Equal(got.ServiceCommitment, p.ServiceCommitment) {
				t.Errorf("LoadPairing() = %+v", got)
			}

			found, err := FindPairing(store, func(c *Pairing) bool {
				return bytes.Equal(c.ServiceCommitment, p.ServiceCommitment)
			})
			if err != nil || found.ID != p.ID {
				t.Errorf("FindPairing() = %v, %v", found, err)
			}
			if _, err := FindPairing(store, func(*Pairing) bool { return false }); !errors.Is(err, ErrPairingNotFound) {
				t.Errorf("FindPairing() miss: error = %v", err)
			}

			if err := store.DeletePairing(p.ID); err != nil {
				t.Fatalf("DeletePairing() failed: %v", err)
			}
			if _, err := store.LoadPairing(p.ID); !errors.Is(err, ErrPairingNotFound) {
				t.Errorf("deleted: error = %v, want ErrPairingNotFound", err)
			}
			if _, err := store.LoadSession(s.ID); !errors.Is(err, ErrSessionNotFound) {
				t.Errorf("session of deleted pairing: error = %v, want ErrSessionNotFound", err)
			}
		})
	}
}

func TestStore_Closed(t *testing.T) {
	for name, open := range stores(t) {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			if err := store.Close(); err != nil {
				t.Fatalf("Close() failed: %v", err)
			}
			if _, err := store.LoadSessions(); !errors.Is(err, ErrStoreClosed) {
				t.Errorf("error = %v, want ErrStoreClosed", err)
			}
		})
	}
}

func TestBoltStore_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pico.db")

	store, err := OpenBoltStore(BoltStoreConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenBoltStore() failed: %v", err)
	}
	s := New(77, []byte("persisted key"), 1, StatusPaused, time.Unix(500, 0))
	s.AuthToken = []byte("token")
	if err := store.SaveSession(s); err != nil {
		t.Fatalf("SaveSession() failed: %v", err)
	}
	store.Close()

	store, err = OpenBoltStore(BoltStoreConfig{Path: path})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer store.Close()

	got, err := store.LoadSession(s.ID)
	if err != nil {
		t.Fatalf("LoadSession() failed: %v", err)
	}
	if got.RemoteID != 77 || got.Status != StatusPaused || string(got.AuthToken) != "token" {
		t.Errorf("LoadSession() = %+v", got)
	}

	next := New(78, nil, 1, StatusActive, time.Unix(600, 0))
	if err := store.SaveSession(next); err != nil {
		t.Fatal(err)
	}
	if next.ID <= s.ID {
		t.Errorf("ID sequence restarted: %d <= %d", next.ID, s.ID)
	}
}
