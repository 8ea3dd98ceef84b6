package session

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pion/logging"
	bbolt "go.etcd.io/bbolt"
)

var (
	sessionsBucket = []byte("sessions")
	pairingsBucket = []byte("pairings")
)

// BoltStoreConfig configures a BoltStore.
type BoltStoreConfig struct {
	// Path of the database file. Created if missing.
	Path string

	// OpenTimeout bounds the wait for the file lock. Defaults to 1s.
	OpenTimeout time.Duration

	// LoggerFactory for creating loggers. Nil disables logging.
	LoggerFactory logging.LoggerFactory
}

// BoltStore is a Store backed by a bbolt database file. Records are JSON
// values keyed by their big-endian ID in one bucket per record type.
type BoltStore struct {
	db  *bbolt.DB
	log logging.LeveledLogger
}

// OpenBoltStore opens (or creates) the database at config.Path.
func OpenBoltStore(config BoltStoreConfig) (*BoltStore, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("session: bolt store path is required")
	}
	timeout := config.OpenTimeout
	if timeout == 0 {
		timeout = time.Second
	}

	db, err := bbolt.Open(config.Path, 0600, &bbolt.Options{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("session: open %s: %w", config.Path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{sessionsBucket, pairingsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("session: init buckets: %w", err)
	}

	s := &BoltStore{db: db}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("session")
		s.log.Debugf("opened store %s", config.Path)
	}
	return s, nil
}

func idKey(id uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], id)
	return k[:]
}

// put stores v under *id in bucket, allocating the ID from the bucket
// sequence when it is zero.
func put(tx *bbolt.Tx, bucket []byte, id *uint64, v func() ([]byte, error)) error {
	b := tx.Bucket(bucket)
	if *id == 0 {
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		*id = seq
	}
	buf, err := v()
	if err != nil {
		return err
	}
	return b.Put(idKey(*id), buf)
}

// SaveSession stores or updates a session.
func (s *BoltStore) SaveSession(sess *Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	id := sess.ID
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, sessionsBucket, &id, func() ([]byte, error) {
			c := sess.Clone()
			c.ID = id
			return json.Marshal(c)
		})
	})
	if err != nil {
		return s.wrap(err)
	}
	sess.ID = id
	return nil
}

// LoadSession returns the session with the given ID.
func (s *BoltStore) LoadSession(id uint64) (*Session, error) {
	var out *Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		buf := tx.Bucket(sessionsBucket).Get(idKey(id))
		if buf == nil {
			return ErrSessionNotFound
		}
		out = new(Session)
		return json.Unmarshal(buf, out)
	})
	if err != nil {
		return nil, s.wrap(err)
	}
	return out, nil
}

// LoadSessions returns all stored sessions ordered by ID.
func (s *BoltStore) LoadSessions() ([]*Session, error) {
	var out []*Session
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionsBucket).ForEach(func(_, v []byte) error {
			sess := new(Session)
			if err := json.Unmarshal(v, sess); err != nil {
				return err
			}
			out = append(out, sess)
			return nil
		})
	})
	if err != nil {
		return nil, s.wrap(err)
	}
	return out, nil
}

// DeleteSession removes a session. Deleting a missing session is not an error.
func (s *BoltStore) DeleteSession(id uint64) error {
	return s.wrap(s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(sessionsBucket).Delete(idKey(id))
	}))
}

// SavePairing stores or updates a pairing.
func (s *BoltStore) SavePairing(p *Pairing) error {
	id := p.ID
	err := s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx, pairingsBucket, &id, func() ([]byte, error) {
			c := p.Clone()
			c.ID = id
			return json.Marshal(c)
		})
	})
	if err != nil {
		return s.wrap(err)
	}
	p.ID = id
	return nil
}

// LoadPairing returns the pairing with the given ID.
func (s *BoltStore) LoadPairing(id uint64) (*Pairing, error) {
	var out *Pairing
	err := s.db.View(func(tx *bbolt.Tx) error {
		buf := tx.Bucket(pairingsBucket).Get(idKey(id))
		if buf == nil {
			return ErrPairingNotFound
		}
		out = new(Pairing)
		return json.Unmarshal(buf, out)
	})
	if err != nil {
		return nil, s.wrap(err)
	}
	return out, nil
}

// LoadPairings returns all stored pairings ordered by ID.
func (s *BoltStore) LoadPairings() ([]*Pairing, error) {
	var out []*Pairing
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(pairingsBucket).ForEach(func(_, v []byte) error {
			p := new(Pairing)
			if err := json.Unmarshal(v, p); err != nil {
				return err
			}
			out = append(out, p)
			return nil
		})
	})
	if err != nil {
		return nil, s.wrap(err)
	}
	return out, nil
}

// DeletePairing removes a pairing and every session established under it.
func (s *BoltStore) DeletePairing(id uint64) error {
	return s.wrap(s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(pairingsBucket).Delete(idKey(id)); err != nil {
			return err
		}
		sessions := tx.Bucket(sessionsBucket)
		var stale [][]byte
		err := sessions.ForEach(func(k, v []byte) error {
			var sess Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}
			if sess.PairingID == id {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := sessions.Delete(k); err != nil {
				return err
			}
		}
		return nil
	}))
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) wrap(err error) error {
	if err == bbolt.ErrDatabaseNotOpen {
		return ErrStoreClosed
	}
	return err
}

// Verify BoltStore implements Store.
var _ Store = (*BoltStore)(nil)
