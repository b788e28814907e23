// Package store persists finalized mapping artifacts keyed by session ID,
// so the data owner can de-anonymize a redacted document later.
//
// Two implementations are provided:
//   - memoryStore — in-memory only, used in tests and when no path is configured.
//   - bboltStore  — embedded key-value store (bbolt), used in production.
//
// The interface is intentionally minimal: one artifact is written per
// finalized session and read back per de-anonymization request. Iteration
// and batch operations are not needed. The stored artifact contains raw PII;
// file permissions are the only protection applied here — encryption is the
// caller's responsibility.
package store

import (
	"encoding/json"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"

	"github.com/ch8ri0s/pii-anonymizer/internal/session"
)

// Store is the mapping-artifact persistence interface.
// All implementations must be safe for concurrent use.
type Store interface {
	// Save persists the artifact under the session ID. Overwriting an
	// existing entry is an error: an artifact is exported exactly once.
	Save(sessionID string, a *session.Artifact) error

	// Load returns the artifact for the session ID, or ok=false.
	Load(sessionID string) (*session.Artifact, bool, error)

	// Close releases any resources held by the store.
	Close() error
}

// Open returns a bbolt-backed store when path is non-empty, or an in-memory
// store otherwise.
func Open(path string) (Store, error) {
	if path == "" {
		return NewMemory(), nil
	}
	return newBbolt(path)
}

// --- memoryStore ---------------------------------------------------------

type memoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]*session.Artifact
}

// NewMemory returns a thread-safe in-memory Store.
func NewMemory() Store {
	return &memoryStore{artifacts: make(map[string]*session.Artifact)}
}

func (s *memoryStore) Save(sessionID string, a *session.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.artifacts[sessionID]; exists {
		return fmt.Errorf("artifact for session %s already saved", sessionID)
	}
	s.artifacts[sessionID] = a
	return nil
}

func (s *memoryStore) Load(sessionID string) (*session.Artifact, bool, error) {
	s.mu.RLock()
	a, ok := s.artifacts[sessionID]
	s.mu.RUnlock()
	return a, ok, nil
}

func (s *memoryStore) Close() error { return nil }

// --- bboltStore ----------------------------------------------------------

const artifactBucket = "mapping_artifacts"

// bboltStore persists artifacts in an embedded bbolt database. The database
// file is created 0600 at the given path if it does not exist.
type bboltStore struct {
	db *bolt.DB
}

func newBbolt(path string) (Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open mapping store %q: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(artifactBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create artifact bucket: %w", err)
	}
	return &bboltStore{db: db}, nil
}

func (s *bboltStore) Save(sessionID string, a *session.Artifact) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(artifactBucket))
		if b == nil {
			return fmt.Errorf("bucket %q not found", artifactBucket)
		}
		if b.Get([]byte(sessionID)) != nil {
			return fmt.Errorf("artifact for session %s already saved", sessionID)
		}
		return b.Put([]byte(sessionID), data)
	})
}

func (s *bboltStore) Load(sessionID string) (*session.Artifact, bool, error) {
	var data []byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(artifactBucket))
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(sessionID)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	}); err != nil {
		return nil, false, fmt.Errorf("load artifact: %w", err)
	}
	if data == nil {
		return nil, false, nil
	}
	var a session.Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, false, fmt.Errorf("decode artifact: %w", err)
	}
	return &a, true, nil
}

func (s *bboltStore) Close() error { return s.db.Close() }
