// Package store keeps a durable, crash-safe snapshot of every instance's
// configuration and last-known state, plus (in txlog.go) an append-only
// swap/transaction history.
//
// Persisted state layout: one JSON document per instance, atomic rename on
// write, a sidecar index reconstructable from the directory listing. The
// write-temp-then-rename pattern is the standard Go idiom for crash-safe
// writes, kept deliberately simple: direct, unlayered I/O rather than an
// embedded database.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blackholelabs/lpstrategy/internal/strategy"
)

// Store persists InstanceState snapshots to a directory, one JSON file per
// instance, plus a sidecar index of known ids.
type Store struct {
	dir string
	mu  sync.Mutex
}

// New returns a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: creating directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(id uuid.UUID) string {
	return filepath.Join(s.dir, id.String()+".json")
}

// Persist durably writes state, overwriting any prior snapshot for the same
// instance. The write is atomic: it writes to a temp file in the same
// directory, then renames over the final path, so a crash mid-write never
// leaves a partially-written record in place of a good one.
func (s *Store) Persist(state *strategy.InstanceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.LastPersisted = time.Now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshaling instance %s: %w", state.ID, err)
	}

	final := s.path(state.ID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("store: writing temp file for %s: %w", state.ID, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("store: renaming temp file for %s: %w", state.ID, err)
	}
	return s.appendIndex(state.ID)
}

// Load reads back a single instance's last persisted state.
func (s *Store) Load(id uuid.UUID) (*strategy.InstanceState, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, fmt.Errorf("store: reading instance %s: %w", id, err)
	}
	var state strategy.InstanceState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("store: unmarshaling instance %s: %w", id, err)
	}
	return &state, nil
}

// LoadAll enumerates every persisted instance, reconstructing the id list
// straight from the directory listing rather than trusting the sidecar
// index — the index is an optimization, the directory is ground truth.
func (s *Store) LoadAll() ([]*strategy.InstanceState, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("store: listing %s: %w", s.dir, err)
	}

	var states []*strategy.InstanceState
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		id, err := uuid.Parse(e.Name()[:len(e.Name())-len(".json")])
		if err != nil {
			continue
		}
		state, err := s.Load(id)
		if err != nil {
			continue
		}
		states = append(states, state)
	}
	return states, nil
}

// Delete removes a persisted instance's snapshot.
func (s *Store) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: deleting instance %s: %w", id, err)
	}
	return s.removeFromIndex(id)
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dir, "index.json")
}

func (s *Store) appendIndex(id uuid.UUID) error {
	ids, _ := s.readIndex()
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	ids = append(ids, id)
	return s.writeIndex(ids)
}

func (s *Store) removeFromIndex(id uuid.UUID) error {
	ids, err := s.readIndex()
	if err != nil {
		return nil
	}
	out := ids[:0]
	for _, existing := range ids {
		if existing != id {
			out = append(out, existing)
		}
	}
	return s.writeIndex(out)
}

func (s *Store) readIndex() ([]uuid.UUID, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) writeIndex(ids []uuid.UUID) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.indexPath())
}
