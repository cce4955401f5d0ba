package datastore

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/golang/snappy"
)

// snapshotState holds the data that gets persisted
type snapshotState struct {
	Entries map[string][]byte
}

// SnapshotStore keeps every entry in memory and rewrites a single
// snappy-compressed gob snapshot file on each mutation. It suits small
// data sets where an embedded LSM would be overkill.
type SnapshotStore struct {
	mu        sync.Mutex
	dir       string
	stateFile string
	entries   map[string][]byte
}

// NewSnapshotStore creates the snapshot directory and loads any saved state
func NewSnapshotStore(dir string) (*SnapshotStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	s := &SnapshotStore{
		dir:       dir,
		stateFile: filepath.Join(dir, "snapshot.dat"),
		entries:   make(map[string][]byte),
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SnapshotStore) load() error {
	data, err := os.ReadFile(s.stateFile)
	if err != nil {
		if os.IsNotExist(err) {
			// No saved state, start empty
			return nil
		}
		return fmt.Errorf("failed to read snapshot file: %w", err)
	}

	raw, err := snappy.Decode(nil, data)
	if err != nil {
		return fmt.Errorf("failed to decompress snapshot: %w", err)
	}

	var state snapshotState
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&state); err != nil {
		return fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if state.Entries != nil {
		s.entries = state.Entries
	}
	return nil
}

// save must be called with s.mu held
func (s *SnapshotStore) save() error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&snapshotState{Entries: s.entries}); err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	// Write to temporary file first, then rename for atomicity
	tempFile := s.stateFile + ".tmp"
	if err := os.WriteFile(tempFile, snappy.Encode(nil, buf.Bytes()), 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tempFile, s.stateFile); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

func (s *SnapshotStore) Read(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return append([]byte(nil), value...), nil
}

func (s *SnapshotStore) Write(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.entries[key]
	s.entries[key] = append([]byte(nil), value...)
	if err := s.save(); err != nil {
		s.restore(key, prev, had)
		return err
	}
	return nil
}

func (s *SnapshotStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.entries[key]
	if !ok {
		return nil
	}
	delete(s.entries, key)
	if err := s.save(); err != nil {
		s.restore(key, prev, true)
		return err
	}
	return nil
}

// restore undoes an in-memory change whose save failed, so the next
// successful save cannot persist it. Must be called with s.mu held.
func (s *SnapshotStore) restore(key string, prev []byte, had bool) {
	if had {
		s.entries[key] = prev
	} else {
		delete(s.entries, key)
	}
}

func (s *SnapshotStore) GetAll() (map[string][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	response := make(map[string][]byte, len(s.entries))
	for k, v := range s.entries {
		response[k] = append([]byte(nil), v...)
	}
	return response, nil
}

// Size returns the size of the snapshot file in bytes
func (s *SnapshotStore) Size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.stateFile)
	if err != nil {
		return 0
	}
	return info.Size()
}

func (s *SnapshotStore) Close() error {
	return nil
}
