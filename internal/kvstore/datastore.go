package datastore

import (
	"errors"
	"fmt"
	"sync"

	levelDb "github.com/syndtr/goleveldb/leveldb"
)

// ErrNotFound is returned by Read when the key has no durable value.
var ErrNotFound = errors.New("key not found")

// Store is the durable persistence layer underneath the reactive store.
// Implementations must be safe for concurrent use.
type Store interface {
	Read(key string) ([]byte, error)
	Write(key string, value []byte) error
	Delete(key string) error
	GetAll() (map[string][]byte, error)
	Close() error
}

// InMemDataStore keeps "durable" data in a map. It survives a reactive store
// reload as long as the same instance is reused, which makes it the backend
// of choice for tests.
type InMemDataStore struct {
	mu    sync.RWMutex
	store map[string][]byte
}

func NewInMemDataStore() *InMemDataStore {
	return &InMemDataStore{
		store: make(map[string][]byte),
	}
}

func (d *InMemDataStore) Read(key string) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if value, exists := d.store[key]; exists {
		return append([]byte(nil), value...), nil
	}

	return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
}

func (d *InMemDataStore) Write(key string, value []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.store[key] = append([]byte(nil), value...)
	return nil
}

func (d *InMemDataStore) Delete(key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.store, key)
	return nil
}

func (d *InMemDataStore) Close() error {
	// nothing
	return nil
}

func (d *InMemDataStore) GetAll() (map[string][]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	response := make(map[string][]byte, len(d.store))
	for k, v := range d.store {
		response[k] = append([]byte(nil), v...)
	}
	return response, nil
}

type LevelDBStore struct {
	db   *levelDb.DB
	path string
}

func NewLevelDBStore(path string) (*LevelDBStore, error) {
	db, err := levelDb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open leveldb at %s: %w", path, err)
	}

	return &LevelDBStore{
		db:   db,
		path: path,
	}, nil
}

func (l *LevelDBStore) Read(key string) ([]byte, error) {
	value, err := l.db.Get([]byte(key), nil)
	if err != nil {
		if errors.Is(err, levelDb.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to read key %s: %w", key, err)
	}
	return value, nil
}

func (l *LevelDBStore) Write(key string, value []byte) error {
	err := l.db.Put([]byte(key), value, nil)
	if err != nil {
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return nil
}

func (l *LevelDBStore) Delete(key string) error {
	err := l.db.Delete([]byte(key), nil)
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (l *LevelDBStore) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

func (l *LevelDBStore) GetAll() (map[string][]byte, error) {
	response := map[string][]byte{}
	iter := l.db.NewIterator(nil, nil)
	defer iter.Release()

	for iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())

		value := make([]byte, len(iter.Value()))
		copy(value, iter.Value())

		response[string(key)] = value
	}

	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("failed to iterate leveldb at %s: %w", l.path, err)
	}
	return response, nil
}
