package datastore

import (
	"fmt"
	"os"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	BackendMemory   = "memory"
	BackendLevelDB  = "leveldb"
	BackendPebble   = "pebble"
	BackendBolt     = "bolt"
	BackendSnapshot = "snapshot"
)

var Backends = []string{BackendMemory, BackendLevelDB, BackendPebble, BackendBolt, BackendSnapshot}

// Open builds the durable store named by backend rooted at path.
func Open(backend, path string) (Store, error) {
	if backend != BackendMemory && path == "" {
		return nil, fmt.Errorf("backend %q requires a path", backend)
	}

	switch backend {
	case BackendMemory:
		return NewInMemDataStore(), nil
	case BackendLevelDB:
		return NewLevelDBStore(path)
	case BackendPebble:
		return NewPebbleStore(path)
	case BackendBolt:
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, err
		}
		return NewBoltStore(filepath.Join(path, "store.bolt"))
	case BackendSnapshot:
		return NewSnapshotStore(path)
	default:
		return nil, fmt.Errorf("unknown backend %q, want one of %v", backend, Backends)
	}
}
