// Package reactive implements an observable key-value store backed by a
// durable datastore. Every write updates an in-process cache, notifies
// subscribers of the key and, unless the key is volatile, is queued for
// durable persistence.
package reactive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/armon/go-metrics"
	"go.uber.org/zap"

	"reactive_kv_store/internal/keys"
	database "reactive_kv_store/internal/kvstore"
	"reactive_kv_store/internal/partition"
)

var (
	ErrEmptyKey = errors.New("key must not be empty")
	ErrClosed   = errors.New("store is closed")
)

type Store struct {
	mu sync.RWMutex

	backend database.Store
	cache   map[string]any

	// versions orders changes per key for subscribers
	version  uint64
	versions map[string]uint64

	// volatile keys are written to the cache only
	volatile keys.PatternSet

	subs   map[string]*subscription
	writer *writer
	closed bool

	logger  *zap.Logger
	metrics *metrics.Metrics
	stats   counters

	backlogWarn int
}

type options struct {
	logger      *zap.Logger
	metrics     *metrics.Metrics
	partitioner partition.Partitioner
	backlogWarn int
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics emits store counters to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithPartitioner sets how keys are spread over persistence lanes.
func WithPartitioner(p partition.Partitioner) Option {
	return func(o *options) { o.partitioner = p }
}

// WithBacklogWarning logs a warning whenever a persistence lane's backlog
// reaches n pending operations. Lanes are unbounded; writers never wait for
// durable I/O.
func WithBacklogWarning(n int) Option {
	return func(o *options) { o.backlogWarn = n }
}

// New loads every durable entry of backend into memory and starts the
// persistence lanes. The caller keeps ownership of backend.
func New(backend database.Store, opts ...Option) (*Store, error) {
	o := options{
		logger:      zap.NewNop(),
		partitioner: partition.NewModulo(1),
		backlogWarn: 1024,
	}
	for _, opt := range opts {
		opt(&o)
	}

	entries, err := backend.GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to load durable entries: %w", err)
	}

	s := &Store{
		backend:     backend,
		cache:       make(map[string]any, len(entries)),
		versions:    make(map[string]uint64, len(entries)),
		volatile:    keys.NewPatternSet(),
		subs:        make(map[string]*subscription),
		logger:      o.logger,
		metrics:     o.metrics,
		backlogWarn: o.backlogWarn,
	}
	for key, data := range entries {
		value, err := decode(data)
		if err != nil {
			o.logger.Warn("Skipping undecodable durable entry", zap.String("key", key), zap.Error(err))
			continue
		}
		s.cache[key] = value
		s.versions[key] = s.nextVersionLocked()
	}
	s.writer = newWriter(backend, o.partitioner, s.onPersistResult)

	s.logger.Debug("Store loaded", zap.Int("keys", len(s.cache)), zap.Int("lanes", o.partitioner.Lanes()))
	return s, nil
}

// Get returns the cached value of key.
func (s *Store) Get(key string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.cache[key]
	return value, ok
}

// GetCollection returns every cached key matched by pattern.
func (s *Store) GetCollection(pattern keys.Pattern) map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]any)
	for key, value := range s.cache {
		if pattern.Matches(key) {
			out[key] = value
		}
	}
	return out
}

// Keys returns every cached key in lexical order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.cache))
	for key := range s.cache {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

// Set stores value under key. A nil value removes the key.
func (s *Store) Set(key string, value any) error {
	if key == "" {
		return ErrEmptyKey
	}
	if value == nil {
		return s.Remove(key)
	}

	data, normalized, err := normalize(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %s: %w", key, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.cache[key] = normalized
	version := s.nextVersionLocked()
	s.versions[key] = version
	s.persistLocked(key, data)
	subs := s.matchingLocked(key)
	s.mu.Unlock()

	s.incr("set")
	s.notify(subs, key, normalized, version)
	return nil
}

// Merge deep-merges changes into the current value of key. See mergeValues.
func (s *Store) Merge(key string, changes map[string]any) error {
	if key == "" {
		return ErrEmptyKey
	}

	_, normalizedChanges, err := normalize(changes)
	if err != nil {
		return fmt.Errorf("failed to encode changes for %s: %w", key, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	changesMap, _ := normalizedChanges.(map[string]any)
	merged := mergeValues(s.cache[key], changesMap)
	data, err := encode(merged)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to encode merged value for %s: %w", key, err)
	}
	s.cache[key] = merged
	version := s.nextVersionLocked()
	s.versions[key] = version
	s.persistLocked(key, data)
	subs := s.matchingLocked(key)
	s.mu.Unlock()

	s.incr("merge")
	s.notify(subs, key, merged, version)
	return nil
}

// Remove drops key from memory and from durable storage. Durable deletion
// happens even for volatile keys so that an older persisted value cannot
// come back on the next load.
func (s *Store) Remove(key string) error {
	if key == "" {
		return ErrEmptyKey
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	delete(s.cache, key)
	delete(s.versions, key)
	version := s.nextVersionLocked()
	s.enqueueLocked(op{kind: opDelete, key: key})
	subs := s.matchingLocked(key)
	s.mu.Unlock()

	s.incr("remove")
	s.notify(subs, key, nil, version)
	return nil
}

// Clear removes every key except the ones listed in preserve.
func (s *Store) Clear(preserve ...string) error {
	keep := make(map[string]struct{}, len(preserve))
	for _, key := range preserve {
		keep[key] = struct{}{}
	}

	for _, key := range s.Keys() {
		if _, ok := keep[key]; ok {
			continue
		}
		if err := s.Remove(key); err != nil {
			return err
		}
	}
	return nil
}

// SetVolatileKeys replaces the whole volatile set. Writes issued after this
// call returns observe the new set. Data already in memory is not migrated.
func (s *Store) SetVolatileKeys(patterns keys.PatternSet) {
	s.mu.Lock()
	s.volatile = patterns.Clone()
	s.mu.Unlock()

	s.logger.Debug("Volatile keys replaced", zap.Strings("patterns", patterns.Strings()))
}

func (s *Store) VolatileKeys() keys.PatternSet {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.volatile.Clone()
}

// IsVolatile reports whether a write to key would skip durable storage.
func (s *Store) IsVolatile(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.volatile.Matches(key)
}

// Flush blocks until every durable write queued before the call is applied.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	done := s.writer.barrier()
	s.mu.RUnlock()

	for _, ch := range done {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close drains pending durable writes and stops the persistence lanes.
// Subscriptions are dropped. The backend is left open.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.subs = make(map[string]*subscription)
	s.mu.Unlock()

	s.writer.stop()
	return nil
}

// persistLocked must be called with s.mu held so that the volatile check
// and the enqueue happen in program order with SetVolatileKeys.
func (s *Store) persistLocked(key string, data []byte) {
	if s.volatile.Matches(key) {
		s.stats.skipped.Add(1)
		s.incr("persist", "skipped")
		return
	}
	s.enqueueLocked(op{kind: opWrite, key: key, data: data})
}

// enqueueLocked must be called with s.mu held. It never blocks.
func (s *Store) enqueueLocked(o op) {
	backlog := s.writer.enqueue(o)
	if s.backlogWarn > 0 && backlog == s.backlogWarn {
		s.incr("persist", "backlog")
		s.logger.Warn("Persistence lane is falling behind",
			zap.String("key", o.key), zap.Int("backlog", backlog))
	}
}

func (s *Store) onPersistResult(o op, err error) {
	if err != nil {
		s.stats.persistErrors.Add(1)
		s.incr("persist", "error")
		s.logger.Error("Durable write failed", zap.String("key", o.key), zap.Error(err))
		return
	}
	switch o.kind {
	case opWrite:
		s.stats.persisted.Add(1)
		s.incr("persist", "write")
	case opDelete:
		s.stats.deleted.Add(1)
		s.incr("persist", "delete")
	}
}

func (s *Store) incr(key ...string) {
	if s.metrics == nil {
		return
	}
	s.metrics.IncrCounter(append([]string{"store"}, key...), 1)
}

func (s *Store) measureSince(start time.Time, key ...string) {
	if s.metrics == nil {
		return
	}
	s.metrics.MeasureSince(append([]string{"store"}, key...), start)
}
