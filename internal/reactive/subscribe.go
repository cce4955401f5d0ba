package reactive

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"reactive_kv_store/internal/keys"
)

// Callback receives the new value of key, or nil when the key was removed.
// Callbacks run on a writing goroutine after the store lock is released.
// Deliveries to one subscription never overlap: a change that arrives while
// the subscription is busy (including a write made from inside its own
// callback) is queued and delivered by the busy goroutine once the running
// callback returns. A queued value older than one already delivered for the
// same key is dropped, so a subscriber always ends on the latest value.
type Callback func(key string, value any)

type change struct {
	key     string
	value   any
	version uint64
}

type subscription struct {
	id       string
	pattern  keys.Pattern
	callback Callback

	mu         sync.Mutex
	pending    []change
	delivering bool
	delivered  map[string]uint64
}

// deliver queues changes and, unless another goroutine is already
// delivering, drains the queue.
func (sub *subscription) deliver(changes ...change) int {
	sub.mu.Lock()
	sub.pending = append(sub.pending, changes...)
	if sub.delivering {
		sub.mu.Unlock()
		return 0
	}
	sub.delivering = true

	n := 0
	for len(sub.pending) > 0 {
		c := sub.pending[0]
		sub.pending[0] = change{}
		sub.pending = sub.pending[1:]

		if last, ok := sub.delivered[c.key]; ok && c.version <= last {
			continue
		}
		sub.delivered[c.key] = c.version

		sub.mu.Unlock()
		sub.callback(c.key, c.value)
		n++
		sub.mu.Lock()
	}
	sub.pending = nil
	sub.delivering = false
	sub.mu.Unlock()
	return n
}

type subscribeOptions struct {
	skipInitial bool
}

type SubscribeOption func(*subscribeOptions)

// WithoutInitialValue suppresses delivery of the values already present
// when the subscription is made.
func WithoutInitialValue() SubscribeOption {
	return func(o *subscribeOptions) { o.skipInitial = true }
}

// Subscribe registers callback for every key matched by pattern and returns
// the subscription id. Unless WithoutInitialValue is given, callback is first
// invoked once per key currently matching.
func (s *Store) Subscribe(pattern keys.Pattern, callback Callback, opts ...SubscribeOption) (string, error) {
	if pattern == "" {
		return "", ErrEmptyKey
	}

	var o subscribeOptions
	for _, opt := range opts {
		opt(&o)
	}

	sub := &subscription{
		id:        uuid.NewString(),
		pattern:   pattern,
		callback:  callback,
		delivered: make(map[string]uint64),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	s.subs[sub.id] = sub

	var initial []change
	if !o.skipInitial {
		for key, value := range s.cache {
			if pattern.Matches(key) {
				initial = append(initial, change{key: key, value: value, version: s.versions[key]})
			}
		}
	}
	s.mu.Unlock()

	if len(initial) > 0 {
		s.stats.notifications.Add(uint64(sub.deliver(initial...)))
	}

	s.logger.Debug("Subscribed", zap.String("id", sub.id), zap.String("pattern", pattern.String()))
	return sub.id, nil
}

// Unsubscribe removes the subscription. Unknown ids are ignored.
func (s *Store) Unsubscribe(id string) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

// matchingLocked must be called with s.mu held.
func (s *Store) matchingLocked(key string) []*subscription {
	var out []*subscription
	for _, sub := range s.subs {
		if sub.pattern.Matches(key) {
			out = append(out, sub)
		}
	}
	return out
}

// nextVersionLocked must be called with s.mu held.
func (s *Store) nextVersionLocked() uint64 {
	s.version++
	return s.version
}

func (s *Store) notify(subs []*subscription, key string, value any, version uint64) {
	if len(subs) == 0 {
		return
	}

	start := time.Now()
	n := 0
	for _, sub := range subs {
		n += sub.deliver(change{key: key, value: value, version: version})
	}
	s.stats.notifications.Add(uint64(n))
	s.measureSince(start, "notify")
}
