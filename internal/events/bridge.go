// Package events republishes reactive store changes on NATS so that other
// processes can follow them.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"reactive_kv_store/internal/keys"
	"reactive_kv_store/internal/reactive"
)

// Publisher is the subset of *nats.Conn the bridge needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Source is the subset of the reactive store the bridge subscribes to.
type Source interface {
	Subscribe(pattern keys.Pattern, callback reactive.Callback, opts ...reactive.SubscribeOption) (string, error)
	Unsubscribe(id string)
}

// Change is the JSON payload published for every store write.
type Change struct {
	Key     string `json:"key"`
	Value   any    `json:"value,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`
}

type Bridge struct {
	pub    Publisher
	prefix string
	logger *zap.Logger

	mu     sync.Mutex
	subIDs []string
	source Source

	published atomic.Uint64
	failed    atomic.Uint64
}

func NewBridge(pub Publisher, prefix string, logger *zap.Logger) (*Bridge, error) {
	if pub == nil {
		return nil, fmt.Errorf("publisher cannot be nil")
	}
	if prefix == "" {
		return nil, fmt.Errorf("subject prefix cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{pub: pub, prefix: prefix, logger: logger}, nil
}

// Connect dials NATS at url.
func Connect(url string, logger *zap.Logger) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("kvstore"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	return nc, nil
}

// Start subscribes to every pattern on source. Values already in the store
// are not replayed.
func (b *Bridge) Start(source Source, patterns []keys.Pattern) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.source != nil {
		return fmt.Errorf("bridge already started")
	}

	for _, p := range patterns {
		id, err := source.Subscribe(p, b.publish, reactive.WithoutInitialValue())
		if err != nil {
			for _, id := range b.subIDs {
				source.Unsubscribe(id)
			}
			b.subIDs = nil
			return fmt.Errorf("failed to subscribe to %s: %w", p, err)
		}
		b.subIDs = append(b.subIDs, id)
	}
	b.source = source
	return nil
}

// Stop removes the bridge's subscriptions.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.source == nil {
		return
	}
	for _, id := range b.subIDs {
		b.source.Unsubscribe(id)
	}
	b.subIDs = nil
	b.source = nil
}

// Subject maps a store key to a NATS subject. Tokens are dot separated in
// NATS, so dots, wildcards and whitespace inside keys are replaced.
func (b *Bridge) Subject(key string) string {
	return b.prefix + "." + subjectReplacer.Replace(key)
}

var subjectReplacer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_", "\t", "_")

func (b *Bridge) publish(key string, value any) {
	data, err := json.Marshal(Change{Key: key, Value: value, Deleted: value == nil})
	if err != nil {
		b.logger.Error("Failed to encode change", zap.String("key", key), zap.Error(err))
		return
	}

	if err := b.pub.Publish(b.Subject(key), data); err != nil {
		b.failed.Add(1)
		b.logger.Warn("Failed to publish change", zap.String("key", key), zap.Error(err))
		return
	}
	b.published.Add(1)
}

// Counts returns how many changes were published and how many failed.
func (b *Bridge) Counts() (published, failed uint64) {
	return b.published.Load(), b.failed.Load()
}
