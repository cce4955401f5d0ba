// Package memorymode switches a reactive store between persisting every key
// and keeping a designated set of high-churn collections in memory only.
//
// The current mode is itself stored under keys.IsUsingMemoryOnlyKeys so that
// any subscriber can react to it. Turning the mode off does not migrate data
// written while it was on: that data lives in process memory until it is
// overwritten or the process exits.
package memorymode

import (
	"fmt"

	"go.uber.org/zap"

	"reactive_kv_store/internal/keys"
)

// DefaultPatterns are the collections kept in memory while the mode is on.
var DefaultPatterns = []keys.Pattern{
	keys.CollectionReport,
	keys.CollectionPolicy,
	keys.PersonalDetailsList,
}

// Store is the part of the reactive store the controller drives.
type Store interface {
	Set(key string, value any) error
	Get(key string) (any, bool)
	SetVolatileKeys(patterns keys.PatternSet)
}

type Controller struct {
	store    Store
	patterns keys.PatternSet
	logger   *zap.Logger
}

type Option func(*Controller)

// WithPatterns replaces DefaultPatterns.
func WithPatterns(patterns ...keys.Pattern) Option {
	return func(c *Controller) { c.patterns = keys.NewPatternSet(patterns...) }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// NewController returns a controller over store. The designated patterns
// must not cover the mode flag key, whose writes always have to be durable.
func NewController(store Store, opts ...Option) (*Controller, error) {
	c := &Controller{
		store:    store,
		patterns: keys.NewPatternSet(DefaultPatterns...),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.patterns.Len() == 0 {
		return nil, fmt.Errorf("memory only mode needs at least one key pattern")
	}
	if c.patterns.Matches(string(keys.IsUsingMemoryOnlyKeys)) {
		return nil, fmt.Errorf("key patterns %v cover the mode flag %q", c.patterns.Strings(), keys.IsUsingMemoryOnlyKeys)
	}
	return c, nil
}

// Enable turns memory-only mode on. It is idempotent.
func (c *Controller) Enable() error {
	c.logger.Info("Turning on memory only keys", zap.Strings("patterns", c.patterns.Strings()))

	if err := c.store.Set(string(keys.IsUsingMemoryOnlyKeys), true); err != nil {
		return err
	}
	c.store.SetVolatileKeys(c.patterns)
	return nil
}

// Disable turns memory-only mode off. It is idempotent.
func (c *Controller) Disable() error {
	c.logger.Info("Turning off memory only keys")

	if err := c.store.Set(string(keys.IsUsingMemoryOnlyKeys), false); err != nil {
		return err
	}
	c.store.SetVolatileKeys(keys.NewPatternSet())
	return nil
}

// Enabled reads the mode flag. A missing or non-boolean flag reads as off.
func (c *Controller) Enabled() bool {
	value, ok := c.store.Get(string(keys.IsUsingMemoryOnlyKeys))
	if !ok {
		return false
	}
	enabled, _ := value.(bool)
	return enabled
}

// Restore re-applies the mode recorded by the durable flag. The flag
// survives a restart but the volatile set does not, so this must run once
// after the store is loaded.
func (c *Controller) Restore() error {
	if c.Enabled() {
		return c.Enable()
	}
	return c.Disable()
}

// Patterns returns a copy of the designated patterns.
func (c *Controller) Patterns() keys.PatternSet {
	return c.patterns.Clone()
}
