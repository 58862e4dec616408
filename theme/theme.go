// Package theme owns the dark/light preference of a browser profile.
package theme

import (
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Key is the store key holding the persisted preference.
const Key = "theme-preference"

// Persisted values for Key.
const (
	Dark  = "dark"
	Light = "light"
)

// ErrNotInitialized is the panic value for a controller that was not built
// with NewController.
var ErrNotInitialized = errors.New("theme: controller used before initialization")

// Store is a durable key-value store scoped to one browser profile.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

// Name maps a preference to its persisted value.
func Name(isDark bool) string {
	if isDark {
		return Dark
	}
	return Light
}

// Parse maps a persisted value back to a preference. ok is false for
// anything other than Dark or Light.
func Parse(value string) (isDark bool, ok bool) {
	switch value {
	case Dark:
		return true, true
	case Light:
		return false, true
	}
	return false, false
}

// Controller holds the single authoritative preference for one profile.
// The first read loads the persisted value; every toggle writes it back
// before returning. When the store fails the controller keeps working in
// memory for the rest of its life.
type Controller struct {
	mu       sync.Mutex
	ready    bool
	store    Store
	fallback bool
	loaded   bool
	stored   bool
	isDark   bool
	logger   *zap.Logger
}

// NewController builds a controller over store. fallback is the preference
// reported when nothing is persisted. A nil store means memory-only.
func NewController(store Store, fallback bool, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		ready:    true,
		store:    store,
		fallback: fallback,
		logger:   logger,
	}
}

// Current returns true when the dark palette is active.
func (c *Controller) Current() bool {
	c.mustBeReady()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.load()
	return c.isDark
}

// Toggle flips the preference, persists it and returns the new value.
func (c *Controller) Toggle() bool {
	c.mustBeReady()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.load()
	c.isDark = !c.isDark
	if c.store != nil {
		if err := c.store.Set(Key, Name(c.isDark)); err != nil {
			c.degrade("write", err)
		} else {
			c.stored = true
		}
	}
	return c.isDark
}

// Settle writes the resolved default to the store when nothing is
// persisted yet. After that the preference only changes through Toggle, even
// if a later controller for the same profile is built with another fallback.
func (c *Controller) Settle() {
	c.mustBeReady()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.load()
	if c.store == nil || c.stored {
		return
	}
	if err := c.store.Set(Key, Name(c.isDark)); err != nil {
		c.degrade("write", err)
		return
	}
	c.stored = true
}

// Persistent reports whether the controller still writes through to its
// store.
func (c *Controller) Persistent() bool {
	c.mustBeReady()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store != nil
}

func (c *Controller) mustBeReady() {
	if c == nil || !c.ready {
		panic(ErrNotInitialized)
	}
}

// load must be called with mu held.
func (c *Controller) load() {
	if c.loaded {
		return
	}
	c.loaded = true
	c.isDark = c.fallback
	if c.store == nil {
		return
	}

	value, ok, err := c.store.Get(Key)
	if err != nil {
		c.degrade("read", err)
		return
	}
	if !ok {
		return
	}
	isDark, valid := Parse(value)
	if !valid {
		c.logger.Warn("ignoring unknown theme value", zap.String("value", value))
		return
	}
	c.isDark = isDark
	c.stored = true
}

// degrade must be called with mu held.
func (c *Controller) degrade(op string, err error) {
	c.logger.Warn("theme store unavailable, continuing in memory",
		zap.String("op", op),
		zap.Error(err))
	c.store = nil
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}
