package theme

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StoreOpener returns the store for a profile. Returning nil makes the
// profile memory-only.
type StoreOpener func(profile string) Store

type registryEntry struct {
	ctrl     *Controller
	lastSeen time.Time
}

// Registry keeps one Controller per browser profile so that every request
// of a session reads the same value.
type Registry struct {
	mu      sync.Mutex
	open    StoreOpener
	idle    time.Duration
	entries map[string]*registryEntry
	logger  *zap.Logger
	now     func() time.Time
}

// NewRegistry creates a registry. Controllers unused for longer than idle
// are dropped by Sweep.
func NewRegistry(open StoreOpener, idle time.Duration, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if open == nil {
		open = func(string) Store { return nil }
	}
	return &Registry{
		open:    open,
		idle:    idle,
		entries: make(map[string]*registryEntry),
		logger:  logger,
		now:     time.Now,
	}
}

// Controller returns the profile's controller, creating it with fallback
// as the default preference on first use. A new controller settles its
// default into the store right away, so sweeping it never changes what the
// profile sees.
func (r *Registry) Controller(profile string, fallback bool) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[profile]; ok {
		e.lastSeen = r.now()
		return e.ctrl
	}

	ctrl := NewController(r.open(profile), fallback, r.logger.With(zap.String("profile", profile)))
	ctrl.Settle()
	r.entries[profile] = &registryEntry{ctrl: ctrl, lastSeen: r.now()}
	return ctrl
}

// Len returns the number of live controllers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep drops idle controllers and returns how many were removed.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.idle)
	removed := 0
	for profile, e := range r.entries {
		if e.lastSeen.Before(cutoff) {
			delete(r.entries, profile)
			removed++
		}
	}
	return removed
}

// Run sweeps periodically until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	interval := r.idle / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Debug("swept idle theme controllers", zap.Int("count", n))
			}
		}
	}
}
