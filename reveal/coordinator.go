// Package reveal decides when a page block has scrolled far enough into view
// to play its entrance animation. Each block is revealed at most once.
package reveal

import "math"

// DefaultThreshold is the visible fraction used when none is configured.
const DefaultThreshold = 0.25

// Viewport reports how much of each block is visible.
//
// Watch starts delivering visible fractions for blockID to fn until the
// returned cancel func is called. Implementations may call fn from inside
// Watch. A viewport that cannot measure intersection returns false from
// SupportsIntersection.
type Viewport interface {
	SupportsIntersection() bool
	Watch(blockID string, threshold float64, fn func(ratio float64)) (cancel func())
}

type block struct {
	threshold float64
	onReveal  func()
	cancel    func()
	revealed  bool
}

// Coordinator tracks registered blocks against a Viewport. It is meant to be
// driven from a single goroutine and is not safe for concurrent use.
type Coordinator struct {
	viewport Viewport
	blocks   map[string]*block
}

// NewCoordinator returns a coordinator over vp. A nil viewport behaves like
// one without intersection support.
func NewCoordinator(vp Viewport) *Coordinator {
	return &Coordinator{
		viewport: vp,
		blocks:   make(map[string]*block),
	}
}

// Observe registers blockID. onReveal runs once, the first time the visible
// fraction reaches threshold. Without intersection support the block is
// revealed immediately.
func (c *Coordinator) Observe(blockID string, threshold float64, onReveal func()) {
	if existing, ok := c.blocks[blockID]; ok {
		if existing.revealed {
			return
		}
		c.Unobserve(blockID)
	}

	b := &block{threshold: normalizeThreshold(threshold), onReveal: onReveal}
	c.blocks[blockID] = b

	if c.viewport == nil || !c.viewport.SupportsIntersection() {
		c.fire(b)
		return
	}

	cancel := c.viewport.Watch(blockID, b.threshold, func(ratio float64) {
		c.sample(blockID, b, ratio)
	})
	if b.revealed || c.blocks[blockID] != b {
		// Fired or unobserved synchronously from inside Watch.
		if cancel != nil {
			cancel()
		}
		return
	}
	b.cancel = cancel
}

// Unobserve stops tracking blockID and forgets its state. Unknown or already
// revealed blocks are fine.
func (c *Coordinator) Unobserve(blockID string) {
	b, ok := c.blocks[blockID]
	if !ok {
		return
	}
	delete(c.blocks, blockID)
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

// Revealed reports whether blockID has been revealed.
func (c *Coordinator) Revealed(blockID string) bool {
	b, ok := c.blocks[blockID]
	return ok && b.revealed
}

// Close unobserves every block.
func (c *Coordinator) Close() {
	for id := range c.blocks {
		c.Unobserve(id)
	}
}

func (c *Coordinator) sample(blockID string, b *block, ratio float64) {
	if c.blocks[blockID] != b || b.revealed {
		return
	}
	if ratio >= b.threshold {
		c.fire(b)
	}
}

func (c *Coordinator) fire(b *block) {
	b.revealed = true
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	if b.onReveal != nil {
		b.onReveal()
	}
}

func normalizeThreshold(t float64) float64 {
	switch {
	case math.IsNaN(t):
		return DefaultThreshold
	case t < 0:
		return 0
	case t > 1:
		return 1
	}
	return t
}
