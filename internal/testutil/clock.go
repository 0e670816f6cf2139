package testutil

import "sync"

// BlockClock is a thread-safe, resettable block height counter for simulated
// chains. Each mined transaction advances the height by one; confirmation
// waits advance it further.
type BlockClock struct {
	mu     sync.Mutex
	height uint64
}

// NewBlockClock creates a clock at height 0. The first Mine() returns 1.
func NewBlockClock() *BlockClock {
	return &BlockClock{}
}

// Mine advances the height by one block and returns the new height.
func (c *BlockClock) Mine() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height++
	return c.height
}

// Advance mines n empty blocks and returns the new height.
func (c *BlockClock) Advance(n uint64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height += n
	return c.height
}

// Height returns the current height without advancing.
func (c *BlockClock) Height() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.height
}

// Reset returns the clock to height 0.
func (c *BlockClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height = 0
}
