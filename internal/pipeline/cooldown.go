package pipeline

import (
	"sync"
	"time"
)

// CooldownState maps device ids to the wall-clock time of their last
// successful metric emission. It is owned by one Pipeline: created at
// initialization, discarded when the pipeline is replaced on a settings
// change. Entries are never deleted; the device population is small and
// stable, so the map stays bounded.
type CooldownState struct {
	mu           sync.Mutex
	lastEmission map[string]time.Time
}

func NewCooldownState() *CooldownState {
	return &CooldownState{
		lastEmission: make(map[string]time.Time),
	}
}

// Remaining reports how much of the cooldown window is left for the
// device. Zero means the gate is open. A suppressed session must not
// touch the stored timestamp, so this is read-only.
func (c *CooldownState) Remaining(deviceID string, now time.Time, window time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.lastEmission[deviceID]
	if !ok {
		return 0
	}
	elapsed := now.Sub(last)
	if elapsed >= window {
		return 0
	}
	return window - elapsed
}

// MarkEmitted records a successful emission for the device. Called only
// when a session actually handed at least one record to the sink; a
// session whose every detection was filtered out must not consume the
// cooldown token.
func (c *CooldownState) MarkEmitted(deviceID string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastEmission[deviceID] = now
}
