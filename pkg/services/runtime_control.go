package services

import (
	"fmt"
	"sync"
	"time"

	"shelter-engine/pkg/logger"
)

// MinPollingInterval is the shortest interval RequestInterval accepts
const MinPollingInterval = 100 * time.Millisecond

// RuntimeControl holds the operator switches of the polling loop. The
// scheduler reads them at every tick, so a change takes effect at the next
// cycle boundary.
type RuntimeControl struct {
	mu       sync.RWMutex
	enabled  bool
	interval time.Duration
	log      logger.ILogger
}

// NewRuntimeControl creates a control with the configured defaults
func NewRuntimeControl(enabled bool, interval time.Duration, log logger.ILogger) *RuntimeControl {
	return &RuntimeControl{enabled: enabled, interval: interval, log: log}
}

// Enabled reports whether polling cycles should run
func (c *RuntimeControl) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// Interval returns the requested polling interval
func (c *RuntimeControl) Interval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.interval
}

// SetEnabled turns polling on or off
func (c *RuntimeControl) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled == enabled {
		return
	}
	c.enabled = enabled
	if enabled {
		c.log.LogInfo("🔧 Polling enabled")
	} else {
		c.log.LogInfo("🔧 Polling disabled")
	}
}

// RequestInterval asks for a new polling interval
func (c *RuntimeControl) RequestInterval(d time.Duration) error {
	if d < MinPollingInterval {
		return fmt.Errorf("polling interval %v is below the minimum of %v", d, MinPollingInterval)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log.LogInfo("🔧 Polling interval requested: %v → %v", c.interval, d)
	c.interval = d
	return nil
}
