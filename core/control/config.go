package control

import (
	"fmt"
	"time"
)

// Config defines the control loop cadence.
type Config struct {
	// PollIntervalMS is the tick period.
	PollIntervalMS int `json:"poll_interval_ms"`
	// FlushTimeoutMS bounds the monitor flush during shutdown.
	FlushTimeoutMS int `json:"flush_timeout_ms"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.PollIntervalMS <= 0 {
		c.PollIntervalMS = 100
	}
	if c.FlushTimeoutMS <= 0 {
		c.FlushTimeoutMS = 2000
	}
}

// Validate checks the values after defaults were applied.
func (c Config) Validate() error {
	if c.PollIntervalMS < 1 {
		return fmt.Errorf("control: poll_interval_ms must be positive, got %d", c.PollIntervalMS)
	}
	return nil
}

func (c Config) pollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

func (c Config) flushTimeout() time.Duration {
	return time.Duration(c.FlushTimeoutMS) * time.Millisecond
}
