package dispatch

import (
	"fmt"
	"time"
)

// Config defines dispatch-related settings.
type Config struct {
	// Workers bounds the number of concurrent unit sends per tick.
	Workers int `json:"workers"`
	// WorkerWaitMS is how long a tick waits for its unit sends.
	WorkerWaitMS int `json:"worker_wait_ms"`
	// DrainTimeoutMS bounds the wait for outstanding sends on Close.
	DrainTimeoutMS int `json:"drain_timeout_ms"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Workers <= 0 {
		c.Workers = 10
	}
	if c.WorkerWaitMS <= 0 {
		c.WorkerWaitMS = 1000
	}
	if c.DrainTimeoutMS <= 0 {
		c.DrainTimeoutMS = 5000
	}
}

// Validate checks the values after defaults were applied.
func (c Config) Validate() error {
	if c.Workers > 1000 {
		return fmt.Errorf("dispatch: workers must be <= 1000, got %d", c.Workers)
	}
	return nil
}

func (c Config) workerWait() time.Duration { return time.Duration(c.WorkerWaitMS) * time.Millisecond }

// DrainTimeout returns the configured drain timeout.
func (c Config) DrainTimeout() time.Duration { return time.Duration(c.DrainTimeoutMS) * time.Millisecond }
