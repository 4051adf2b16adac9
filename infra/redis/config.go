package redis

import (
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config holds the connection settings of the shared state store.
type Config struct {
	Addr            string `json:"addr"`
	Username        string `json:"username"`
	Password        string `json:"password"`
	DB              int    `json:"db"`
	PoolSize        int    `json:"pool_size"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	DialTimeoutMS   int    `json:"dial_timeout_ms"`
	MaxRetries      int    `json:"max_retries"`
	RetryIntervalMS int    `json:"retry_interval_ms"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Addr == "" {
		c.Addr = "localhost:6379"
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 128
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 32
	}
	if c.DialTimeoutMS <= 0 {
		c.DialTimeoutMS = 2000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.RetryIntervalMS <= 0 {
		c.RetryIntervalMS = 2000
	}
}

// Validate checks the values after defaults were applied.
func (c Config) Validate() error {
	if c.DB < 0 {
		return fmt.Errorf("redis: db must be >= 0, got %d", c.DB)
	}
	if c.MaxIdleConns > c.PoolSize {
		return fmt.Errorf("redis: max_idle_conns (%d) exceeds pool_size (%d)", c.MaxIdleConns, c.PoolSize)
	}
	return nil
}

func (c Config) retryInterval() time.Duration {
	return time.Duration(c.RetryIntervalMS) * time.Millisecond
}

func (c Config) options() *goredis.Options {
	dial := time.Duration(c.DialTimeoutMS) * time.Millisecond
	return &goredis.Options{
		Addr:         c.Addr,
		Username:     c.Username,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MaxIdleConns: c.MaxIdleConns,
		DialTimeout:  dial,
		ReadTimeout:  dial,
		WriteTimeout: dial,
		// Retries are driven by the store itself.
		MaxRetries: -1,
	}
}
