package config

import (
	"fmt"
	"strings"
)

// LogConfig selects the minimum log level. LOG_LEVEL still applies to
// loggers created before the configuration is loaded.
type LogConfig struct {
	Level string `json:"level"`
}

// SetDefaults applies sane defaults.
func (c *LogConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

// Validate checks the level name.
func (c LogConfig) Validate() error {
	switch strings.ToLower(c.Level) {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("unknown level %s", c.Level)
}

// HTTPConfig configures the metrics and status listener. An empty Addr
// disables it.
type HTTPConfig struct {
	Addr string `json:"addr"`
	// Token, when set, is required as a bearer token by /api/journal.
	Token string `json:"token"`
}
