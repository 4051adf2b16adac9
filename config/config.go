// Package config loads the fleetctl configuration from an optional YAML or
// JSON file followed by FLEETCTL_ environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/fleetctl/core/control"
	"github.com/kilianp07/fleetctl/core/dispatch"
	"github.com/kilianp07/fleetctl/core/journal"
	"github.com/kilianp07/fleetctl/core/metrics"
	"github.com/kilianp07/fleetctl/infra/monitoring"
	"github.com/kilianp07/fleetctl/infra/mqtt"
	"github.com/kilianp07/fleetctl/infra/redis"
)

// EnvPrefix prefixes environment overrides. Nested keys are separated by a
// double underscore, e.g. FLEETCTL_REDIS__ADDR.
const EnvPrefix = "FLEETCTL_"

type Config struct {
	Redis     redis.Config      `json:"redis"`
	MQTT      mqtt.Config       `json:"mqtt"`
	Dispatch  dispatch.Config   `json:"dispatch"`
	Scheduler control.Config    `json:"scheduler"`
	Metrics   metrics.Config    `json:"metrics"`
	Journal   journal.Config    `json:"journal"`
	HTTP      HTTPConfig        `json:"http"`
	Sentry    monitoring.Config `json:"sentry"`
	Log       LogConfig         `json:"log"`
}

// Load reads the file at path, when not empty, then applies environment
// overrides, defaults and validation.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults applies the defaults of every section.
func (c *Config) SetDefaults() {
	c.Redis.SetDefaults()
	c.MQTT.SetDefaults()
	c.Dispatch.SetDefaults()
	c.Scheduler.SetDefaults()
	c.Journal.SetDefaults()
	c.Log.SetDefaults()
}

// Validate checks every section.
func (c Config) Validate() error {
	validators := []struct {
		name string
		fn   func() error
	}{
		{"redis", c.Redis.Validate},
		{"mqtt", c.MQTT.Validate},
		{"dispatch", c.Dispatch.Validate},
		{"scheduler", c.Scheduler.Validate},
		{"journal", c.Journal.Validate},
		{"log", c.Log.Validate},
	}
	for _, v := range validators {
		if err := v.fn(); err != nil {
			return fmt.Errorf("config %s: %w", v.name, err)
		}
	}
	return nil
}
