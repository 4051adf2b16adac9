package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `redis:
  addr: "redis:6379"
  pool_size: 64
  max_idle_conns: 16
mqtt:
  broker: "tcp://broker:1883"
  client_id: "fleet"
  topics:
    unit: "units"
dispatch:
  workers: 4
scheduler:
  poll_interval_ms: 250
metrics:
  sinks:
    - type: "prometheus"
journal:
  backend: "sqlite"
http:
  addr: ":9108"
sentry:
  environment: "staging"
log:
  level: "debug"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 64, cfg.Redis.PoolSize)
	assert.Equal(t, 5, cfg.Redis.MaxRetries)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "fleet", cfg.MQTT.ClientID)
	assert.Equal(t, "units", cfg.MQTT.Topics.Unit)
	assert.Equal(t, "UpdateNavigate", cfg.MQTT.Topics.Navigation)
	assert.EqualValues(t, 1, cfg.MQTT.QoS)
	assert.Equal(t, 4, cfg.Dispatch.Workers)
	assert.Equal(t, 1000, cfg.Dispatch.WorkerWaitMS)
	assert.Equal(t, 250, cfg.Scheduler.PollIntervalMS)
	require.Len(t, cfg.Metrics.Sinks, 1)
	assert.Equal(t, "prometheus", cfg.Metrics.Sinks[0].Type)
	assert.Equal(t, "journal/commands.db", cfg.Journal.Path)
	assert.Equal(t, ":9108", cfg.HTTP.Addr)
	assert.Equal(t, "staging", cfg.Sentry.Environment)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{"mqtt":{"broker":"tcp://b:1883","qos":2},"scheduler":{"poll_interval_ms":50}}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.EqualValues(t, 2, cfg.MQTT.QoS)
	assert.Equal(t, 50, cfg.Scheduler.PollIntervalMS)
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 128, cfg.Redis.PoolSize)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
	assert.Equal(t, 3000, cfg.MQTT.ConnectTimeoutMS)
	assert.Equal(t, 2, cfg.MQTT.SendAttempts)
	assert.Equal(t, 10, cfg.Dispatch.Workers)
	assert.Equal(t, 100, cfg.Scheduler.PollIntervalMS)
	assert.Empty(t, cfg.Journal.Backend)
	assert.Empty(t, cfg.HTTP.Addr)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeFile(t, "config.yaml", "redis:\n  addr: \"file:6379\"\n")
	t.Setenv("FLEETCTL_REDIS__ADDR", "env:6379")
	t.Setenv("FLEETCTL_SCHEDULER__POLL_INTERVAL_MS", "20")
	t.Setenv("FLEETCTL_MQTT__TOPICS__DISPLAY", "screen")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env:6379", cfg.Redis.Addr)
	assert.Equal(t, 20, cfg.Scheduler.PollIntervalMS)
	assert.Equal(t, "screen", cfg.MQTT.Topics.Display)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(writeFile(t, "config.toml", "x = 1"))
	require.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	_, err = Load(writeFile(t, "bad.yaml", "mqtt:\n  topics:\n    unit: same\n    navigation: same\n"))
	require.ErrorContains(t, err, "config mqtt")

	_, err = Load(writeFile(t, "bad.yaml", "journal:\n  backend: postgres\n"))
	require.ErrorContains(t, err, "config journal")

	_, err = Load(writeFile(t, "bad.yaml", "log:\n  level: verbose\n"))
	require.ErrorContains(t, err, "config log")
}
