package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apistatus "github.com/kilianp07/fleetctl/api/status"
	"github.com/kilianp07/fleetctl/config"
	"github.com/kilianp07/fleetctl/core/channel"
	"github.com/kilianp07/fleetctl/core/journal"
	"github.com/kilianp07/fleetctl/core/status"
	"github.com/kilianp07/fleetctl/core/store"
	"github.com/kilianp07/fleetctl/core/unitstatus"
	inframetrics "github.com/kilianp07/fleetctl/infra/metrics"
)

type serviceFixture struct {
	cfg     *config.Config
	store   *store.MemoryStore
	unit    *channel.MemorySender
	navi    *channel.MemorySender
	display *channel.MemorySender
	svc     *Service
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	cfg := &config.Config{}
	cfg.Scheduler.PollIntervalMS = 5
	cfg.Journal.Backend = "jsonl"
	cfg.Journal.Path = filepath.Join(t.TempDir(), "commands.jsonl")
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())

	f := &serviceFixture{
		cfg:     cfg,
		store:   store.NewMemoryStore(),
		unit:    channel.NewMemorySender(),
		navi:    channel.NewMemorySender(),
		display: channel.NewMemorySender(),
	}
	svc, err := NewWithBackends(cfg, status.New(), Backends{
		Store: f.store, Unit: f.unit, Navigation: f.navi, Display: f.display,
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestNewWithBackendsRejectsMissing(t *testing.T) {
	cfg := &config.Config{}
	cfg.SetDefaults()
	_, err := NewWithBackends(cfg, nil, Backends{Store: store.NewMemoryStore()})
	require.Error(t, err)
}

func TestServiceRunsUntilMapComplete(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	for _, kv := range [][2]string{
		{store.KeyCarOpen, "1"},
		{store.KeyNaviOpen, "1"},
		{store.KeyNaviFinish, "7"},
		{store.KeyUnitCount, "2"},
		{store.KeyMapWidth, "3"},
		{store.KeyMapHeight, "3"},
	} {
		require.NoError(t, f.store.Set(ctx, kv[0], kv[1]))
	}
	f.store.Push(store.UnitTaskListKey(1), "R", "F")
	f.store.SetBits(store.KeyMap, 9)

	errCh := make(chan error, 1)
	go func() { errCh <- f.svc.Run(ctx) }()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("service did not stop")
	}

	assert.Equal(t, []string{"001"}, f.unit.Payloads())
	assert.Equal(t, []string{"Car002"}, f.navi.Payloads())
	assert.Equal(t, []string{"repaint", "#"}, f.display.Payloads())
	assert.Equal(t, 1, f.store.Closed())
	assert.Equal(t, 1, f.unit.Closed())

	snap := f.svc.Snapshot()
	assert.Equal(t, "stopped", snap.State)
	assert.Equal(t, "7", snap.LastFinishMarker)
	assert.EqualValues(t, 9, snap.CellsTotal)

	units := f.svc.Units().List(unitstatus.Filter{})
	require.Len(t, units, 2)
	assert.Equal(t, "001", units[0].LastCommand.Payload)
	assert.Equal(t, "Car002", units[1].LastCommand.Payload)

	j, err := journal.Open(f.cfg.Journal)
	require.NoError(t, err)
	defer func() { _ = j.Close() }()
	recs, err := j.Query(ctx, journal.Query{})
	require.NoError(t, err)
	assert.Len(t, recs, 4)
}

func TestServiceRoutes(t *testing.T) {
	f := newServiceFixture(t)
	t.Cleanup(func() { _ = f.svc.Close() })
	srv := httptest.NewServer(inframetrics.NewMux(f.svc.Routes()...))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap apistatus.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, "running", snap.State)
	assert.Equal(t, "-1", snap.LastFinishMarker)

	for _, path := range []string{"/api/units", "/api/journal", "/metrics"} {
		r, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		_ = r.Body.Close()
		assert.Equal(t, http.StatusOK, r.StatusCode, path)
	}
}

func TestServiceCloseIdempotent(t *testing.T) {
	f := newServiceFixture(t)
	require.NoError(t, f.svc.Close())
	require.NoError(t, f.svc.Close())
	assert.Equal(t, 1, f.store.Closed())
	assert.Equal(t, 1, f.display.Closed())
}
