package control

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/fleetctl/core/channel"
	"github.com/kilianp07/fleetctl/core/dispatch"
	"github.com/kilianp07/fleetctl/core/events"
	"github.com/kilianp07/fleetctl/core/monitoring"
	"github.com/kilianp07/fleetctl/core/status"
	"github.com/kilianp07/fleetctl/core/store"
	"github.com/kilianp07/fleetctl/internal/eventbus"
)

type fakeEngine struct {
	mu     sync.Mutex
	ticks  int
	closed int
	fn     func(n int) (dispatch.TickResult, error)
}

func (f *fakeEngine) Tick(context.Context) (dispatch.TickResult, error) {
	f.mu.Lock()
	f.ticks++
	n, fn := f.ticks, f.fn
	f.mu.Unlock()
	if fn == nil {
		return dispatch.TickResult{}, nil
	}
	return fn(n)
}

func (f *fakeEngine) Close(context.Context) error {
	f.mu.Lock()
	f.closed++
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) Ticks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ticks
}

func (f *fakeEngine) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type recordMonitor struct {
	mu   sync.Mutex
	errs []error
	tags []map[string]string
}

func (m *recordMonitor) CaptureException(err error, tags map[string]string) {
	m.mu.Lock()
	m.errs = append(m.errs, err)
	m.tags = append(m.tags, tags)
	m.mu.Unlock()
}
func (m *recordMonitor) Recover()            {}
func (m *recordMonitor) Flush(time.Duration) {}

type fixture struct {
	engine   *fakeEngine
	store    *store.MemoryStore
	status   *status.Status
	channels []*channel.MemorySender
	sched    *Scheduler
}

func newFixture(t *testing.T, fn func(n int) (dispatch.TickResult, error), bus *eventbus.Bus[events.Event]) *fixture {
	t.Helper()
	ResetMetrics(prometheus.NewRegistry())
	f := &fixture{
		engine:   &fakeEngine{fn: fn},
		store:    store.NewMemoryStore(),
		status:   status.New(),
		channels: []*channel.MemorySender{channel.NewMemorySender(), channel.NewMemorySender(), channel.NewMemorySender()},
	}
	closers := make([]io.Closer, 0, len(f.channels))
	for _, c := range f.channels {
		closers = append(closers, c)
	}
	s, err := New(Config{PollIntervalMS: 2}, Resources{Engine: f.engine, Store: f.store, Channels: closers}, f.status, nil, bus)
	require.NoError(t, err)
	f.sched = s
	return f
}

func (f *fixture) assertReleasedOnce(t *testing.T) {
	t.Helper()
	assert.Equal(t, 1, f.engine.Closed())
	assert.Equal(t, 1, f.store.Closed())
	for _, c := range f.channels {
		assert.Equal(t, 1, c.Closed())
	}
	assert.Equal(t, Stopped, f.sched.State())
}

func runAsync(ctx context.Context, s *Scheduler) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	return errCh
}

func wait(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestNewRejectsNil(t *testing.T) {
	_, err := New(Config{}, Resources{}, status.New(), nil, nil)
	require.Error(t, err)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "paused", Paused.String())
	assert.Equal(t, "shutting_down", ShuttingDown.String())
	assert.Equal(t, "stopped", Stopped.String())
}

func TestShutdownIdempotent(t *testing.T) {
	f := newFixture(t, nil, nil)
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.sched.Shutdown()
		}()
	}
	wg.Wait()
	f.sched.Shutdown()
	f.assertReleasedOnce(t)
}

func TestRunStopsOnCompletion(t *testing.T) {
	f := newFixture(t, func(n int) (dispatch.TickResult, error) {
		return dispatch.TickResult{Complete: n == 3}, nil
	}, nil)
	err := wait(t, runAsync(context.Background(), f.sched))
	require.NoError(t, err)
	assert.Equal(t, 3, f.engine.Ticks())
	f.assertReleasedOnce(t)
	assert.Equal(t, float64(3), testutil.ToFloat64(ticksTotal.WithLabelValues(events.TickRan)))
}

func TestRunStopsOnTickFailure(t *testing.T) {
	mon := &recordMonitor{}
	monitoring.Init(mon)
	t.Cleanup(func() { monitoring.Init(monitoring.NopMonitor{}) })

	boom := errors.New("store exhausted")
	f := newFixture(t, func(int) (dispatch.TickResult, error) {
		return dispatch.TickResult{}, boom
	}, nil)
	err := wait(t, runAsync(context.Background(), f.sched))
	require.ErrorIs(t, err, ErrTickFailed)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, f.engine.Ticks())
	f.assertReleasedOnce(t)
	assert.Equal(t, float64(1), testutil.ToFloat64(ticksTotal.WithLabelValues(events.TickFailed)))

	mon.mu.Lock()
	defer mon.mu.Unlock()
	require.Len(t, mon.errs, 1)
	assert.Equal(t, "control", mon.tags[0]["module"])
}

func TestRunRecoversPanic(t *testing.T) {
	f := newFixture(t, func(int) (dispatch.TickResult, error) {
		panic("nil map")
	}, nil)
	err := wait(t, runAsync(context.Background(), f.sched))
	require.ErrorIs(t, err, ErrTickFailed)
	assert.Contains(t, err.Error(), "nil map")
	f.assertReleasedOnce(t)
}

func TestRunStopMarkReadFailure(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.store.Err = store.ErrUnavailable
	err := wait(t, runAsync(context.Background(), f.sched))
	require.ErrorIs(t, err, ErrTickFailed)
	require.ErrorIs(t, err, store.ErrUnavailable)
	assert.Zero(t, f.engine.Ticks())
}

func TestRunCancelledReturnsNil(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := runAsync(ctx, f.sched)
	require.Eventually(t, func() bool { return f.engine.Ticks() > 1 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, wait(t, errCh))
	f.assertReleasedOnce(t)
}

func TestReconnectGateSkipsEngine(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.status.SetStoreReconnecting(true)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := runAsync(ctx, f.sched)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(ticksTotal.WithLabelValues(events.TickReconnecting)) >= 3
	}, time.Second, time.Millisecond)
	assert.Zero(t, f.engine.Ticks())
	assert.Zero(t, f.store.Reads[store.KeyStopMark])

	f.status.SetStoreReconnecting(false)
	end := f.status.BeginChannelReconnect()
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, f.engine.Ticks())
	end()
	require.Eventually(t, func() bool { return f.engine.Ticks() > 0 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, wait(t, errCh))
}

func TestPauseAndResume(t *testing.T) {
	bus := eventbus.NewWithBuffer[events.Event](4096)
	sub := bus.Subscribe()
	f := newFixture(t, nil, bus)
	require.NoError(t, f.store.Set(context.Background(), store.KeyStopMark, "1"))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runAsync(ctx, f.sched)
	require.Eventually(t, func() bool { return f.sched.State() == Paused }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(ticksTotal.WithLabelValues(events.TickPaused)) >= 3
	}, time.Second, time.Millisecond)
	assert.Zero(t, f.engine.Ticks())

	require.NoError(t, f.store.Set(context.Background(), store.KeyStopMark, "0"))
	require.Eventually(t, func() bool { return f.engine.Ticks() > 0 }, time.Second, time.Millisecond)
	assert.Equal(t, Running, f.sched.State())
	cancel()
	require.NoError(t, wait(t, errCh))

	var transitions []string
	for len(sub) > 0 {
		if ev, ok := (<-sub).(events.StateEvent); ok {
			transitions = append(transitions, ev.From+">"+ev.To)
		}
	}
	assert.Equal(t, []string{
		"running>paused",
		"paused>running",
		"running>shutting_down",
		"shutting_down>stopped",
	}, transitions)
}

func TestBusyTickIsSkipped(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, func(n int) (dispatch.TickResult, error) {
		if n == 1 {
			<-release
		}
		return dispatch.TickResult{}, nil
	}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := runAsync(ctx, f.sched)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(ticksTotal.WithLabelValues(events.TickBusy)) >= 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, f.engine.Ticks())
	close(release)
	require.Eventually(t, func() bool { return f.engine.Ticks() > 1 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, wait(t, errCh))
}

func TestRunWithDispatchEngineCompletes(t *testing.T) {
	ResetMetrics(prometheus.NewRegistry())
	dispatch.ResetMetrics(prometheus.NewRegistry())
	st := store.NewMemoryStore()
	unit, navi, display := channel.NewMemorySender(), channel.NewMemorySender(), channel.NewMemorySender()
	ctx := context.Background()
	require.NoError(t, st.Set(ctx, store.KeyMapWidth, "2"))
	require.NoError(t, st.Set(ctx, store.KeyMapHeight, "2"))
	st.SetBits(store.KeyMap, 4)

	eng, err := dispatch.NewEngine(st, dispatch.Channels{Unit: unit, Navigation: navi, Display: display}, dispatch.Config{}, nil, nil)
	require.NoError(t, err)
	s, err := New(Config{PollIntervalMS: 5}, Resources{
		Engine:   eng,
		Store:    st,
		Channels: []io.Closer{unit, navi, display},
	}, status.New(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, wait(t, runAsync(ctx, s)))
	assert.Equal(t, []string{"repaint", "#"}, display.Payloads())
	assert.Equal(t, 1, st.Closed())
	assert.Equal(t, 1, display.Closed())
	assert.True(t, s.Coverage().Complete())
}
