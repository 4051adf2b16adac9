// Package dispatch turns the flags of the shared state store into commands on
// the unit, navigation and display channels. One call to Engine.Tick is one
// evaluation of the fixed dispatch policy.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/fleetctl/core/channel"
	"github.com/kilianp07/fleetctl/core/completion"
	"github.com/kilianp07/fleetctl/core/events"
	"github.com/kilianp07/fleetctl/core/logger"
	"github.com/kilianp07/fleetctl/core/monitoring"
	"github.com/kilianp07/fleetctl/core/store"
	"github.com/kilianp07/fleetctl/internal/eventbus"
)

// InitialFinishMarker is the navigation marker assumed before the first tick.
// It differs from any value the navigator writes, so the first observed
// marker is always treated as new.
const InitialFinishMarker = "-1"

// Channels groups the senders of the three consumer classes.
type Channels struct {
	Unit       channel.Sender
	Navigation channel.Sender
	Display    channel.Sender
}

// TickResult summarizes one evaluation.
type TickResult struct {
	// Sent counts the commands delivered during the tick.
	Sent     int
	Coverage completion.Coverage
	// Complete is set when the map is fully covered and the terminal
	// display commands were emitted.
	Complete bool
}

// Engine evaluates the dispatch triggers. Tick must not be called
// concurrently; the scheduler guarantees ticks never overlap.
type Engine struct {
	store    store.StateStore
	channels Channels
	detector *completion.Detector
	cfg      Config
	log      logger.Logger
	bus      *eventbus.Bus[events.Event]

	markerMu         sync.RWMutex
	lastFinishMarker string

	pending sync.WaitGroup
	// fatal holds the first channel exhaustion seen by a unit worker until a
	// tick reports it.
	fatal atomic.Pointer[error]
}

type flags struct {
	carOpen       string
	naviOpen      string
	naviOpenFound bool
	viewOpen      string
	naviFinish    string
}

// NewEngine creates an Engine. bus may be nil.
func NewEngine(s store.StateStore, ch Channels, cfg Config, log logger.Logger, bus *eventbus.Bus[events.Event]) (*Engine, error) {
	if s == nil || ch.Unit == nil || ch.Navigation == nil || ch.Display == nil {
		return nil, fmt.Errorf("dispatch: nil parameter provided to NewEngine")
	}
	cfg.SetDefaults()
	if log == nil {
		log = nopLogger{}
	}
	return &Engine{
		store:            s,
		channels:         ch,
		detector:         completion.NewDetector(s),
		cfg:              cfg,
		log:              log,
		bus:              bus,
		lastFinishMarker: InitialFinishMarker,
	}, nil
}

// LastFinishMarker returns the navigation marker of the last accepted edge.
func (e *Engine) LastFinishMarker() string {
	e.markerMu.RLock()
	defer e.markerMu.RUnlock()
	return e.lastFinishMarker
}

// Tick runs the display, navigation and unit triggers followed by the
// completion check. Errors returned are fatal for the control loop: store
// failures and channels that exhausted their reconnect budget. Other send
// failures are logged and do not fail the tick.
func (e *Engine) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult
	if err := e.takeFatal(); err != nil {
		return res, err
	}
	f, err := e.readFlags(ctx)
	if err != nil {
		return res, fmt.Errorf("read flags: %w", err)
	}

	if f.viewOpen == "1" {
		if err := e.send(ctx, channel.Display, e.channels.Display, channel.Repaint, 0); err == nil {
			res.Sent++
		} else if isFatal(err) {
			return res, err
		}
	}

	if f.naviOpenFound && f.naviOpen != "0" && f.naviFinish != e.LastFinishMarker() {
		n, err := e.navigate(ctx, f.naviFinish)
		res.Sent += n
		if err != nil {
			return res, err
		}
	}

	if f.carOpen == "1" {
		n, err := e.dispatchUnits(ctx)
		res.Sent += n
		if err != nil {
			return res, err
		}
	}

	cov, err := e.detector.Evaluate(ctx)
	if err != nil {
		return res, fmt.Errorf("completion check: %w", err)
	}
	res.Coverage = cov
	e.publish(events.CoverageEvent{Covered: cov.Covered, Total: cov.Total, Time: time.Now()})
	if cov.Complete() {
		e.log.Infof("map fully covered (%d cells), stopping all tasks", cov.Total)
		for _, cmd := range []channel.DisplayCommand{channel.Repaint, channel.Terminal} {
			if err := e.send(ctx, channel.Display, e.channels.Display, cmd, 0); err == nil {
				res.Sent++
			}
		}
		res.Complete = true
	}
	return res, nil
}

// Close waits for unit sends still running from a previous tick, up to the
// configured drain timeout or until ctx is done.
func (e *Engine) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.pending.Wait()
		close(done)
	}()
	timer := time.NewTimer(e.cfg.DrainTimeout())
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return fmt.Errorf("dispatch: unit sends still running after %s", e.cfg.DrainTimeout())
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) readFlags(ctx context.Context) (flags, error) {
	var f flags
	var err error
	if f.carOpen, _, err = e.store.Get(ctx, store.KeyCarOpen); err != nil {
		return f, err
	}
	if f.naviOpen, f.naviOpenFound, err = e.store.Get(ctx, store.KeyNaviOpen); err != nil {
		return f, err
	}
	if f.viewOpen, _, err = e.store.Get(ctx, store.KeyViewOpen); err != nil {
		return f, err
	}
	if f.naviFinish, _, err = e.store.Get(ctx, store.KeyNaviFinish); err != nil {
		return f, err
	}
	return f, nil
}

func (e *Engine) unitCount(ctx context.Context) (int, error) {
	raw, found, err := e.store.Get(ctx, store.KeyUnitCount)
	if err != nil {
		return 0, fmt.Errorf("read unit count: %w", err)
	}
	n, ok := store.ParseCount(raw, found)
	if found && !ok {
		e.log.Warnf("ignoring malformed %s value %q", store.KeyUnitCount, raw)
	}
	return int(n), nil
}

// navigate sends a navigation command for every idle unit. The marker is
// advanced once per evaluation, after at least one command went out.
func (e *Engine) navigate(ctx context.Context, marker string) (int, error) {
	count, err := e.unitCount(ctx)
	if err != nil {
		return 0, err
	}
	sent := 0
	for i := 1; i <= count; i++ {
		tasks, err := e.store.ListAll(ctx, store.UnitTaskListKey(i))
		if err != nil {
			return sent, fmt.Errorf("read unit %d tasks: %w", i, err)
		}
		if len(tasks) > 0 {
			continue
		}
		if err := e.send(ctx, channel.Navigation, e.channels.Navigation, channel.NaviTarget(i), i); err != nil {
			if isFatal(err) {
				return sent, err
			}
			continue
		}
		sent++
	}
	if sent > 0 {
		e.markerMu.Lock()
		prev := e.lastFinishMarker
		e.lastFinishMarker = marker
		e.markerMu.Unlock()
		naviEdges.Inc()
		e.log.Debugw("navigation marker advanced", map[string]any{"previous": prev, "current": marker, "commands": sent})
		e.publish(events.MarkerEvent{Previous: prev, Current: marker, Time: time.Now()})
	}
	return sent, nil
}

// dispatchUnits reads every unit queue in one round trip and sends the unit
// command for each busy unit on the worker pool. The tick waits for the pool
// at most WorkerWaitMS; sends still running afterwards are tracked and
// drained by Close.
func (e *Engine) dispatchUnits(ctx context.Context) (int, error) {
	count, err := e.unitCount(ctx)
	if err != nil || count == 0 {
		return 0, err
	}
	queues, err := e.store.ListAllBatch(ctx, store.UnitTaskListKeys(count))
	if err != nil {
		return 0, fmt.Errorf("read unit tasks: %w", err)
	}

	var (
		sent atomic.Int32
		g    errgroup.Group
	)
	g.SetLimit(e.cfg.Workers)
	done := make(chan struct{})
	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		defer close(done)
		for i, tasks := range queues {
			if len(tasks) == 0 {
				continue
			}
			unit := i + 1
			g.Go(func() error {
				workersInFlight.Inc()
				defer workersInFlight.Dec()
				if err := e.send(ctx, channel.Unit, e.channels.Unit, channel.UnitID(unit), unit); err != nil {
					if isFatal(err) {
						e.fatal.CompareAndSwap(nil, &err)
					}
					return nil
				}
				sent.Add(1)
				return nil
			})
		}
		_ = g.Wait()
	}()

	timer := time.NewTimer(e.cfg.workerWait())
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		workerWaitExpired.Inc()
		e.log.Warnf("unit dispatch still running after %s, continuing", e.cfg.workerWait())
	case <-ctx.Done():
	}

	return int(sent.Load()), e.takeFatal()
}

// takeFatal returns and clears the fatal error left by a unit worker.
func (e *Engine) takeFatal() error {
	if p := e.fatal.Swap(nil); p != nil {
		return *p
	}
	return nil
}

func (e *Engine) send(ctx context.Context, name string, s channel.Sender, payload fmt.Stringer, unit int) error {
	start := time.Now()
	err := deliver(ctx, name, s, payload)
	e.publish(events.CommandEvent{
		Channel: name,
		Payload: payload.String(),
		UnitID:  unit,
		Err:     err,
		Latency: time.Since(start),
		Time:    time.Now(),
	})
	if err != nil {
		e.log.Errorf("[%s] send %s failed: %v", name, payload, err)
		return err
	}
	e.log.Infof("[%s] command sent: %s", name, payload)
	return nil
}

// deliver calls s.Send and turns a panic in the sender into an error.
func deliver(ctx context.Context, name string, s channel.Sender, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s channel: send panic: %v", name, r)
			monitoring.CaptureException(err, map[string]string{"module": "dispatch", "channel": name})
		}
	}()
	return s.Send(ctx, payload)
}

func (e *Engine) publish(ev events.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

// isFatal reports whether a send error means a channel has no delivery path
// left.
func isFatal(err error) bool { return errors.Is(err, channel.ErrConnectExhausted) }

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)         {}
func (nopLogger) Debugw(string, map[string]any) {}
func (nopLogger) Infof(string, ...any)          {}
func (nopLogger) Warnf(string, ...any)          {}
func (nopLogger) Errorf(string, ...any)         {}
