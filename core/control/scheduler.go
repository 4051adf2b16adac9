// Package control drives the dispatch engine on a fixed cadence. It owns the
// tick guard, the reconnect gate, pause handling and the ordered shutdown of
// every resource the control loop uses.
package control

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kilianp07/fleetctl/core/completion"
	"github.com/kilianp07/fleetctl/core/dispatch"
	"github.com/kilianp07/fleetctl/core/events"
	"github.com/kilianp07/fleetctl/core/logger"
	"github.com/kilianp07/fleetctl/core/monitoring"
	"github.com/kilianp07/fleetctl/core/status"
	"github.com/kilianp07/fleetctl/core/store"
	"github.com/kilianp07/fleetctl/internal/eventbus"
)

// ErrTickFailed is returned by Run when a tick failure stopped the loop.
var ErrTickFailed = errors.New("control: tick failed")

// State of the control loop.
type State int32

const (
	Running State = iota
	Paused
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	case ShuttingDown:
		return "shutting_down"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Engine is the part of dispatch.Engine the scheduler drives.
type Engine interface {
	Tick(ctx context.Context) (dispatch.TickResult, error)
	Close(ctx context.Context) error
}

// Resources are released by Shutdown in field order: engine, store, then
// channels in slice order.
type Resources struct {
	Engine   Engine
	Store    store.StateStore
	Channels []io.Closer
}

// Scheduler runs one engine evaluation per tick. Ticks never overlap.
type Scheduler struct {
	cfg    Config
	res    Resources
	status *status.Status
	log    logger.Logger
	bus    *eventbus.Bus[events.Event]

	state    atomic.Int32
	inFlight atomic.Bool
	ticks    sync.WaitGroup

	startMu  sync.Mutex
	started  time.Time
	coverage atomic.Pointer[completion.Coverage]

	stop         chan struct{}
	done         chan struct{}
	shutdownOnce sync.Once
	errMu        sync.Mutex
	err          error
}

// New creates a Scheduler. bus may be nil.
func New(cfg Config, res Resources, st *status.Status, log logger.Logger, bus *eventbus.Bus[events.Event]) (*Scheduler, error) {
	if res.Engine == nil || res.Store == nil || st == nil {
		return nil, fmt.Errorf("control: nil parameter provided to New")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = nopLogger{}
	}
	return &Scheduler{
		cfg:     cfg,
		res:     res,
		status:  st,
		log:     log,
		bus:     bus,
		started: time.Now(),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// State returns the current state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

// StartedAt returns the time Run was entered.
func (s *Scheduler) StartedAt() time.Time {
	s.startMu.Lock()
	defer s.startMu.Unlock()
	return s.started
}

// Coverage returns the map coverage observed by the last engine tick.
func (s *Scheduler) Coverage() completion.Coverage {
	if c := s.coverage.Load(); c != nil {
		return *c
	}
	return completion.Coverage{}
}

// Done is closed once Shutdown completed.
func (s *Scheduler) Done() <-chan struct{} { return s.done }

// Run ticks until the map is complete, a tick fails or ctx is done. The first
// tick fires immediately. Run returns nil after completion or cancellation and
// an error wrapping ErrTickFailed after a tick failure.
func (s *Scheduler) Run(ctx context.Context) error {
	s.startMu.Lock()
	s.started = time.Now()
	s.startMu.Unlock()
	s.log.Infof("control loop started, polling every %s", s.cfg.pollInterval())

	ticker := time.NewTicker(s.cfg.pollInterval())
	defer ticker.Stop()
	s.trigger(ctx)
loop:
	for {
		select {
		case <-ctx.Done():
			s.log.Infof("context cancelled, shutting down")
			s.Shutdown()
			break loop
		case <-s.stop:
			break loop
		case <-ticker.C:
			s.trigger(ctx)
		}
	}
	<-s.done
	s.ticks.Wait()
	return s.Err()
}

// Err returns the tick failure that stopped the loop, if any.
func (s *Scheduler) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// trigger starts a tick unless the previous one is still running.
func (s *Scheduler) trigger(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		ticksTotal.WithLabelValues(events.TickBusy).Inc()
		s.publish(events.TickEvent{Outcome: events.TickBusy, Time: time.Now()})
		return
	}
	s.ticks.Add(1)
	go func() {
		defer s.ticks.Done()
		defer s.inFlight.Store(false)
		s.tick(ctx)
	}()
}

func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.fail(ctx, start, fmt.Errorf("panic: %v", r))
		}
	}()
	if st := s.State(); st != Running && st != Paused {
		return
	}
	if s.status.AnyReconnecting() {
		s.record(events.TickReconnecting, start, nil)
		return
	}
	mark, _, err := s.res.Store.Get(ctx, store.KeyStopMark)
	if err != nil {
		s.fail(ctx, start, fmt.Errorf("read %s: %w", store.KeyStopMark, err))
		return
	}
	if mark == "1" {
		if s.transition(Running, Paused) {
			s.log.Infof("%s set, control loop paused", store.KeyStopMark)
		}
		s.record(events.TickPaused, start, nil)
		return
	}
	if s.transition(Paused, Running) {
		s.log.Infof("%s cleared, control loop resumed", store.KeyStopMark)
	}

	res, err := s.res.Engine.Tick(ctx)
	if err != nil {
		s.fail(ctx, start, err)
		return
	}
	cov := res.Coverage
	s.coverage.Store(&cov)
	s.record(events.TickRan, start, nil)
	tickDuration.Observe(time.Since(start).Seconds())
	if res.Complete {
		s.log.Infof("all tasks finished")
		s.Shutdown()
	}
}

// fail stops the loop after a tick failure. Failures caused by cancellation
// or by resources closed during shutdown are not reported.
func (s *Scheduler) fail(ctx context.Context, start time.Time, err error) {
	if ctx.Err() != nil {
		return
	}
	if st := s.State(); st == ShuttingDown || st == Stopped {
		s.log.Debugf("tick ended during shutdown: %v", err)
		return
	}
	err = fmt.Errorf("%w: %w", ErrTickFailed, err)
	s.log.Errorf("%v", err)
	monitoring.CaptureException(err, map[string]string{"module": "control"})
	s.errMu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.errMu.Unlock()
	s.record(events.TickFailed, start, err)
	s.Shutdown()
}

// Shutdown stops the loop and releases every resource exactly once. It
// returns after all resources were closed.
func (s *Scheduler) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.setState(ShuttingDown)
		close(s.stop)

		if err := s.res.Engine.Close(context.Background()); err != nil {
			s.log.Warnf("dispatch drain: %v", err)
		}
		if err := s.res.Store.Close(); err != nil {
			s.log.Warnf("close state store: %v", err)
		}
		for _, ch := range s.res.Channels {
			if ch == nil {
				continue
			}
			if err := ch.Close(); err != nil {
				s.log.Warnf("close channel: %v", err)
			}
		}
		monitoring.Flush(s.cfg.flushTimeout())
		s.log.Infof("control loop stopped, ran for %s", time.Since(s.StartedAt()).Round(time.Millisecond))
		s.setState(Stopped)
		close(s.done)
	})
	<-s.done
}

func (s *Scheduler) transition(from, to State) bool {
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	s.publish(events.StateEvent{From: from.String(), To: to.String(), Time: time.Now()})
	return true
}

func (s *Scheduler) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from != to {
		s.publish(events.StateEvent{From: from.String(), To: to.String(), Time: time.Now()})
	}
}

func (s *Scheduler) record(outcome string, start time.Time, err error) {
	ticksTotal.WithLabelValues(outcome).Inc()
	s.publish(events.TickEvent{Outcome: outcome, Duration: time.Since(start), Err: err, Time: time.Now()})
}

func (s *Scheduler) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)         {}
func (nopLogger) Debugw(string, map[string]any) {}
func (nopLogger) Infof(string, ...any)          {}
func (nopLogger) Warnf(string, ...any)          {}
func (nopLogger) Errorf(string, ...any)         {}
