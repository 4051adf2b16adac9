// Package app wires the state store, the task channels, the dispatch engine
// and the control loop together with the observability side channels.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	apijournal "github.com/kilianp07/fleetctl/api/journal"
	apistatus "github.com/kilianp07/fleetctl/api/status"
	"github.com/kilianp07/fleetctl/config"
	"github.com/kilianp07/fleetctl/core/channel"
	"github.com/kilianp07/fleetctl/core/control"
	"github.com/kilianp07/fleetctl/core/dispatch"
	"github.com/kilianp07/fleetctl/core/events"
	"github.com/kilianp07/fleetctl/core/journal"
	coremetrics "github.com/kilianp07/fleetctl/core/metrics"
	coremon "github.com/kilianp07/fleetctl/core/monitoring"
	"github.com/kilianp07/fleetctl/core/status"
	"github.com/kilianp07/fleetctl/core/store"
	"github.com/kilianp07/fleetctl/core/unitstatus"
	"github.com/kilianp07/fleetctl/infra/logger"
	inframetrics "github.com/kilianp07/fleetctl/infra/metrics"
	"github.com/kilianp07/fleetctl/infra/monitoring"
	"github.com/kilianp07/fleetctl/infra/mqtt"
	"github.com/kilianp07/fleetctl/infra/redis"
	"github.com/kilianp07/fleetctl/internal/eventbus"
)

// Channel is a task channel owned by the service.
type Channel interface {
	channel.Sender
	io.Closer
}

// Backends are the connections the control loop drives. They are closed by
// the scheduler during shutdown.
type Backends struct {
	Store      store.StateStore
	Unit       Channel
	Navigation Channel
	Display    Channel
}

// Service orchestrates the control loop and its side channels.
type Service struct {
	cfg       *config.Config
	log       logger.Logger
	status    *status.Status
	bus       *eventbus.Bus[events.Event]
	engine    *dispatch.Engine
	scheduler *control.Scheduler
	sink      coremetrics.MetricsSink
	journal   journal.Store
	units     *unitstatus.MemoryStore
	recorder  *Recorder

	closeOnce sync.Once
}

var _ apistatus.Reporter = (*Service)(nil)

// New connects to Redis and the broker and returns a ready Service. A
// channel that cannot connect makes New fail with an error wrapping
// channel.ErrConnectExhausted.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	logger.SetGlobalLevel(cfg.Log.Level)
	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	st := status.New()
	rs, err := redis.New(cfg.Redis, st, logger.New("redis"))
	if err != nil {
		return nil, fmt.Errorf("redis store: %w", err)
	}
	b := Backends{Store: rs}
	var opened []io.Closer
	closeAll := func() {
		for _, c := range opened {
			_ = c.Close()
		}
		_ = rs.Close()
	}
	for _, name := range []string{channel.Unit, channel.Navigation, channel.Display} {
		ch, err := mqtt.NewChannel(ctx, cfg.MQTT, name, st, logger.New("mqtt_"+name))
		if err != nil {
			closeAll()
			return nil, err
		}
		opened = append(opened, ch)
		switch name {
		case channel.Unit:
			b.Unit = ch
		case channel.Navigation:
			b.Navigation = ch
		case channel.Display:
			b.Display = ch
		}
	}
	svc, err := NewWithBackends(cfg, st, b)
	if err != nil {
		closeAll()
		return nil, err
	}
	return svc, nil
}

// NewWithBackends builds the service on already established backends.
func NewWithBackends(cfg *config.Config, st *status.Status, b Backends) (*Service, error) {
	if b.Store == nil || b.Unit == nil || b.Navigation == nil || b.Display == nil {
		return nil, fmt.Errorf("app: incomplete backends")
	}
	if st == nil {
		st = status.New()
	}
	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	j, err := journal.Open(cfg.Journal)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	bus := eventbus.New[events.Event]()
	engine, err := dispatch.NewEngine(b.Store, dispatch.Channels{
		Unit:       b.Unit,
		Navigation: b.Navigation,
		Display:    b.Display,
	}, cfg.Dispatch, logger.New("dispatch"), bus)
	if err != nil {
		_ = j.Close()
		return nil, err
	}
	sched, err := control.New(cfg.Scheduler, control.Resources{
		Engine:   engine,
		Store:    b.Store,
		Channels: []io.Closer{b.Unit, b.Navigation, b.Display},
	}, st, logger.New("control"), bus)
	if err != nil {
		_ = j.Close()
		return nil, err
	}
	units := unitstatus.NewMemoryStore()
	log := logger.New("service")
	return &Service{
		cfg:       cfg,
		log:       log,
		status:    st,
		bus:       bus,
		engine:    engine,
		scheduler: sched,
		sink:      sink,
		journal:   j,
		units:     units,
		recorder:  NewRecorder(sink, j, units, logger.New("recorder")),
	}, nil
}

// Scheduler returns the control loop.
func (s *Service) Scheduler() *control.Scheduler { return s.scheduler }

// Units returns the unit status store fed by the recorder.
func (s *Service) Units() *unitstatus.MemoryStore { return s.units }

// Run starts the HTTP listener and the recorder, then blocks in the control
// loop. It returns once the loop stopped and every recorded event was
// flushed to the side channels.
func (s *Service) Run(ctx context.Context) error {
	httpCtx, cancelHTTP := context.WithCancel(ctx)
	defer cancelHTTP()
	if s.cfg.HTTP.Addr != "" {
		go func() {
			if err := inframetrics.StartPromServer(httpCtx, s.cfg.HTTP.Addr, s.Routes()...); err != nil {
				s.log.Errorf("http server: %v", err)
			}
		}()
	}

	sub := s.bus.Subscribe()
	recorded := make(chan struct{})
	go func() {
		defer close(recorded)
		s.recorder.Run(sub)
	}()

	err := s.scheduler.Run(ctx)
	s.bus.Close()
	<-recorded
	if cerr := s.Close(); cerr != nil {
		s.log.Warnf("close side channels: %v", cerr)
	}
	return err
}

// Routes returns the HTTP API handlers served next to /metrics.
func (s *Service) Routes() []inframetrics.Route {
	return []inframetrics.Route{
		{Pattern: "/api/status", Handler: apistatus.NewStatusHandler(s)},
		{Pattern: "/api/units", Handler: apistatus.NewUnitsHandler(s.units)},
		{Pattern: "/api/journal", Handler: apijournal.NewHandler(s.journal, s.cfg.HTTP.Token)},
	}
}

// Snapshot reports the current control loop state.
func (s *Service) Snapshot() apistatus.Snapshot {
	started := s.scheduler.StartedAt()
	cov := s.scheduler.Coverage()
	return apistatus.Snapshot{
		State:               s.scheduler.State().String(),
		StoreReconnecting:   s.status.StoreReconnecting(),
		ChannelReconnecting: s.status.ChannelReconnecting(),
		LastFinishMarker:    s.engine.LastFinishMarker(),
		CellsCovered:        cov.Covered,
		CellsTotal:          cov.Total,
		StartedAt:           started,
		UptimeSeconds:       time.Since(started).Seconds(),
	}
}

// Close releases the journal and the metrics sink. The control loop
// resources are released by the scheduler. Close is idempotent.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.scheduler.Shutdown()
		if c, ok := s.sink.(io.Closer); ok {
			err = errors.Join(err, c.Close())
		}
		err = errors.Join(err, s.journal.Close())
	})
	return err
}
