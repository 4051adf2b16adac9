// Package redis implements the shared state store on top of go-redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	goredis "github.com/redis/go-redis/v9"

	"github.com/kilianp07/fleetctl/core/logger"
	"github.com/kilianp07/fleetctl/core/status"
	"github.com/kilianp07/fleetctl/core/store"
)

// newClient is overridden in tests.
var newClient = goredis.NewClient

// Store is a store.StateStore backed by a pooled Redis client. Every
// operation borrows a dedicated connection and validates it with PING before
// use. When a borrow fails the store retries with a fixed interval and starts
// a single background supervisor that replaces the client.
type Store struct {
	cfg    Config
	status *status.Status
	log    logger.Logger

	mu     sync.RWMutex
	client *pooled

	superMu     sync.Mutex
	supervising bool
	supervisors atomic.Int32

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
}

var _ store.StateStore = (*Store)(nil)

// New creates a Store. No connection is opened until the first operation.
func New(cfg Config, st *status.Status, log logger.Logger) (*Store, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if st == nil {
		st = status.New()
	}
	if log == nil {
		log = nopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Store{
		cfg:    cfg,
		status: st,
		log:    log,
		client: newPooled(newClient(cfg.options())),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// pooled is a client shared by outstanding leases. A replaced client is
// closed once its last lease is returned.
type pooled struct {
	*goredis.Client

	mu        sync.Mutex
	refs      int
	retired   bool
	closeOnce sync.Once
	closeErr  error
}

func newPooled(c *goredis.Client) *pooled { return &pooled{Client: c} }

func (p *pooled) borrow() {
	p.mu.Lock()
	p.refs++
	p.mu.Unlock()
}

func (p *pooled) release() {
	p.mu.Lock()
	p.refs--
	last := p.refs == 0 && p.retired
	p.mu.Unlock()
	if last {
		p.close()
	}
}

// retire marks the client as replaced. It is closed immediately when no
// lease is outstanding.
func (p *pooled) retire() error {
	p.mu.Lock()
	p.retired = true
	idle := p.refs == 0
	p.mu.Unlock()
	if idle {
		return p.close()
	}
	return nil
}

func (p *pooled) close() error {
	p.closeOnce.Do(func() { p.closeErr = p.Client.Close() })
	return p.closeErr
}

// lease is a connection borrowed from a pooled client.
type lease struct {
	*goredis.Conn
	owner *pooled
	once  sync.Once
}

// Close returns the connection to the pool and releases the owning client.
func (l *lease) Close() error {
	err := l.Conn.Close()
	l.once.Do(l.owner.release)
	return err
}

// borrow pins the live client until the returned lease is closed.
func (s *Store) borrow() *lease {
	s.mu.RLock()
	p := s.client
	p.borrow()
	s.mu.RUnlock()
	return &lease{Conn: p.Conn(), owner: p}
}

func (s *Store) newRetry(ctx context.Context) backoff.BackOff {
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(s.cfg.retryInterval()), uint64(s.cfg.MaxRetries))
	return backoff.WithContext(b, ctx)
}

// acquire borrows a live connection from the pool. The caller must close it.
// The client it came from stays open until then, even if the supervisor
// replaces it meanwhile.
func (s *Store) acquire(ctx context.Context) (*lease, error) {
	if s.closed.Load() {
		return nil, store.ErrClosed
	}
	var (
		conn  *lease
		first = true
	)
	op := func() error {
		if s.closed.Load() {
			return backoff.Permanent(store.ErrClosed)
		}
		c := s.borrow()
		if err := c.Ping(ctx).Err(); err != nil {
			_ = c.Close()
			acquireFailures.Inc()
			if first {
				first = false
				s.ensureSupervisor()
			}
			return err
		}
		conn = c
		return nil
	}
	notify := func(err error, next time.Duration) {
		s.log.Warnf("redis connection failed, retrying in %s: %v", next, err)
	}
	if err := backoff.RetryNotify(op, s.newRetry(ctx), notify); err != nil {
		if errors.Is(err, store.ErrClosed) {
			return nil, err
		}
		return nil, fmt.Errorf("redis acquire: %w: %w", store.ErrUnavailable, err)
	}
	return conn, nil
}

// ensureSupervisor starts the reconnect supervisor unless one is running.
func (s *Store) ensureSupervisor() {
	s.superMu.Lock()
	defer s.superMu.Unlock()
	if s.supervising || s.closed.Load() {
		return
	}
	s.supervising = true
	s.supervisors.Add(1)
	s.status.SetStoreReconnecting(true)
	s.wg.Add(1)
	go s.supervise()
}

func (s *Store) supervise() {
	defer s.wg.Done()
	defer func() {
		s.superMu.Lock()
		s.supervising = false
		s.superMu.Unlock()
		s.status.SetStoreReconnecting(false)
	}()
	s.log.Warnf("redis unreachable, starting reconnect supervisor")
	op := func() error {
		c := newClient(s.cfg.options())
		if err := c.Ping(s.ctx).Err(); err != nil {
			_ = c.Close()
			return err
		}
		s.swap(c)
		return nil
	}
	notify := func(err error, next time.Duration) {
		s.log.Debugf("redis reconnect attempt failed, next in %s: %v", next, err)
	}
	if err := backoff.RetryNotify(op, s.newRetry(s.ctx), notify); err != nil {
		reconnects.WithLabelValues("exhausted").Inc()
		s.log.Errorf("redis reconnect gave up: %v", err)
		return
	}
	reconnects.WithLabelValues("success").Inc()
	s.log.Infof("redis reconnected to %s", s.cfg.Addr)
}

// swap installs c as the live client and retires the previous one.
func (s *Store) swap(c *goredis.Client) {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		_ = c.Close()
		return
	}
	old := s.client
	s.client = newPooled(c)
	s.mu.Unlock()
	if old != nil {
		_ = old.retire()
	}
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return "", false, err
	}
	defer conn.Close()
	v, err := conn.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	conn, err := s.acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *Store) ListAll(ctx context.Context, key string) ([]string, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	vals, err := conn.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lrange %s: %w", key, err)
	}
	return vals, nil
}

// ListAllBatch pipelines one LRANGE per key on a single connection.
func (s *Store) ListAllBatch(ctx context.Context, keys []string) ([][]string, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	conn, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	cmds := make([]*goredis.StringSliceCmd, len(keys))
	_, err = conn.Pipelined(ctx, func(p goredis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = p.LRange(ctx, k, 0, -1)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis pipeline: %w", err)
	}
	out := make([][]string, len(keys))
	for i, c := range cmds {
		out[i] = c.Val()
	}
	return out, nil
}

func (s *Store) BitCount(ctx context.Context, key string) (int64, error) {
	conn, err := s.acquire(ctx)
	if err != nil {
		return 0, err
	}
	defer conn.Close()
	n, err := conn.BitCount(ctx, key, nil).Result()
	if err != nil {
		return 0, fmt.Errorf("redis bitcount %s: %w", key, err)
	}
	return n, nil
}

// Close stops the supervisor and closes the client. It is safe to call more
// than once.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		s.wg.Wait()
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.client != nil {
			err = s.client.retire()
		}
	})
	return err
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any)         {}
func (nopLogger) Debugw(string, map[string]any) {}
func (nopLogger) Infof(string, ...any)          {}
func (nopLogger) Warnf(string, ...any)          {}
func (nopLogger) Errorf(string, ...any)         {}
