// Package mqtt implements the task channels on an MQTT broker with Eclipse
// Paho. Each channel owns one durable client session on its own topic.
package mqtt

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/kilianp07/fleetctl/core/channel"
	"github.com/kilianp07/fleetctl/core/logger"
	"github.com/kilianp07/fleetctl/core/monitoring"
	"github.com/kilianp07/fleetctl/core/status"
	infralogger "github.com/kilianp07/fleetctl/infra/logger"
)

// pahoClient is the subset of paho.Client used by a Channel.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Channel is a channel.Sender publishing on one topic.
type Channel struct {
	name   string
	topic  string
	cfg    Config
	status *status.Status
	log    logger.Logger

	mu      sync.Mutex
	cli     pahoClient
	gen     uint64
	handler paho.MessageHandler

	reconnectMu sync.Mutex
	closed      atomic.Bool
	closeOnce   sync.Once
}

var _ channel.Sender = (*Channel)(nil)

// NewChannel connects the named channel to the broker. Connecting is retried
// up to cfg.MaxRetries times; exhaustion returns an error wrapping
// channel.ErrConnectExhausted.
func NewChannel(ctx context.Context, cfg Config, name string, st *status.Status, log logger.Logger) (*Channel, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	topic, err := cfg.Topics.For(name)
	if err != nil {
		return nil, err
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "fleetctl-" + uuid.NewString()[:8]
	}
	if st == nil {
		st = status.New()
	}
	if log == nil {
		log = infralogger.New("mqtt_" + name)
	}
	c := &Channel{name: name, topic: topic, cfg: cfg, status: st, log: log}
	cli, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	c.cli = cli
	c.gen = 1
	return c, nil
}

// Name returns the consumer class served by the channel.
func (c *Channel) Name() string { return c.name }

// Topic returns the broker topic of the channel.
func (c *Channel) Topic() string { return c.topic }

// NewClientOptions builds mqtt client options from Config. The session is
// durable and automatic reconnection is left to the Channel.
func NewClientOptions(cfg Config, clientID string) (*paho.ClientOptions, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.Broker).SetClientID(clientID)
	opts.SetCleanSession(false)
	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetConnectTimeout(cfg.connectTimeout())
	if cfg.AuthMethod == "username_password" || cfg.AuthMethod == "both" || cfg.AuthMethod == "" {
		if cfg.Username != "" {
			opts.SetUsername(cfg.Username)
		}
		if cfg.Password != "" {
			opts.SetPassword(cfg.Password)
		}
	}
	if cfg.UseTLS {
		tlsCfg, err := cfg.LoadTLSConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsCfg)
	}
	if cfg.LWTTopic != "" {
		opts.SetWill(cfg.LWTTopic, cfg.LWTPayload, cfg.LWTQoS, cfg.LWTRetain)
	}
	return opts, nil
}

// LoadTLSConfig loads the TLS configuration from the file paths in the config.
func (c Config) LoadTLSConfig() (*tls.Config, error) {
	if c.TLSConfig != nil {
		return c.TLSConfig, nil
	}
	if c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "" {
		return nil, fmt.Errorf("tls config requires client_cert, client_key and ca_bundle")
	}
	cert, err := tls.LoadX509KeyPair(c.ClientCert, c.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("load cert: %w", err)
	}
	caBytes, err := os.ReadFile(c.CABundle)
	if err != nil {
		return nil, fmt.Errorf("read ca: %w", err)
	}
	pool := x509.NewCertPool()
	pool.AppendCertsFromPEM(caBytes)
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}, RootCAs: pool, MinVersion: tls.VersionTLS12}
	return cfg, nil
}

// connect dials a fresh client. The channel reconnect flag is raised for the
// whole retry loop.
func (c *Channel) connect(ctx context.Context) (pahoClient, error) {
	end := c.status.BeginChannelReconnect()
	defer end()

	var cli pahoClient
	attempt := 0
	op := func() error {
		if c.closed.Load() {
			return backoff.Permanent(channel.ErrClosed)
		}
		attempt++
		opts, err := NewClientOptions(c.cfg, c.cfg.ClientID+"-"+c.name)
		if err != nil {
			return backoff.Permanent(err)
		}
		opts.SetOnConnectHandler(func(paho.Client) {
			c.log.Infof("[%s] connected to %s", c.name, c.cfg.Broker)
		})
		opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.log.Warnf("[%s] connection lost: %v", c.name, err)
		})
		m := newMQTTClient(opts)
		tok := m.Connect()
		if !tok.WaitTimeout(c.cfg.connectTimeout()) {
			m.Disconnect(0)
			return fmt.Errorf("connect attempt %d timed out after %s", attempt, c.cfg.connectTimeout())
		}
		if err := tok.Error(); err != nil {
			return fmt.Errorf("connect attempt %d: %w", attempt, err)
		}
		cli = m
		return nil
	}
	// MaxRetries counts attempts, the first one included.
	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.cfg.retryDelay()), uint64(c.cfg.MaxRetries-1))
	notify := func(err error, next time.Duration) {
		c.log.Warnf("[%s] %v, retrying in %s", c.name, err, next)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		if errors.Is(err, channel.ErrClosed) {
			return nil, err
		}
		err = fmt.Errorf("%s channel: %w after %d attempts: %w", c.name, channel.ErrConnectExhausted, attempt, err)
		c.log.Errorf("%v", err)
		monitoring.CaptureException(err, map[string]string{"module": "mqtt", "channel": c.name})
		return nil, err
	}
	return cli, nil
}

func (c *Channel) current() (pahoClient, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cli, c.gen
}

// reconnect replaces the client seen at generation gen. It is a no-op when
// another caller already replaced it.
func (c *Channel) reconnect(ctx context.Context, gen uint64) error {
	c.reconnectMu.Lock()
	defer c.reconnectMu.Unlock()
	old, cur := c.current()
	if cur != gen {
		return nil
	}
	if old != nil {
		old.Disconnect(0)
	}
	cli, err := c.connect(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed.Load() {
		c.mu.Unlock()
		cli.Disconnect(0)
		return channel.ErrClosed
	}
	c.cli = cli
	c.gen++
	handler := c.handler
	c.mu.Unlock()
	if handler != nil {
		if err := c.subscribe(cli, handler); err != nil {
			c.log.Errorf("[%s] resubscribe failed: %v", c.name, err)
		}
	}
	c.log.Infof("[%s] reconnected", c.name)
	return nil
}

// Send JSON encodes payload and publishes it with the configured QoS. A
// failed publish re-establishes the connection before the next attempt.
func (c *Channel) Send(ctx context.Context, payload any) error {
	if c.closed.Load() {
		return channel.ErrClosed
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s channel: encode payload: %w", c.name, err)
	}
	var lastErr error
	for attempt := 1; attempt <= c.cfg.SendAttempts; attempt++ {
		cli, gen := c.current()
		lastErr = c.publish(cli, b)
		if lastErr == nil {
			return nil
		}
		c.log.Warnf("[%s] publish attempt %d failed: %v", c.name, attempt, lastErr)
		if attempt == c.cfg.SendAttempts || c.closed.Load() {
			break
		}
		if err := c.reconnect(ctx, gen); err != nil {
			return err
		}
	}
	err = fmt.Errorf("%s channel: %w: %w", c.name, channel.ErrSendFailed, lastErr)
	monitoring.CaptureException(err, map[string]string{"module": "mqtt", "channel": c.name})
	return err
}

func (c *Channel) publish(cli pahoClient, payload []byte) error {
	if cli == nil {
		return errors.New("not connected")
	}
	tok := cli.Publish(c.topic, c.cfg.QoS, false, payload)
	if !tok.WaitTimeout(c.cfg.publishTimeout()) {
		return fmt.Errorf("publish timed out after %s", c.cfg.publishTimeout())
	}
	return tok.Error()
}

func (c *Channel) subscribe(cli pahoClient, handler paho.MessageHandler) error {
	tok := cli.Subscribe(c.topic, c.cfg.QoS, handler)
	if !tok.WaitTimeout(c.cfg.connectTimeout()) {
		return fmt.Errorf("subscribe timed out after %s", c.cfg.connectTimeout())
	}
	return tok.Error()
}

// Consume registers handler for every message delivered on ch. Messages are
// decoded from JSON into T. Decoding failures, handler errors and panics are
// logged; the message is acknowledged regardless.
func Consume[T any](ch *Channel, handler func(T) error) error {
	if ch.closed.Load() {
		return channel.ErrClosed
	}
	cb := func(_ paho.Client, msg paho.Message) {
		defer func() {
			if r := recover(); r != nil {
				err := fmt.Errorf("%s consumer panic: %v", ch.name, r)
				ch.log.Errorf("%v", err)
				monitoring.CaptureException(err, map[string]string{"module": "mqtt", "channel": ch.name})
			}
		}()
		var v T
		if err := json.Unmarshal(msg.Payload(), &v); err != nil {
			ch.log.Errorf("[%s] decode %q: %v", ch.name, msg.Payload(), err)
			return
		}
		if err := handler(v); err != nil {
			ch.log.Errorf("[%s] handler failed: %v", ch.name, err)
		}
	}
	ch.mu.Lock()
	ch.handler = cb
	cli := ch.cli
	ch.mu.Unlock()
	if err := ch.subscribe(cli, cb); err != nil {
		return fmt.Errorf("%s channel: subscribe: %w", ch.name, err)
	}
	ch.log.Infof("[%s] consuming %s", ch.name, ch.topic)
	return nil
}

// Close disconnects the client. It is safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed.Store(true)
		cli := c.cli
		c.mu.Unlock()
		if cli != nil && cli.IsConnected() {
			cli.Disconnect(250)
		}
		c.log.Infof("[%s] channel closed", c.name)
	})
	return nil
}
