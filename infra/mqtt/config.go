package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/kilianp07/fleetctl/core/channel"
)

// Config defines the connection parameters shared by the task channels.
type Config struct {
	Broker     string      `json:"broker"`
	ClientID   string      `json:"client_id"`
	Username   string      `json:"username"`
	Password   string      `json:"password"`
	UseTLS     bool        `json:"use_tls"`
	ClientCert string      `json:"client_cert"`
	ClientKey  string      `json:"client_key"`
	CABundle   string      `json:"ca_bundle"`
	AuthMethod string      `json:"auth_method"`
	QoS        byte        `json:"qos"`
	LWTTopic   string      `json:"lwt_topic"`
	LWTPayload string      `json:"lwt_payload"`
	LWTQoS     byte        `json:"lwt_qos"`
	LWTRetain  bool        `json:"lwt_retain"`
	TLSConfig  *tls.Config `json:"-"`

	// ConnectTimeoutMS bounds a single connect attempt.
	ConnectTimeoutMS int `json:"connect_timeout_ms"`
	// MaxRetries is the number of connect attempts before giving up.
	MaxRetries   int `json:"max_retries"`
	RetryDelayMS int `json:"retry_delay_ms"`
	// SendAttempts bounds the publish attempts of a single Send, the
	// connection being re-established between attempts.
	SendAttempts     int `json:"send_attempts"`
	PublishTimeoutMS int `json:"publish_timeout_ms"`

	Topics Topics `json:"topics"`
}

// Topics maps each consumer class to its broker topic.
type Topics struct {
	Unit       string `json:"unit"`
	Navigation string `json:"navigation"`
	Display    string `json:"display"`
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.Broker == "" {
		c.Broker = "tcp://localhost:1883"
	}
	if c.QoS == 0 {
		c.QoS = 1
	}
	if c.ConnectTimeoutMS <= 0 {
		c.ConnectTimeoutMS = 3000
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.RetryDelayMS <= 0 {
		c.RetryDelayMS = 2000
	}
	if c.SendAttempts <= 0 {
		c.SendAttempts = 2
	}
	if c.PublishTimeoutMS <= 0 {
		c.PublishTimeoutMS = 3000
	}
	if c.Topics.Unit == "" {
		c.Topics.Unit = "UpdateCar"
	}
	if c.Topics.Navigation == "" {
		c.Topics.Navigation = "UpdateNavigate"
	}
	if c.Topics.Display == "" {
		c.Topics.Display = "UpdateView"
	}
}

// Validate checks the values after defaults were applied.
func (c Config) Validate() error {
	if c.QoS > 2 {
		return fmt.Errorf("mqtt: qos must be 0, 1 or 2, got %d", c.QoS)
	}
	if c.UseTLS && c.TLSConfig == nil && (c.ClientCert == "" || c.ClientKey == "" || c.CABundle == "") {
		return fmt.Errorf("mqtt: use_tls requires client_cert, client_key and ca_bundle")
	}
	seen := map[string]string{}
	for _, name := range []string{channel.Unit, channel.Navigation, channel.Display} {
		topic, _ := c.Topics.For(name)
		if prev, ok := seen[topic]; ok {
			return fmt.Errorf("mqtt: channels %s and %s share topic %q", prev, name, topic)
		}
		seen[topic] = name
	}
	return nil
}

// For returns the topic of the named channel.
func (t Topics) For(name string) (string, error) {
	switch name {
	case channel.Unit:
		return t.Unit, nil
	case channel.Navigation:
		return t.Navigation, nil
	case channel.Display:
		return t.Display, nil
	}
	return "", fmt.Errorf("mqtt: unknown channel %q", name)
}

func (c Config) connectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMS) * time.Millisecond
}

func (c Config) retryDelay() time.Duration { return time.Duration(c.RetryDelayMS) * time.Millisecond }

func (c Config) publishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutMS) * time.Millisecond
}
