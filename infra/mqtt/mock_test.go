package mqtt

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// mockClient implements pahoClient for tests.
type mockClient struct {
	mu          sync.Mutex
	opts        *paho.ClientOptions
	subscribed  []sub
	published   []pub
	publishErrs []error
	disconnects int
	handler     paho.MessageHandler
}

type sub struct {
	topic string
	qos   byte
}

type pub struct {
	topic   string
	qos     byte
	payload []byte
}

func (m *mockClient) IsConnected() bool { return true }
func (m *mockClient) Connect() paho.Token {
	if m.opts != nil && m.opts.OnConnect != nil {
		m.opts.OnConnect(m)
	}
	return &dummyToken{}
}
func (m *mockClient) Disconnect(uint) {
	m.mu.Lock()
	m.disconnects++
	m.mu.Unlock()
}
func (m *mockClient) Publish(topic string, qos byte, _ bool, payload interface{}) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, _ := payload.([]byte)
	m.published = append(m.published, pub{topic, qos, b})
	if len(m.publishErrs) > 0 {
		err := m.publishErrs[0]
		m.publishErrs = m.publishErrs[1:]
		return &dummyToken{err: err}
	}
	return &dummyToken{}
}
func (m *mockClient) Subscribe(topic string, qos byte, cb paho.MessageHandler) paho.Token {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribed = append(m.subscribed, sub{topic, qos})
	m.handler = cb
	return &dummyToken{}
}
func (m *mockClient) SubscribeMultiple(map[string]byte, paho.MessageHandler) paho.Token {
	return &dummyToken{}
}
func (m *mockClient) Unsubscribe(...string) paho.Token        { return &dummyToken{} }
func (m *mockClient) AddRoute(string, paho.MessageHandler)    {}
func (m *mockClient) OptionsReader() paho.ClientOptionsReader { return paho.ClientOptionsReader{} }
func (m *mockClient) IsConnectionOpen() bool                  { return true }

func (m *mockClient) deliver(payload string) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	h(m, mockMessage{[]byte(payload)})
}

func (m *mockClient) publishedPayloads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.published))
	for i, p := range m.published {
		out[i] = string(p.payload)
	}
	return out
}

// failingConnect never completes or fails its connect token.
type failingConnect struct {
	mockClient
	err  error
	hang bool
}

func (f *failingConnect) Connect() paho.Token {
	if f.hang {
		return &dummyToken{hang: true}
	}
	return &dummyToken{err: f.err}
}

// gatedConnect blocks its connect until release is closed.
type gatedConnect struct {
	mockClient
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedConnect) Connect() paho.Token {
	g.once.Do(func() { close(g.started) })
	<-g.release
	return &dummyToken{}
}

type dummyToken struct {
	err  error
	hang bool
}

func (d dummyToken) Wait() bool                     { return !d.hang }
func (d dummyToken) WaitTimeout(time.Duration) bool { return !d.hang }
func (d dummyToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if !d.hang {
		close(ch)
	}
	return ch
}
func (d dummyToken) Error() error { return d.err }

type mockMessage struct{ p []byte }

func (m mockMessage) Duplicate() bool   { return false }
func (m mockMessage) Qos() byte         { return 1 }
func (m mockMessage) Retained() bool    { return false }
func (m mockMessage) Topic() string     { return "" }
func (m mockMessage) MessageID() uint16 { return 0 }
func (m mockMessage) Payload() []byte   { return m.p }
func (m mockMessage) Ack()              {}

// clientFactory hands out the given clients in order, repeating the last one.
type clientFactory struct {
	mu      sync.Mutex
	clients []pahoClient
	calls   int
	ids     []string
}

func (f *clientFactory) install(t interface{ Cleanup(func()) }) {
	prev := newMQTTClient
	newMQTTClient = f.new
	t.Cleanup(func() { newMQTTClient = prev })
}

func (f *clientFactory) new(o *paho.ClientOptions) pahoClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.clients) {
		i = len(f.clients) - 1
	}
	f.calls++
	f.ids = append(f.ids, o.ClientID)
	c := f.clients[i]
	if mc, ok := c.(*mockClient); ok {
		mc.opts = o
	}
	return c
}

func (f *clientFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
