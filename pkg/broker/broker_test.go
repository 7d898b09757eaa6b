package broker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type doneToken struct {
	err error
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *doneToken) Error() error { return t.err }

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient implements the parts of mqtt.Client the package uses.
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	subscribeErr error
	handlers     map[string]mqtt.MessageHandler
	unsubscribed []string
	published    []published
}

func newFakeClient() *fakeClient {
	return &fakeClient{handlers: make(map[string]mqtt.MessageHandler)}
}

func (f *fakeClient) IsConnected() bool      { return true }
func (f *fakeClient) IsConnectionOpen() bool { return true }
func (f *fakeClient) Disconnect(uint)        {}

func (f *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return &doneToken{err: f.subscribeErr}
	}
	f.handlers[topic] = cb
	return &doneToken{}
}

func (f *fakeClient) Unsubscribe(topics ...string) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, topics...)
	return &doneToken{}
}

func (f *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return &doneToken{}
}

func (f *fakeClient) handler(topic string) mqtt.MessageHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handlers[topic]
}

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

func TestConfigURL(t *testing.T) {
	c := Config{Host: "broker", Port: 1883}
	assert.Equal(t, "tcp://broker:1883", c.URL())
	c.UseTLS = true
	c.Port = 8883
	assert.Equal(t, "ssl://broker:8883", c.URL())
}

func TestConsumerDispatchesAndUnsubscribes(t *testing.T) {
	client := newFakeClient()
	got := make(chan string, 2)
	c := NewConsumer(client, []Subscription{{Topic: "ua/data/#", QoS: 0}, {Topic: "ua/meta/#", QoS: 1}}, nil, zap.NewNop())
	c.SetHandler(func(topic string, msg mqtt.Message) error {
		got <- topic + "=" + string(msg.Payload())
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.ConsumeMessage(ctx) }()

	require.Eventually(t, func() bool { return client.handler("ua/meta/#") != nil }, time.Second, 5*time.Millisecond)
	client.handler("ua/data/#")(client, fakeMessage{topic: "ua/data/p1", payload: []byte("x")})
	client.handler("ua/meta/#")(client, fakeMessage{topic: "ua/meta/p1", payload: []byte("y")})
	assert.Equal(t, "ua/data/#=x", <-got)
	assert.Equal(t, "ua/meta/#=y", <-got)

	cancel()
	require.NoError(t, <-done)
	assert.ElementsMatch(t, []string{"ua/data/#", "ua/meta/#"}, client.unsubscribed)
}

func TestConsumerSubscribeError(t *testing.T) {
	client := newFakeClient()
	client.subscribeErr = errors.New("not authorized")
	c := NewConsumer(client, []Subscription{{Topic: "ua/#"}}, nil, zap.NewNop())

	err := c.ConsumeMessage(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ua/#")
}

func TestPublisher(t *testing.T) {
	client := newFakeClient()
	p := NewPublisher(client, 1, false)

	require.NoError(t, p.PublishMessage("ua/data/sim", []byte{1, 2}))
	require.Len(t, client.published, 1)
	assert.Equal(t, published{topic: "ua/data/sim", qos: 1, payload: []byte{1, 2}}, client.published[0])
}
