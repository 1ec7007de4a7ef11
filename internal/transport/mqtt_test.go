package transport

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"roverswarm/internal/logging"
)

type doneToken struct {
	err  error
	done chan struct{}
}

func newDoneToken(err error) *doneToken {
	ch := make(chan struct{})
	close(ch)
	return &doneToken{err: err, done: ch}
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m fakeMessage) Topic() string   { return m.topic }
func (m fakeMessage) Payload() []byte { return m.payload }

type fakePaho struct {
	mqtt.Client

	mu        sync.Mutex
	open      bool
	filters   map[string]byte
	callback  mqtt.MessageHandler
	published []string
	qos       []byte
	pubErr    error
}

func (f *fakePaho) IsConnectionOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakePaho) SubscribeMultiple(filters map[string]byte, cb mqtt.MessageHandler) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = filters
	f.callback = cb
	return newDoneToken(nil)
}

func (f *fakePaho) Publish(topic string, qos byte, _ bool, _ interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, topic)
	f.qos = append(f.qos, qos)
	return newDoneToken(f.pubErr)
}

func newTestMQTT(fake *fakePaho) *MQTTClient {
	c := NewMQTTClient(MQTTConfig{BrokerURL: "tcp://localhost:1883"}, logging.Discard())
	c.client = fake
	return c
}

func TestNewMQTTClientDefaults(t *testing.T) {
	c := NewMQTTClient(MQTTConfig{BrokerURL: "tcp://localhost:1883"}, nil)
	if !strings.HasPrefix(c.cfg.ClientID, "roverswarm-") {
		t.Fatalf("unexpected generated client id %q", c.cfg.ClientID)
	}
	if c.cfg.KeepAlive != 60*time.Second || c.cfg.ConnectTimeout != 10*time.Second {
		t.Fatalf("unexpected defaults: keepalive=%v connect=%v", c.cfg.KeepAlive, c.cfg.ConnectTimeout)
	}
	if c.Connected() {
		t.Fatalf("client should not be connected before Connect")
	}

	named := NewMQTTClient(MQTTConfig{BrokerURL: "tcp://localhost:1883", ClientID: "ops"}, nil)
	if named.cfg.ClientID != "ops" {
		t.Fatalf("client id overridden: %q", named.cfg.ClientID)
	}
}

func TestMQTTPublishRequiresConnection(t *testing.T) {
	fake := &fakePaho{}
	c := newTestMQTT(fake)
	err := c.Publish(context.Background(), "command/broadcast", []byte(`{}`))
	if !errors.Is(err, ErrDisconnected) {
		t.Fatalf("expected ErrDisconnected, got %v", err)
	}
	if len(fake.published) != 0 {
		t.Fatalf("published while disconnected: %v", fake.published)
	}
}

func TestMQTTPublishAtLeastOnce(t *testing.T) {
	fake := &fakePaho{open: true}
	c := newTestMQTT(fake)
	if err := c.Publish(context.Background(), "command/individual/rover-a", []byte(`{"mode":"OFF"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !reflect.DeepEqual(fake.published, []string{"command/individual/rover-a"}) {
		t.Fatalf("unexpected topics: %v", fake.published)
	}
	if !reflect.DeepEqual(fake.qos, []byte{QoS}) {
		t.Fatalf("unexpected qos: %v", fake.qos)
	}

	fake.pubErr = errors.New("not authorized")
	if err := c.Publish(context.Background(), "command/broadcast", nil); err == nil || err.Error() != "not authorized" {
		t.Fatalf("expected broker error, got %v", err)
	}
}

func TestMQTTResubscribesOnConnect(t *testing.T) {
	fake := &fakePaho{open: true}
	c := newTestMQTT(fake)

	var mu sync.Mutex
	var got []string
	c.mu.Lock()
	c.topics = []string{"telemetry/a/status", "telemetry/b/status"}
	c.handler = HandlerFunc(func(topic string, payload []byte) {
		mu.Lock()
		got = append(got, topic+"="+string(payload))
		mu.Unlock()
	})
	c.mu.Unlock()

	// each (re)connect issues the subscriptions again
	c.onConnect(fake)
	c.onConnect(fake)

	fake.mu.Lock()
	filters, cb := fake.filters, fake.callback
	fake.mu.Unlock()
	want := map[string]byte{"telemetry/a/status": QoS, "telemetry/b/status": QoS}
	if !reflect.DeepEqual(filters, want) {
		t.Fatalf("filters = %v, want %v", filters, want)
	}
	if cb == nil {
		t.Fatalf("no message callback registered")
	}

	cb(fake, fakeMessage{topic: "telemetry/a/status", payload: []byte(`{"mode":"IDLE"}`)})
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != `telemetry/a/status={"mode":"IDLE"}` {
		t.Fatalf("unexpected deliveries: %v", got)
	}
}

func TestMQTTOnConnectWithoutHandler(t *testing.T) {
	fake := &fakePaho{open: true}
	c := newTestMQTT(fake)
	c.onConnect(fake)
	if fake.filters != nil {
		t.Fatalf("subscribed without a handler: %v", fake.filters)
	}
}
