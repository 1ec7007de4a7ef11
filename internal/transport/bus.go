package transport

import (
	"context"
	"sync"
)

// Bus is an in-process broker. It backs demo mode and tests: messages are
// delivered synchronously to every subscriber of the exact topic.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]Handler
	down bool
	fail map[string]error
}

// NewBus returns an empty, connected bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string][]Handler), fail: make(map[string]error)}
}

// Subscribe registers h for topic.
func (b *Bus) Subscribe(topic string, h Handler) {
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], h)
	b.mu.Unlock()
}

// Publish delivers payload to subscribers of topic.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	if b.down {
		b.mu.RUnlock()
		return ErrDisconnected
	}
	if err := b.fail[topic]; err != nil {
		b.mu.RUnlock()
		return err
	}
	handlers := append([]Handler(nil), b.subs[topic]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		msg := append([]byte(nil), payload...)
		h.OnMessage(topic, msg)
	}
	return nil
}

// SetDown simulates losing (true) or regaining (false) the broker.
func (b *Bus) SetDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

// FailTopic makes publishes to topic return err. A nil err clears it.
func (b *Bus) FailTopic(topic string, err error) {
	b.mu.Lock()
	if err == nil {
		delete(b.fail, topic)
	} else {
		b.fail[topic] = err
	}
	b.mu.Unlock()
}

// Client returns a Client view of the bus.
func (b *Bus) Client() *BusClient {
	return &BusClient{bus: b}
}

var _ Client = (*BusClient)(nil)

// BusClient implements Client over a Bus.
type BusClient struct {
	bus    *Bus
	mu     sync.Mutex
	closed bool
}

// Connect implements Client.
func (c *BusClient) Connect(_ context.Context, topics []string, h Handler) error {
	for _, t := range topics {
		c.bus.Subscribe(t, HandlerFunc(func(topic string, payload []byte) {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed {
				h.OnMessage(topic, payload)
			}
		}))
	}
	return nil
}

// Publish implements Client.
func (c *BusClient) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.Connected() {
		return ErrDisconnected
	}
	return c.bus.Publish(ctx, topic, payload)
}

// Connected implements Client.
func (c *BusClient) Connected() bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return false
	}
	c.bus.mu.RLock()
	defer c.bus.mu.RUnlock()
	return !c.bus.down
}

// Close implements Client.
func (c *BusClient) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
