// Package transport connects the coordinator to a publish/subscribe broker.
package transport

import (
	"context"
	"errors"
)

// ErrDisconnected is returned when publishing without a broker link.
var ErrDisconnected = errors.New("transport: not connected")

// Handler consumes inbound messages. Implementations must not assume calls
// are serialized.
type Handler interface {
	OnMessage(topic string, payload []byte)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(topic string, payload []byte)

// OnMessage implements Handler.
func (f HandlerFunc) OnMessage(topic string, payload []byte) { f(topic, payload) }

// Client is the broker connection used by the coordinator.
type Client interface {
	// Connect opens the link and keeps the given topics subscribed across
	// reconnects, delivering messages to h.
	Connect(ctx context.Context, topics []string, h Handler) error
	Publish(ctx context.Context, topic string, payload []byte) error
	Connected() bool
	Close()
}
