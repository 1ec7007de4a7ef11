package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// QoS used for subscriptions and commands: at least once.
const QoS byte = 1

// MQTTConfig holds broker connection settings.
type MQTTConfig struct {
	BrokerURL      string
	ClientID       string
	Username       string
	Password       string
	KeepAlive      time.Duration
	ConnectTimeout time.Duration
}

var _ Client = (*MQTTClient)(nil)

// MQTTClient implements Client on top of the Eclipse Paho client.
type MQTTClient struct {
	cfg    MQTTConfig
	log    *slog.Logger
	client mqtt.Client

	mu      sync.Mutex
	topics  []string
	handler Handler
}

// NewMQTTClient prepares a client; nothing is dialled until Connect.
func NewMQTTClient(cfg MQTTConfig, log *slog.Logger) *MQTTClient {
	if cfg.ClientID == "" {
		cfg.ClientID = "roverswarm-" + uuid.New().String()[:8]
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	c := &MQTTClient{cfg: cfg, log: log}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetKeepAlive(cfg.KeepAlive).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetCleanSession(true).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	c.client = mqtt.NewClient(opts)
	return c
}

// Connect implements Client. Subscriptions are (re)issued from the
// on-connect callback, so they survive broker reconnects.
func (c *MQTTClient) Connect(ctx context.Context, topics []string, h Handler) error {
	c.mu.Lock()
	c.topics = append([]string(nil), topics...)
	c.handler = h
	c.mu.Unlock()

	tok := c.client.Connect()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("mqtt connect %s: %w", c.cfg.BrokerURL, err)
		}
		return nil
	case <-ctx.Done():
		// connect retry keeps going in the background
		return fmt.Errorf("mqtt connect %s: %w", c.cfg.BrokerURL, ctx.Err())
	}
}

func (c *MQTTClient) onConnect(client mqtt.Client) {
	c.mu.Lock()
	topics := c.topics
	h := c.handler
	c.mu.Unlock()

	c.log.Info("connected to broker", "broker", c.cfg.BrokerURL)
	if len(topics) == 0 || h == nil {
		return
	}
	filters := make(map[string]byte, len(topics))
	for _, t := range topics {
		filters[t] = QoS
	}
	tok := client.SubscribeMultiple(filters, func(_ mqtt.Client, m mqtt.Message) {
		h.OnMessage(m.Topic(), m.Payload())
	})
	go func() {
		if !tok.WaitTimeout(c.cfg.ConnectTimeout) {
			c.log.Warn("subscribe timed out", "topics", len(filters))
			return
		}
		if err := tok.Error(); err != nil {
			c.log.Error("subscribe failed", "err", err)
			return
		}
		c.log.Info("subscribed to telemetry topics", "topics", len(filters))
	}()
}

func (c *MQTTClient) onConnectionLost(_ mqtt.Client, err error) {
	c.log.Warn("broker connection lost", "broker", c.cfg.BrokerURL, "err", err)
}

// Publish implements Client.
func (c *MQTTClient) Publish(ctx context.Context, topic string, payload []byte) error {
	if !c.client.IsConnectionOpen() {
		return ErrDisconnected
	}
	tok := c.client.Publish(topic, QoS, false, payload)
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected implements Client.
func (c *MQTTClient) Connected() bool {
	return c.client.IsConnectionOpen()
}

// Close implements Client.
func (c *MQTTClient) Close() {
	c.client.Disconnect(250)
	c.log.Info("disconnected from broker", "broker", c.cfg.BrokerURL)
}
