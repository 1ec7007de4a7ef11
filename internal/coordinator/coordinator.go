// Package coordinator wires the fleet registry, telemetry store, staleness
// monitor and command dispatcher behind one façade used by every front end.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"roverswarm/internal/command"
	"roverswarm/internal/fleet"
	"roverswarm/internal/logging"
	"roverswarm/internal/sink"
	"roverswarm/internal/telemetry"
	"roverswarm/internal/transport"
)

// ErrAlreadyStarted is returned by a second call to Start.
var ErrAlreadyStarted = errors.New("coordinator: already started")

// Options tune a Coordinator. The zero value is usable.
type Options struct {
	SendTimeout  time.Duration
	TickInterval time.Duration
	// Now is the clock used for inbound samples and monitor ticks.
	Now func() time.Time
	// Events receives connectivity transitions. May be nil.
	Events sink.EventWriter
	// Dispatches receives one audit row per robot per command. May be nil.
	Dispatches sink.DispatchWriter
	// Inbound wraps the handler registered with the transport, for example
	// to record traffic. May be nil.
	Inbound func(transport.Handler) transport.Handler
	// Store builds the telemetry store; listener must receive every store
	// event. Nil selects telemetry.NewMemoryStore.
	Store  func(reg *fleet.Registry, listener telemetry.Listener) telemetry.Store
	Logger *slog.Logger
}

// Coordinator is safe for concurrent use by the transport, the monitor and
// any number of front ends.
type Coordinator struct {
	reg        *fleet.Registry
	resolver   *fleet.Resolver
	store      telemetry.Store
	monitor    *telemetry.Monitor
	dispatcher *command.Dispatcher
	client     transport.Client
	events     sink.EventWriter
	dispatches sink.DispatchWriter
	inbound    transport.Handler
	now        func() time.Time
	log        *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Coordinator for reg that talks to the broker through client.
func New(reg *fleet.Registry, client transport.Client, opts Options) *Coordinator {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	c := &Coordinator{
		reg:        reg,
		resolver:   fleet.NewResolver(reg),
		client:     client,
		events:     opts.Events,
		dispatches: opts.Dispatches,
		now:        opts.Now,
		log:        opts.Logger,
	}
	c.inbound = c
	if opts.Inbound != nil {
		c.inbound = opts.Inbound(c)
	}
	if opts.Store == nil {
		opts.Store = func(reg *fleet.Registry, l telemetry.Listener) telemetry.Store {
			return telemetry.NewMemoryStore(reg, l)
		}
	}
	c.store = opts.Store(reg, c.onStoreEvent)
	c.monitor = telemetry.NewMonitor(reg, c.store, opts.TickInterval, opts.Now, opts.Logger)
	c.dispatcher = command.NewDispatcher(reg, client, opts.SendTimeout, opts.Logger)
	return c
}

// Registry returns the fleet the coordinator manages.
func (c *Coordinator) Registry() *fleet.Registry { return c.reg }

// Start connects to the broker, subscribes to every status topic and starts
// the staleness monitor. The monitor runs until Close.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return ErrAlreadyStarted
	}
	topics := c.resolver.StatusTopics()
	if err := c.client.Connect(ctx, topics, c.inbound); err != nil {
		// the client may still be retrying in the background
		c.client.Close()
		return fmt.Errorf("connect transport: %w", err)
	}
	c.log.Info("coordinator started", "robots", c.reg.Len(), "topics", len(topics))

	mctx, cancel := context.WithCancel(logging.NewContext(context.Background(), c.log))
	c.cancel = cancel
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		c.monitor.Run(mctx)
	}()
	return nil
}

// Close stops the monitor, waits for it and disconnects the transport.
func (c *Coordinator) Close() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.client.Close()
	c.log.Info("coordinator stopped")
}

// OnMessage implements transport.Handler. Messages for unknown robots and
// payloads that are not JSON objects are dropped.
func (c *Coordinator) OnMessage(topic string, payload []byte) {
	id, err := c.resolver.ResolveTopic(topic)
	if err != nil {
		c.log.Warn("dropping status message", "topic", topic, "err", err)
		return
	}
	p, err := telemetry.ParsePayload(payload)
	if err != nil {
		c.log.Warn("dropping status message", "topic", topic, "robot", id.CanonicalName, "err", err)
		return
	}
	if err := c.store.Update(id, p, c.now()); err != nil {
		c.log.Warn("dropping status message", "topic", topic, "err", err)
	}
}

// Tick re-evaluates connectivity once at now. The monitor calls the same
// logic every tick interval.
func (c *Coordinator) Tick(now time.Time) []telemetry.Event {
	return c.monitor.Tick(now)
}

// GetSnapshot returns a copy of the record of the robot at index.
func (c *Coordinator) GetSnapshot(index int) (telemetry.Record, error) {
	id, err := c.reg.ResolveByIndex(index)
	if err != nil {
		return telemetry.Record{}, err
	}
	return c.store.Read(id)
}

// GetAllSnapshots returns a copy of every record in registry order.
func (c *Coordinator) GetAllSnapshots() []telemetry.Record {
	out := make([]telemetry.Record, 0, c.reg.Len())
	for rec := range c.store.ReadAll() {
		out = append(out, rec)
	}
	return out
}

// SubmitManual sends a MANUAL command to the whole fleet or the selected robot.
func (c *Coordinator) SubmitManual(ctx context.Context, in command.ManualIntent, broadcast bool, selected int) (command.Result, error) {
	p, err := command.BuildManual(in)
	if err != nil {
		return command.Result{}, err
	}
	return c.submit(ctx, p, func() (command.Targets, error) {
		return c.dispatcher.ResolveTargets(broadcast, selected)
	})
}

// SubmitStateUpdate sends a mode change to the whole fleet or the selected robot.
func (c *Coordinator) SubmitStateUpdate(ctx context.Context, in command.StateIntent, broadcast bool, selected int) (command.Result, error) {
	p, err := command.BuildStateUpdate(in)
	if err != nil {
		return command.Result{}, err
	}
	return c.submit(ctx, p, func() (command.Targets, error) {
		return c.dispatcher.ResolveTargets(broadcast, selected)
	})
}

// SubmitManualTo sends a MANUAL command individually to several robots.
func (c *Coordinator) SubmitManualTo(ctx context.Context, in command.ManualIntent, indices []int) (command.Result, error) {
	p, err := command.BuildManual(in)
	if err != nil {
		return command.Result{}, err
	}
	return c.submit(ctx, p, func() (command.Targets, error) {
		return c.dispatcher.ResolveSelection(indices)
	})
}

// SubmitStateUpdateTo sends a mode change individually to several robots.
func (c *Coordinator) SubmitStateUpdateTo(ctx context.Context, in command.StateIntent, indices []int) (command.Result, error) {
	p, err := command.BuildStateUpdate(in)
	if err != nil {
		return command.Result{}, err
	}
	return c.submit(ctx, p, func() (command.Targets, error) {
		return c.dispatcher.ResolveSelection(indices)
	})
}

// submit resolves targets only after the payload is built so an invalid
// intent never reaches the transport.
func (c *Coordinator) submit(ctx context.Context, p command.Payload, resolve func() (command.Targets, error)) (command.Result, error) {
	targets, err := resolve()
	if err != nil {
		return command.Result{}, err
	}
	res := c.dispatcher.Dispatch(ctx, p, targets)
	c.log.Info("command dispatched",
		"dispatch_id", res.ID,
		"mode", res.Mode,
		"broadcast", res.Broadcast,
		"ok", res.SuccessCount,
		"failed", res.FailureCount)
	if c.dispatches != nil {
		if err := sink.WriteDispatchRows(c.dispatches, sink.DispatchRows(res)); err != nil {
			c.log.Error("dispatch audit failed", "dispatch_id", res.ID, "err", err)
		}
	}
	return res, nil
}

// ConnectionStatus reports whether the broker link is up.
func (c *Coordinator) ConnectionStatus() bool {
	return c.client.Connected()
}

func (c *Coordinator) onStoreEvent(ev telemetry.Event) {
	row, ok := sink.ConnectivityFromEvent(ev)
	if !ok {
		return
	}
	c.log.Info("connectivity changed", "robot", row.Robot, "from", row.Previous, "to", row.Current)
	if c.events == nil {
		return
	}
	if err := c.events.WriteConnectivity(row); err != nil {
		c.log.Error("connectivity export failed", "robot", row.Robot, "err", err)
	}
}
