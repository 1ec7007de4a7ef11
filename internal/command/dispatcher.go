package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"roverswarm/internal/fleet"
)

// DefaultSendTimeout bounds each publish.
const DefaultSendTimeout = 2 * time.Second

// ErrTransportFailure wraps a failed or timed-out publish.
var ErrTransportFailure = errors.New("command: transport failure")

// Publisher sends one encoded payload to an address.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// Targets is a resolved destination set.
type Targets struct {
	Broadcast bool
	Robots    []fleet.Identity
	// Address is the shared broadcast topic. It is empty for individual
	// targets, which are addressed per robot.
	Address string
}

// Outcome is the delivery result for one robot.
type Outcome struct {
	Robot   fleet.Identity `json:"robot"`
	Address string         `json:"address"`
	Err     error          `json:"-"`
}

// OK reports whether the send succeeded.
func (o Outcome) OK() bool { return o.Err == nil }

// MarshalJSON reports the error as text.
func (o Outcome) MarshalJSON() ([]byte, error) {
	out := struct {
		Robot   fleet.Identity `json:"robot"`
		Address string         `json:"address"`
		OK      bool           `json:"ok"`
		Error   string         `json:"error,omitempty"`
	}{Robot: o.Robot, Address: o.Address, OK: o.OK()}
	if o.Err != nil {
		out.Error = o.Err.Error()
	}
	return json.Marshal(out)
}

// Result aggregates the outcomes of one dispatch.
type Result struct {
	ID           string    `json:"id"`
	Mode         Mode      `json:"mode"`
	Broadcast    bool      `json:"broadcast"`
	Outcomes     []Outcome `json:"outcomes"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	SentAt       time.Time `json:"sent_at"`
}

// Dispatcher resolves targets and publishes payloads. It keeps no state
// between calls.
type Dispatcher struct {
	reg      *fleet.Registry
	resolver *fleet.Resolver
	pub      Publisher
	timeout  time.Duration
	log      *slog.Logger
}

// NewDispatcher creates a Dispatcher. A zero timeout selects DefaultSendTimeout.
func NewDispatcher(reg *fleet.Registry, pub Publisher, timeout time.Duration, log *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{reg: reg, resolver: fleet.NewResolver(reg), pub: pub, timeout: timeout, log: log}
}

// ResolveTargets returns the whole fleet and the broadcast address when
// broadcast is set, otherwise the robot at selected.
func (d *Dispatcher) ResolveTargets(broadcast bool, selected int) (Targets, error) {
	if broadcast {
		t := Targets{Broadcast: true, Address: fleet.BroadcastAddress}
		for id := range d.reg.All() {
			t.Robots = append(t.Robots, id)
		}
		return t, nil
	}
	id, err := d.reg.ResolveByIndex(selected)
	if err != nil {
		return Targets{}, err
	}
	return Targets{Robots: []fleet.Identity{id}}, nil
}

// ResolveSelection addresses several robots individually. Duplicates collapse
// and any invalid index rejects the whole selection.
func (d *Dispatcher) ResolveSelection(indices []int) (Targets, error) {
	if len(indices) == 0 {
		return Targets{}, fmt.Errorf("%w: empty selection", fleet.ErrOutOfRange)
	}
	seen := make(map[int]bool, len(indices))
	var t Targets
	for _, i := range indices {
		id, err := d.reg.ResolveByIndex(i)
		if err != nil {
			return Targets{}, err
		}
		if seen[i] {
			continue
		}
		seen[i] = true
		t.Robots = append(t.Robots, id)
	}
	return t, nil
}

// AddressOf returns the topic a robot is commanded on for these targets.
func (d *Dispatcher) AddressOf(t Targets, id fleet.Identity) string {
	if t.Broadcast {
		return t.Address
	}
	return fleet.IndividualAddress(d.resolver.OutboundAlias(id))
}

// Dispatch publishes payload to targets. A broadcast is published once and
// its outcome recorded for every robot. Individual sends run concurrently and
// a failure never cancels the others.
func (d *Dispatcher) Dispatch(ctx context.Context, payload Payload, t Targets) Result {
	res := Result{
		ID:        uuid.New().String(),
		Mode:      payload.Mode(),
		Broadcast: t.Broadcast,
		Outcomes:  make([]Outcome, len(t.Robots)),
		SentAt:    time.Now().UTC(),
	}
	for i, id := range t.Robots {
		res.Outcomes[i] = Outcome{Robot: id, Address: d.AddressOf(t, id)}
	}

	data, err := payload.Encode()
	if err != nil {
		for i := range res.Outcomes {
			res.Outcomes[i].Err = fmt.Errorf("encode payload: %w", err)
		}
		res.tally()
		return res
	}

	if t.Broadcast {
		err := d.send(ctx, t.Address, data)
		for i := range res.Outcomes {
			res.Outcomes[i].Err = err
		}
		res.tally()
		return res
	}

	// each goroutine owns one slot of Outcomes
	var g errgroup.Group
	for i := range res.Outcomes {
		g.Go(func() error {
			res.Outcomes[i].Err = d.send(ctx, res.Outcomes[i].Address, data)
			return nil
		})
	}
	_ = g.Wait()
	res.tally()
	return res
}

func (d *Dispatcher) send(ctx context.Context, topic string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	// publishers that ignore ctx still cannot hold a send past the timeout
	errc := make(chan error, 1)
	go func() { errc <- d.pub.Publish(ctx, topic, data) }()
	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		d.log.Warn("command publish failed", "topic", topic, "err", err)
		return fmt.Errorf("%w: %s: %v", ErrTransportFailure, topic, err)
	}
	d.log.Info("command published", "topic", topic, "bytes", len(data))
	return nil
}

func (r *Result) tally() {
	r.SuccessCount, r.FailureCount = 0, 0
	for _, o := range r.Outcomes {
		if o.OK() {
			r.SuccessCount++
		} else {
			r.FailureCount++
		}
	}
}
