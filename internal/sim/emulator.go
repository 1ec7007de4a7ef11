// Package sim emulates a robot fleet on a broker and replays captured
// inbound traffic.
package sim

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"roverswarm/internal/command"
	"roverswarm/internal/fleet"
	"roverswarm/internal/logging"
	"roverswarm/internal/transport"
)

// ConnectedNotice is the plain-text message a robot publishes on its status
// topic right after connecting.
const ConnectedNotice = "Connected to MQTT"

const (
	sensorCount  = 6
	distMin      = 30
	distMax      = 800
	defaultRange = 200
)

// Options tune an Emulator.
type Options struct {
	Interval time.Duration
	// DropoutRate is the chance a robot skips a status publish on a tick.
	DropoutRate float64
	// Silent lists aliases that never publish status.
	Silent []string
	Seed   int64
}

type robot struct {
	alias     string
	mode      command.Mode
	params    map[string]int
	distances [sensorCount]int
	silent    bool
}

// Emulator publishes firmware-shaped status for a set of robots and mirrors
// mode and parameter updates it receives into the reported status. It does
// not emulate motion.
type Emulator struct {
	client   transport.Client
	interval time.Duration
	dropout  float64

	mu     sync.Mutex
	robots []*robot
	byName map[string]*robot
	rnd    *rand.Rand
}

// NewEmulator creates an Emulator for aliases, publishing through client.
func NewEmulator(aliases []string, client transport.Client, opts Options) *Emulator {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	silent := make(map[string]bool, len(opts.Silent))
	for _, a := range opts.Silent {
		silent[a] = true
	}
	e := &Emulator{
		client:   client,
		interval: opts.Interval,
		dropout:  opts.DropoutRate,
		byName:   make(map[string]*robot, len(aliases)),
		rnd:      rand.New(rand.NewSource(seed)),
	}
	for _, a := range aliases {
		r := &robot{
			alias:  a,
			mode:   command.ModeOff,
			params: map[string]int{command.FieldNeighborMaxDist: defaultRange},
			silent: silent[a],
		}
		for i := range r.distances {
			r.distances[i] = distMin + e.rnd.Intn(distMax-distMin)
		}
		e.robots = append(e.robots, r)
		e.byName[a] = r
	}
	return e
}

// Topics returns the command topics the emulated robots listen on.
func (e *Emulator) Topics() []string {
	topics := []string{fleet.BroadcastAddress}
	for _, r := range e.robots {
		topics = append(topics, fleet.IndividualAddress(r.alias))
	}
	return topics
}

// Run connects, announces every robot and publishes status each interval
// until ctx is done.
func (e *Emulator) Run(ctx context.Context) error {
	log := logging.FromContext(ctx)
	if err := e.client.Connect(ctx, e.Topics(), e); err != nil {
		return err
	}
	log.Info("starting fleet emulator", "robots", len(e.robots), "tick_interval", e.interval)
	for _, r := range e.robots {
		if r.silent {
			continue
		}
		if err := e.client.Publish(ctx, fleet.StatusTopic(r.alias), []byte(ConnectedNotice)); err != nil {
			log.Warn("announce failed", "robot", r.alias, "err", err)
		}
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.Tick(ctx)
		case <-ctx.Done():
			log.Info("stopping fleet emulator")
			return nil
		}
	}
}

// Tick publishes one status message per robot, minus dropouts, and returns
// how many were sent.
func (e *Emulator) Tick(ctx context.Context) int {
	log := logging.FromContext(ctx)
	type msg struct {
		topic string
		data  []byte
	}
	var batch []msg
	e.mu.Lock()
	for _, r := range e.robots {
		if r.silent || (e.dropout > 0 && e.rnd.Float64() < e.dropout) {
			continue
		}
		e.jitter(r)
		data, err := json.Marshal(r.status())
		if err != nil {
			log.Error("encode status", "robot", r.alias, "err", err)
			continue
		}
		batch = append(batch, msg{fleet.StatusTopic(r.alias), data})
	}
	e.mu.Unlock()

	sent := 0
	for _, m := range batch {
		if err := e.client.Publish(ctx, m.topic, m.data); err != nil {
			log.Warn("status publish failed", "topic", m.topic, "err", err)
			continue
		}
		sent++
	}
	return sent
}

// jitter moves each distance reading a few millimetres.
func (e *Emulator) jitter(r *robot) {
	for i := range r.distances {
		d := r.distances[i] + e.rnd.Intn(21) - 10
		r.distances[i] = min(max(d, distMin), distMax)
	}
}

// status mirrors the firmware payload: general fields, the fields of the
// current mode and the six range readings.
func (r *robot) status() map[string]any {
	doc := map[string]any{
		"mode":                       r.mode,
		command.FieldNeighborMaxDist: r.params[command.FieldNeighborMaxDist],
		"distances":                  r.distances,
	}
	switch r.mode {
	case command.ModeIdle:
		doc[command.FieldIdleThresh] = r.params[command.FieldIdleThresh]
	case command.ModeLine:
		doc[command.FieldLineNodeDist] = r.params[command.FieldLineNodeDist]
		doc[command.FieldLineAlignTol] = r.params[command.FieldLineAlignTol]
	case command.ModePolygon:
		doc[command.FieldPolygonSides] = r.params[command.FieldPolygonSides]
		doc[command.FieldPolygonRadius] = r.params[command.FieldPolygonRadius]
		doc[command.FieldPolygonAlignTol] = r.params[command.FieldPolygonAlignTol]
	}
	return doc
}

// settable lists the parameters a command may change.
var settable = []string{
	command.FieldNeighborMaxDist,
	command.FieldIdleThresh,
	command.FieldLineNodeDist,
	command.FieldLineAlignTol,
	command.FieldPolygonSides,
	command.FieldPolygonRadius,
	command.FieldPolygonAlignTol,
}

// OnMessage implements transport.Handler for command topics. Unknown modes
// and malformed documents are ignored, as the firmware does.
func (e *Emulator) OnMessage(topic string, payload []byte) {
	var doc map[string]any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if topic == fleet.BroadcastAddress {
		for _, r := range e.robots {
			r.apply(doc)
		}
		return
	}
	for _, r := range e.robots {
		if fleet.IndividualAddress(r.alias) == topic {
			r.apply(doc)
		}
	}
}

func (r *robot) apply(doc map[string]any) {
	if s, ok := doc["mode"].(string); ok {
		for _, m := range command.Modes {
			if string(m) == s {
				r.mode = m
			}
		}
	}
	for _, key := range settable {
		if v, ok := doc[key].(float64); ok {
			r.params[key] = int(v)
		}
	}
}

// Status returns the current status document of alias, for tests and
// debugging.
func (e *Emulator) Status(alias string) (map[string]any, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.byName[alias]
	if !ok {
		return nil, false
	}
	return r.status(), true
}
