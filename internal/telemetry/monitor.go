package telemetry

import (
	"context"
	"log/slog"
	"time"

	"roverswarm/internal/fleet"
)

// DefaultTickInterval is the staleness re-evaluation cadence.
const DefaultTickInterval = time.Second

// Monitor periodically re-evaluates the connectivity class of every robot.
type Monitor struct {
	reg          *fleet.Registry
	store        Store
	tickInterval time.Duration
	now          func() time.Time
	log          *slog.Logger
}

// NewMonitor creates a Monitor. A zero interval selects DefaultTickInterval,
// a nil clock selects time.Now and a nil logger selects slog.Default.
func NewMonitor(reg *fleet.Registry, store Store, interval time.Duration, now func() time.Time, log *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if now == nil {
		now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{reg: reg, store: store, tickInterval: interval, now: now, log: log}
}

// Run ticks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	log := m.log
	log.Info("starting staleness monitor", "tick_interval", m.tickInterval)
	ticker := time.NewTicker(m.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.tick(log, m.now())
		case <-ctx.Done():
			log.Info("stopping staleness monitor")
			return
		}
	}
}

// Tick evaluates every robot once at now and returns the transitions.
func (m *Monitor) Tick(now time.Time) []Event {
	return m.tick(m.log, now)
}

func (m *Monitor) tick(log *slog.Logger, now time.Time) []Event {
	var changed []Event
	for id := range m.reg.All() {
		ev, ok, err := m.store.Reclassify(id, now)
		if err != nil {
			log.Error("reclassify failed", "robot", id.CanonicalName, "err", err)
			continue
		}
		if ok {
			log.Debug("connectivity changed", "robot", id.CanonicalName, "from", ev.Previous, "to", ev.Current)
			changed = append(changed, ev)
		}
	}
	return changed
}
