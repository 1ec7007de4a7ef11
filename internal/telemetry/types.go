// Package telemetry keeps the latest telemetry sample and the connectivity class
// of every configured robot.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"roverswarm/internal/fleet"
)

var (
	// ErrMalformedPayload is returned when a status payload is not a JSON object.
	ErrMalformedPayload = errors.New("telemetry: malformed payload")
	// ErrUnknownRobot is returned for identities the store was not built with.
	ErrUnknownRobot = errors.New("telemetry: unknown robot")
)

// Connectivity classifies how recently a robot was heard from.
type Connectivity int

// Connectivity classes, worst first.
const (
	Disconnected Connectivity = iota
	Stale
	Connected
)

func (c Connectivity) String() string {
	switch c {
	case Connected:
		return "connected"
	case Stale:
		return "stale"
	default:
		return "disconnected"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Connectivity) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Connectivity) UnmarshalText(b []byte) error {
	switch string(b) {
	case "connected":
		*c = Connected
	case "stale":
		*c = Stale
	case "disconnected":
		*c = Disconnected
	default:
		return fmt.Errorf("telemetry: unknown connectivity %q", b)
	}
	return nil
}

// Payload is one decoded status message: field name to scalar or nested value.
type Payload map[string]any

// ParsePayload decodes a status message. Anything but a JSON object is rejected.
func ParsePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: null document", ErrMalformedPayload)
	}
	return p, nil
}

// Clone returns a deep copy of p.
func (p Payload) Clone() Payload {
	if p == nil {
		return Payload{}
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = cloneValue(e)
		}
		return m
	case Payload:
		return t.Clone()
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = cloneValue(e)
		}
		return s
	default:
		return v
	}
}

// Record is a snapshot of one robot's telemetry state.
type Record struct {
	Identity     fleet.Identity `json:"robot"`
	Payload      Payload        `json:"payload"`
	LastSeenAt   time.Time      `json:"last_seen_at"`
	Connectivity Connectivity   `json:"connectivity"`
}

// Seen reports whether the robot has ever produced telemetry.
func (r Record) Seen() bool { return !r.LastSeenAt.IsZero() }

// EventKind distinguishes store notifications.
type EventKind string

const (
	EventSample       EventKind = "sample"
	EventConnectivity EventKind = "connectivity"
)

// Event is emitted by a Store after a record changed.
type Event struct {
	Kind     EventKind
	Robot    fleet.Identity
	Previous Connectivity
	Current  Connectivity
	At       time.Time
}

// Changed reports whether the event carries a connectivity transition.
func (e Event) Changed() bool { return e.Previous != e.Current }
