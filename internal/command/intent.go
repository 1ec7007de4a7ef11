// Package command builds command payloads from operator intents and
// dispatches them to one robot, a selection, or the whole fleet.
package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidParameter is returned when a supplied command field is not an integer
// or the requested mode is unknown.
var ErrInvalidParameter = errors.New("command: invalid parameter")

// ParamError names the field that failed validation.
type ParamError struct {
	Field string
	Value string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("command: field %s: %q is not an integer", e.Field, e.Value)
}

func (e *ParamError) Unwrap() error { return ErrInvalidParameter }

// Mode is the robot operating mode.
type Mode string

const (
	ModeOff     Mode = "OFF"
	ModeIdle    Mode = "IDLE"
	ModeLine    Mode = "LINE"
	ModePolygon Mode = "POLYGON"
	ModeManual  Mode = "MANUAL"
)

// Modes lists the valid modes in firmware order.
var Modes = []Mode{ModeOff, ModeIdle, ModeLine, ModePolygon, ModeManual}

// ParseMode accepts a mode name in any case.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Modes {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidParameter, s)
}

// Param is an optional integer parameter exactly as the caller supplied it.
// Validation happens when a payload is built.
type Param struct {
	raw string
	set bool
}

// Int returns a present parameter holding v.
func Int(v int) Param { return Param{raw: strconv.Itoa(v), set: true} }

// Text returns a parameter from free-form input. Blank input means absent.
func Text(s string) Param {
	s = strings.TrimSpace(s)
	return Param{raw: s, set: s != ""}
}

// Present reports whether the caller supplied a value.
func (p Param) Present() bool { return p.set }

// Raw returns the supplied text.
func (p Param) Raw() string { return p.raw }

// Value converts the parameter to an int.
func (p Param) Value() (int, error) {
	v, err := strconv.Atoi(p.raw)
	if err != nil {
		return 0, err
	}
	return v, nil
}

// UnmarshalJSON accepts a JSON number, a string or null.
func (p *Param) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*p = Param{}
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = Text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidParameter, b)
	}
	*p = numberParam(n)
	return nil
}

// numberParam stores whole JSON numbers such as 50.0 or 1e2 in integer form.
// Anything else keeps its text and fails validation later.
func numberParam(n json.Number) Param {
	if v, err := n.Int64(); err == nil && v >= math.MinInt && v <= math.MaxInt {
		return Int(int(v))
	}
	f, err := n.Float64()
	if err == nil && f == math.Trunc(f) && f >= math.MinInt && f < math.MaxInt {
		return Int(int(f))
	}
	return Text(n.String())
}

// MarshalJSON writes the value as a number when it is one.
func (p Param) MarshalJSON() ([]byte, error) {
	if !p.set {
		return []byte("null"), nil
	}
	if v, err := p.Value(); err == nil {
		return []byte(strconv.Itoa(v)), nil
	}
	return json.Marshal(p.raw)
}

// Optional payload fields for state updates.
const (
	FieldNeighborMaxDist = "neighbor_maxDist"
	FieldIdleThresh      = "idle_thresh"
	FieldLineNodeDist    = "line_nodeDist"
	FieldLineAlignTol    = "line_alignTol"
	FieldPolygonRadius   = "polygon_radius"
	FieldPolygonSides    = "polygon_sides"
	FieldPolygonAlignTol = "polygon_alignTol"
)

// ManualIntent drives the motors directly.
type ManualIntent struct {
	Left  Param `json:"left"`
	Right Param `json:"right"`
	Back  Param `json:"back"`
}

// StateIntent switches a robot's mode with optional parameters keyed by
// payload field name.
type StateIntent struct {
	Mode   Mode             `json:"mode"`
	Fields map[string]Param `json:"fields,omitempty"`
}
