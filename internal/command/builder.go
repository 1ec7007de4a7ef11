package command

import (
	"encoding/json"
	"fmt"
)

// Payload is the canonical command document sent to robots.
type Payload map[string]any

// Mode returns the payload's mode value.
func (p Payload) Mode() Mode {
	m, _ := p["mode"].(Mode)
	return m
}

// Encode serialises the payload as JSON.
func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// Fields that each mode accepts besides the general ones.
var modeFields = map[Mode][]string{
	ModeIdle:    {FieldIdleThresh},
	ModeLine:    {FieldLineNodeDist, FieldLineAlignTol},
	ModePolygon: {FieldPolygonRadius, FieldPolygonSides, FieldPolygonAlignTol},
}

// generalFields apply to every mode.
var generalFields = []string{FieldNeighborMaxDist}

// BuildManual creates a MANUAL payload with l, r and b present only when supplied.
func BuildManual(in ManualIntent) (Payload, error) {
	p := Payload{"mode": ModeManual}
	for _, f := range []struct {
		key   string
		param Param
	}{{"l", in.Left}, {"r", in.Right}, {"b", in.Back}} {
		if err := setParam(p, f.key, f.param); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// BuildStateUpdate creates a state payload. Fields that do not belong to the
// requested mode are dropped without validation.
func BuildStateUpdate(in StateIntent) (Payload, error) {
	mode, err := ParseMode(string(in.Mode))
	if err != nil {
		return nil, err
	}
	p := Payload{"mode": mode}
	allowed := append(append([]string{}, generalFields...), modeFields[mode]...)
	for _, key := range allowed {
		if err := setParam(p, key, in.Fields[key]); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func setParam(p Payload, key string, param Param) error {
	if !param.Present() {
		return nil
	}
	v, err := param.Value()
	if err != nil {
		return fmt.Errorf("build %s payload: %w", p["mode"], &ParamError{Field: key, Value: param.Raw()})
	}
	p[key] = v
	return nil
}
