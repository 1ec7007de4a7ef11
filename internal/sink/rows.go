// Package sink exports coordinator events: connectivity transitions and the
// per-robot dispatch audit.
package sink

import (
	"time"

	"roverswarm/internal/command"
	"roverswarm/internal/telemetry"
)

// ConnectivityRow records one connectivity transition.
type ConnectivityRow struct {
	Robot     string    `json:"robot"`
	Index     int       `json:"index"`
	Previous  string    `json:"previous"`
	Current   string    `json:"current"`
	Timestamp time.Time `json:"ts"`
}

// DispatchRow records the outcome of a command for one robot.
type DispatchRow struct {
	DispatchID string    `json:"dispatch_id"`
	Robot      string    `json:"robot"`
	Index      int       `json:"index"`
	Mode       string    `json:"mode"`
	Address    string    `json:"address"`
	Broadcast  bool      `json:"broadcast"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"ts"`
}

// EventWriter receives connectivity transitions.
type EventWriter interface {
	WriteConnectivity(ConnectivityRow) error
}

// DispatchWriter receives dispatch audit rows.
type DispatchWriter interface {
	WriteDispatch(DispatchRow) error
}

// Optional: dispatch writers may support batch mode
type batchDispatchWriter interface {
	WriteDispatches([]DispatchRow) error
}

// ConnectivityFromEvent converts a store event. ok is false for events that
// carry no transition.
func ConnectivityFromEvent(ev telemetry.Event) (ConnectivityRow, bool) {
	if !ev.Changed() {
		return ConnectivityRow{}, false
	}
	return ConnectivityRow{
		Robot:     ev.Robot.CanonicalName,
		Index:     ev.Robot.Index,
		Previous:  ev.Previous.String(),
		Current:   ev.Current.String(),
		Timestamp: ev.At.UTC(),
	}, true
}

// DispatchRows flattens a dispatch result into one row per robot.
func DispatchRows(res command.Result) []DispatchRow {
	rows := make([]DispatchRow, 0, len(res.Outcomes))
	for _, o := range res.Outcomes {
		row := DispatchRow{
			DispatchID: res.ID,
			Robot:      o.Robot.CanonicalName,
			Index:      o.Robot.Index,
			Mode:       string(res.Mode),
			Address:    o.Address,
			Broadcast:  res.Broadcast,
			Success:    o.OK(),
			Timestamp:  res.SentAt,
		}
		if o.Err != nil {
			row.Error = o.Err.Error()
		}
		rows = append(rows, row)
	}
	return rows
}

// WriteDispatchRows writes rows using batch mode when w supports it.
func WriteDispatchRows(w DispatchWriter, rows []DispatchRow) error {
	if len(rows) == 0 {
		return nil
	}
	if bw, ok := w.(batchDispatchWriter); ok {
		return bw.WriteDispatches(rows)
	}
	for _, r := range rows {
		if err := w.WriteDispatch(r); err != nil {
			return err
		}
	}
	return nil
}
