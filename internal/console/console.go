// Package console is the operator terminal UI: a live robot table, the
// selected robot's payload, an event log and emergency stop keys.
package console

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"roverswarm/internal/command"
	"roverswarm/internal/sink"
	"roverswarm/internal/telemetry"
)

// Coordinator is the part of the coordinator the console needs.
type Coordinator interface {
	GetAllSnapshots() []telemetry.Record
	SubmitStateUpdate(ctx context.Context, in command.StateIntent, broadcast bool, selected int) (command.Result, error)
	ConnectionStatus() bool
}

// teaProgram abstracts bubbletea.Program for testing.
type teaProgram interface {
	Send(tea.Msg)
}

// pendingLines bounds log lines queued while the UI is busy; extra lines
// are dropped.
const pendingLines = 256

// Console runs the UI and doubles as an event and dispatch writer so
// transitions show up in its log pane. Writes never block the caller.
type Console struct {
	program teaProgram
	run     func() error
	lines   chan tea.Msg
}

// New creates a Console for coord. It does not start drawing until Run.
func New(coord Coordinator, refresh time.Duration) *Console {
	m := newModel(coord, refresh)
	p := tea.NewProgram(m, tea.WithAltScreen())
	return &Console{
		program: p,
		run: func() error {
			_, err := p.Run()
			return err
		},
		lines: make(chan tea.Msg, pendingLines),
	}
}

// Run blocks until the operator quits or ctx is cancelled.
func (c *Console) Run(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go c.forward(ctx, done)
	return c.run()
}

func (c *Console) forward(ctx context.Context, done <-chan struct{}) {
	for {
		select {
		case msg := <-c.lines:
			c.program.Send(msg)
		case <-ctx.Done():
			c.program.Send(tea.Quit())
			return
		case <-done:
			return
		}
	}
}

func (c *Console) enqueue(msg tea.Msg) {
	select {
	case c.lines <- msg:
	default:
	}
}

// WriteConnectivity implements sink.EventWriter.
func (c *Console) WriteConnectivity(row sink.ConnectivityRow) error {
	c.enqueue(logMsg{line: fmt.Sprintf("[%s] %s %s -> %s",
		row.Timestamp.Local().Format(time.TimeOnly), row.Robot, row.Previous,
		connectivityStyle(row.Current).Render(row.Current))})
	return nil
}

// WriteDispatch implements sink.DispatchWriter.
func (c *Console) WriteDispatch(row sink.DispatchRow) error {
	status := okStyle.Render("ok")
	if !row.Success {
		status = failStyle.Render("failed: " + row.Error)
	}
	c.enqueue(logMsg{line: fmt.Sprintf("[%s] CMD %s %s via %s %s",
		row.Timestamp.Local().Format(time.TimeOnly), row.Mode, row.Robot, row.Address, status)})
	return nil
}
