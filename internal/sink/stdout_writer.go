package sink

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	colorReset  = "\x1b[0m"
	colorRed    = "\x1b[31m"
	colorGreen  = "\x1b[32m"
	colorYellow = "\x1b[33m"
	colorCyan   = "\x1b[36m"
	colorGray   = "\x1b[90m"
)

// StdoutWriter prints events as JSON lines, or as colored text when writing
// to a terminal.
type StdoutWriter struct {
	mu       sync.Mutex
	out      io.Writer
	colorize bool
}

// NewStdoutWriter creates a StdoutWriter on os.Stdout, colorizing only when
// stdout is a terminal.
func NewStdoutWriter() *StdoutWriter {
	return &StdoutWriter{out: os.Stdout, colorize: term.IsTerminal(int(os.Stdout.Fd()))}
}

// NewJSONWriter creates a StdoutWriter that always writes JSON lines to out.
func NewJSONWriter(out io.Writer) *StdoutWriter {
	return &StdoutWriter{out: out}
}

// WriteConnectivity implements EventWriter.
func (w *StdoutWriter) WriteConnectivity(row ConnectivityRow) error {
	if !w.colorize {
		return w.writeJSON(row)
	}
	col := colorGreen
	switch row.Current {
	case "stale":
		col = colorYellow
	case "disconnected":
		col = colorRed
	}
	return w.writeLine(fmt.Sprintf("%s[%s]%s %s%s%s %s -> %s%s%s",
		colorGray, row.Timestamp.Format(time.RFC3339), colorReset,
		colorCyan, row.Robot, colorReset,
		row.Previous, col, row.Current, colorReset))
}

// WriteDispatch implements DispatchWriter.
func (w *StdoutWriter) WriteDispatch(row DispatchRow) error {
	if !w.colorize {
		return w.writeJSON(row)
	}
	status := colorGreen + "ok" + colorReset
	if !row.Success {
		status = colorRed + "failed: " + row.Error + colorReset
	}
	return w.writeLine(fmt.Sprintf("%s[%s]%s %sCMD%s %s %s -> %s %s",
		colorGray, row.Timestamp.Format(time.RFC3339), colorReset,
		colorCyan, colorReset,
		row.Mode, row.Robot, row.Address, status))
}

// WriteDispatches implements batch mode.
func (w *StdoutWriter) WriteDispatches(rows []DispatchRow) error {
	for _, r := range rows {
		if err := w.WriteDispatch(r); err != nil {
			return err
		}
	}
	return nil
}

func (w *StdoutWriter) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return w.writeLine(string(data))
}

func (w *StdoutWriter) writeLine(s string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintln(w.out, s)
	return err
}
