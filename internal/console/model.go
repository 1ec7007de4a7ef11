package console

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"roverswarm/internal/command"
	"roverswarm/internal/telemetry"
)

const (
	maxLogLines    = 500
	logPaneHeight  = 6
	stopTimeout    = 5 * time.Second
	defaultRefresh = time.Second
)

var (
	titleStyle     = lipgloss.NewStyle().Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	paneTitleStyle = lipgloss.NewStyle().Underline(true)
)

func connectivityStyle(c string) lipgloss.Style {
	switch c {
	case telemetry.Connected.String():
		return okStyle
	case telemetry.Stale.String():
		return warnStyle
	default:
		return failStyle
	}
}

// refreshMsg triggers a snapshot poll.
type refreshMsg time.Time

// snapshotMsg carries a fresh view of the fleet.
type snapshotMsg struct {
	records   []telemetry.Record
	connected bool
}

// logMsg carries a line for the event pane.
type logMsg struct{ line string }

// dispatchMsg reports the result of a stop command.
type dispatchMsg struct {
	label string
	res   command.Result
	err   error
}

type model struct {
	coord      Coordinator
	refresh    time.Duration
	table      table.Model
	logVP      viewport.Model
	logs       []string
	records    []telemetry.Record
	connected  bool
	wrap       bool
	help       bool
	width      int
	height     int
	lastUpdate time.Time
}

func newModel(coord Coordinator, refresh time.Duration) model {
	if refresh <= 0 {
		refresh = defaultRefresh
	}
	cols := []table.Column{
		{Title: "#", Width: 3},
		{Title: "Robot", Width: 24},
		{Title: "Status", Width: 13},
		{Title: "Last seen", Width: 10},
		{Title: "Mode", Width: 8},
	}
	t := table.New(table.WithColumns(cols), table.WithFocused(true), table.WithHeight(5))
	m := model{
		coord:   coord,
		refresh: refresh,
		table:   t,
		logVP:   viewport.New(0, logPaneHeight),
		wrap:    true,
	}
	m.applySnapshot(coord.GetAllSnapshots(), coord.ConnectionStatus())
	return m
}

func (m model) Init() tea.Cmd { return m.tick() }

func (m model) tick() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m model) poll() tea.Cmd {
	coord := m.coord
	return func() tea.Msg {
		return snapshotMsg{records: coord.GetAllSnapshots(), connected: coord.ConnectionStatus()}
	}
}

// stop sends mode OFF to the selected robot, or the whole fleet.
func (m model) stop(broadcast bool) tea.Cmd {
	coord := m.coord
	selected := m.table.Cursor()
	label := "all robots"
	if !broadcast {
		if selected < 0 || selected >= len(m.records) {
			return nil
		}
		label = m.records[selected].Identity.CanonicalName
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		res, err := coord.SubmitStateUpdate(ctx, command.StateIntent{Mode: command.ModeOff}, broadcast, selected)
		return dispatchMsg{label: label, res: res, err: err}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.table.SetWidth(msg.Width)
		m.logVP.Width = msg.Width
		m.resize()
		m.refreshLog()
	case tea.KeyMsg:
		if m.help {
			switch msg.String() {
			case "?", "h", "esc":
				m.help = false
			case "q", "ctrl+c":
				return m, tea.Quit
			}
			return m, nil
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "x":
			return m, m.stop(false)
		case "X":
			return m, m.stop(true)
		case "w":
			m.wrap = !m.wrap
			m.refreshLog()
			return m, nil
		case "h", "?":
			m.help = true
			return m, nil
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd
	case refreshMsg:
		return m, tea.Batch(m.poll(), m.tick())
	case snapshotMsg:
		m.applySnapshot(msg.records, msg.connected)
	case logMsg:
		m.appendLog(msg.line)
	case dispatchMsg:
		if msg.err != nil {
			m.appendLog(failStyle.Render(fmt.Sprintf("stop %s rejected: %v", msg.label, msg.err)))
		} else {
			m.appendLog(fmt.Sprintf("stop %s: %d ok, %d failed", msg.label, msg.res.SuccessCount, msg.res.FailureCount))
		}
	}
	return m, nil
}

func (m *model) applySnapshot(recs []telemetry.Record, connected bool) {
	m.records = recs
	m.connected = connected
	m.lastUpdate = time.Now()
	rows := make([]table.Row, len(recs))
	for i, rec := range recs {
		seen := "never"
		if rec.Seen() {
			seen = rec.LastSeenAt.Local().Format(time.TimeOnly)
		}
		mode, _ := rec.Payload["mode"].(string)
		rows[i] = table.Row{
			strconv.Itoa(rec.Identity.Index),
			rec.Identity.CanonicalName,
			rec.Connectivity.String(),
			seen,
			mode,
		}
	}
	m.table.SetRows(rows)
	m.resize()
}

func (m *model) resize() {
	h := len(m.records) + 1
	if m.height > 0 {
		// header, dividers, log pane and footer
		avail := m.height - logPaneHeight - 12
		if avail < 2 {
			avail = 2
		}
		if h > avail {
			h = avail
		}
	}
	m.table.SetHeight(h)
}

func (m *model) appendLog(line string) {
	m.logs = append(m.logs, line)
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}
	m.refreshLog()
}

func (m *model) refreshLog() {
	lines := make([]string, 0, len(m.logs))
	for _, l := range m.logs {
		if m.wrap && m.logVP.Width > 0 {
			lines = append(lines, wordwrap.String(l, m.logVP.Width))
		} else {
			lines = append(lines, l)
		}
	}
	m.logVP.SetContent(strings.Join(lines, "\n"))
	m.logVP.GotoBottom()
}

func (m model) selected() (telemetry.Record, bool) {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.records) {
		return telemetry.Record{}, false
	}
	return m.records[i], true
}

func (m model) View() string {
	if m.help {
		return renderHelp()
	}
	divider := dimStyle.Render(strings.Repeat("─", max(m.width, 20)))
	sections := []string{
		m.renderHeader(),
		divider,
		m.table.View(),
		divider,
		m.renderPayload(),
		divider,
		paneTitleStyle.Render("Events"),
		m.logVP.View(),
		divider,
		dimStyle.Render("↑/↓ select • x stop selected • X stop all • w wrap • ? help • q quit"),
	}
	return strings.Join(sections, "\n")
}

func (m model) renderHeader() string {
	link := failStyle.Render("broker disconnected")
	if m.connected {
		link = okStyle.Render("broker connected")
	}
	var counts [3]int
	for _, rec := range m.records {
		counts[rec.Connectivity]++
	}
	summary := fmt.Sprintf("%s %d  %s %d  %s %d",
		okStyle.Render("●"), counts[telemetry.Connected],
		warnStyle.Render("●"), counts[telemetry.Stale],
		failStyle.Render("●"), counts[telemetry.Disconnected])
	return lipgloss.JoinHorizontal(lipgloss.Top,
		titleStyle.Render("roverswarm"), "  ", link, "  ", summary)
}

func (m model) renderPayload() string {
	rec, ok := m.selected()
	if !ok {
		return paneTitleStyle.Render("Payload") + "\n" + dimStyle.Render("no robot selected")
	}
	title := paneTitleStyle.Render("Payload " + rec.Identity.CanonicalName)
	if !rec.Seen() {
		return title + "\n" + dimStyle.Render("no telemetry yet")
	}
	data, err := json.MarshalIndent(rec.Payload, "", "  ")
	if err != nil {
		return title + "\n" + failStyle.Render(err.Error())
	}
	body := string(data)
	if m.wrap && m.width > 0 {
		body = wordwrap.String(body, m.width)
	}
	return title + "\n" + body
}

func renderHelp() string {
	lines := []string{
		titleStyle.Render("roverswarm console"),
		"",
		"↑/↓, k/j   select robot",
		"x          stop selected robot (mode OFF)",
		"X          stop all robots (broadcast mode OFF)",
		"w          toggle wrapping",
		"?, h       toggle help",
		"q          quit",
	}
	return strings.Join(lines, "\n")
}
