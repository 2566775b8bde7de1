package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/zsiec/rtspsource/internal/codec"
	"github.com/zsiec/rtspsource/internal/session"
)

// API is what the model needs from the control API. *Client implements it.
type API interface {
	Status(ctx context.Context) (session.Status, error)
	Control(ctx context.Context, action, url string) error
}

type tickMsg time.Time

type statusMsg struct {
	status session.Status
	err    error
	at     time.Time
}

type controlMsg struct {
	action string
	err    error
}

// Model is the bubbletea model of the monitor view.
type Model struct {
	api      API
	interval time.Duration
	timeout  time.Duration

	status   session.Status
	fetched  time.Time
	err      error
	notice   string
	width    int
	quitting bool
}

func NewModel(api API, interval time.Duration) *Model {
	if interval <= 0 {
		interval = time.Second
	}
	return &Model{api: api, interval: interval, timeout: 30 * time.Second}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(m.tick(), m.fetch())
}

func (m *Model) tick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m *Model) fetch() tea.Cmd {
	api, timeout := m.api, m.interval
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		st, err := api.Status(ctx)
		return statusMsg{status: st, err: err, at: time.Now()}
	}
}

func (m *Model) control(action string) tea.Cmd {
	api, timeout := m.api, m.timeout
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return controlMsg{action: action, err: api.Control(ctx, action, "")}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "o":
			return m, m.control("open")
		case "p":
			return m, m.control("play")
		case "s":
			return m, m.control("stop")
		case "r":
			return m, m.control("reconnect")
		}

	case tickMsg:
		if m.quitting {
			return m, nil
		}
		return m, tea.Batch(m.tick(), m.fetch())

	case statusMsg:
		m.err = msg.err
		if msg.err == nil {
			m.status = msg.status
			m.fetched = msg.at
		}
		return m, nil

	case controlMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
		} else {
			m.notice = msg.action + " ok"
		}
		return m, m.fetch()
	}
	return m, nil
}

func (m *Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render("rtspsource monitor"))
	b.WriteString("\n\n")

	if m.err != nil {
		b.WriteString(errStyle.Render("control API unreachable: " + m.err.Error()))
		b.WriteString("\n\n")
	}

	st := m.status
	rows := []string{
		row("Session", st.ID),
		row("URL", st.URL),
		row("State", stateStyle(st.State).Render(st.State)),
		row("Since", since(st.Since, m.fetched)),
		row("Reconnects", fmt.Sprint(st.Reconnects)),
		row("Packets", fmt.Sprint(st.Packets)),
		row("Timers", fmt.Sprint(st.Timers)),
		row("Pending", fmt.Sprint(st.Pending)),
	}
	if st.Duration > 0 {
		rows = append(rows, row("Duration", st.Duration.String()))
	}
	if st.Seek > 0 {
		rows = append(rows, row("Seek", st.Seek.String()))
	}
	b.WriteString(panelStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)))
	b.WriteString("\n")

	if streams := m.streams(); streams != "" {
		b.WriteString(panelStyle.Render(streams))
		b.WriteString("\n")
	}
	if m.notice != "" {
		b.WriteString(m.notice)
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("o open  p play  s stop  r reconnect  q quit"))
	return b.String()
}

func (m *Model) streams() string {
	st := m.status
	kinds := make([]string, 0, len(st.Queues))
	for k := range st.Queues {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	var lines []string
	for _, k := range kinds {
		q := st.Queues[codec.Kind(k)]
		line := fmt.Sprintf("%-6s queue %d (%d B) dropped %d", k, q.Depth, q.Bytes, q.Dropped)
		if sub, ok := st.Subsessions[codec.Kind(k)]; ok {
			line += fmt.Sprintf("  %s frames %d rtp %d lost %d", sub.Media, sub.Frames, sub.RTP.Packets, sub.RTP.Lost)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func row(label, value string) string {
	if value == "" {
		value = "-"
	}
	return labelStyle.Render(label) + value
}

func since(t, now time.Time) string {
	if t.IsZero() || now.IsZero() {
		return "-"
	}
	return now.Sub(t).Truncate(time.Second).String()
}
