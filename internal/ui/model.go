// ABOUTME: Bubbletea model for the demo client TUI
// ABOUTME: Defines connection and request state and its update logic
package ui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

const maxEvents = 5

// Model represents the TUI state
type Model struct {
	// Connection
	connected bool
	state     string
	serverURL string
	attempts  int

	// Requests
	sent     int64
	answered int64
	pushes   int64
	reopens  int64
	pending  int
	queued   int
	lastRTT  time.Duration
	rtt      time.Duration
	quality  string

	// Recent connection events, newest last
	events []string

	// Debug
	showDebug bool
	nextID    int64

	controls *Controls

	// Dimensions
	width  int
	height int
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StatusMsg:
		m.applyStatus(msg)
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := ""
	s += m.renderHeader()
	s += m.renderRequests()
	s += m.renderEvents()

	if m.showDebug {
		s += m.renderDebug()
	}

	s += m.renderHelp()

	return s
}

// renderHeader renders connection status
func (m Model) renderHeader() string {
	connIcon := "✗"
	connStatus := "Disconnected"
	if m.connected {
		connIcon = "✓"
		connStatus = "Connected"
	}

	return fmt.Sprintf(`┌─ WSR2 Client ────────────────────────────────────────┐
│ Server: %-44s │
│ Status: %s %-42s │
│ State:  %-20s Attempts: %-14d │
├──────────────────────────────────────────────────────┤
`, truncate(m.serverURL, 44), connIcon, connStatus, m.state, m.attempts)
}

// renderRequests renders request counters
func (m Model) renderRequests() string {
	rtt := "-"
	if m.quality != "" && m.lastRTT > 0 {
		rtt = fmt.Sprintf("%s avg, %s last (%s)",
			m.rtt.Round(time.Microsecond), m.lastRTT.Round(time.Microsecond), m.quality)
	}

	return fmt.Sprintf(`│ Sent: %-8d Answered: %-8d Pushes: %-10d │
│ Pending: %-5d Queued: %-5d Reopens: %-12d │
│ RTT: %-47s │
├──────────────────────────────────────────────────────┤
`, m.sent, m.answered, m.pushes, m.pending, m.queued, m.reopens, truncate(rtt, 47))
}

// renderEvents renders the most recent connection events
func (m Model) renderEvents() string {
	if len(m.events) == 0 {
		return "│ No events yet                                        │\n"
	}

	s := ""
	for _, e := range m.events {
		s += fmt.Sprintf("│ %-52s │\n", truncate(e, 52))
	}
	return s
}

// renderDebug renders debug information
func (m Model) renderDebug() string {
	return fmt.Sprintf(`├──────────────────────────────────────────────────────┤
│ DEBUG:                                               │
│   Next correlation id: %-29d │
│   Unanswered: %-38d │
`, m.nextID, m.sent-m.answered)
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return `├──────────────────────────────────────────────────────┤
│ s:Send now  d:Debug  q:Quit                          │
└──────────────────────────────────────────────────────┘
`
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.controls != nil {
			select {
			case m.controls.Quit <- QuitMsg{}:
			default:
			}
		}
		return m, tea.Quit
	case "s":
		if m.controls != nil {
			select {
			case m.controls.SendNow <- struct{}{}:
			default:
			}
		}
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	if msg.Connected != nil {
		m.connected = *msg.Connected
	}
	if msg.State != "" {
		m.state = msg.State
	}
	if msg.ServerURL != "" {
		m.serverURL = msg.ServerURL
	}
	if msg.Stats != nil {
		m.sent = msg.Stats.Sent
		m.answered = msg.Stats.Answered
		m.pushes = msg.Stats.Pushes
		m.reopens = msg.Stats.Reopens
		m.pending = msg.Stats.Pending
		m.queued = msg.Stats.Queued
		m.attempts = msg.Stats.Attempts
		m.nextID = msg.Stats.NextID
		m.lastRTT = msg.Stats.LastRTT
		m.rtt = msg.Stats.RTT
		m.quality = msg.Stats.Quality
	}
	if msg.Event != "" {
		m.events = append(m.events, msg.Event)
		if len(m.events) > maxEvents {
			m.events = m.events[len(m.events)-maxEvents:]
		}
	}
}

// StatusMsg updates TUI state
type StatusMsg struct {
	Connected *bool
	State     string
	ServerURL string
	Stats     *Stats
	Event     string
}

// Stats carries request counters for display
type Stats struct {
	Sent     int64
	Answered int64
	Pushes   int64
	Reopens  int64
	Pending  int
	Queued   int
	Attempts int
	NextID   int64
	LastRTT  time.Duration
	RTT      time.Duration
	Quality  string
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
