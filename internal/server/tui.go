// ABOUTME: Server TUI for displaying connected clients and request stats
// ABOUTME: Real-time server status display using bubbletea
package server

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ServerTUI manages the server TUI
type ServerTUI struct {
	program  *tea.Program
	updates  chan ServerStatus
	done     chan struct{}
	stopOnce sync.Once
	quitChan chan struct{}

	// onDisconnect is invoked when the operator drops all clients
	onDisconnect func()
}

// ServerStatus holds server state for TUI
type ServerStatus struct {
	Name    string
	Port    int
	Path    string
	Stats   Stats
	Clients []ClientInfo
}

// tuiModel is the bubbletea model for server TUI
type tuiModel struct {
	status       ServerStatus
	startTime    time.Time
	quitting     bool
	quitChan     chan struct{}
	onDisconnect func()
	notice       string
}

type tickMsg time.Time
type statusMsg ServerStatus

func (m tuiModel) Init() tea.Cmd {
	return tickEvery()
}

func tickEvery() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
			return m, tea.Quit
		case "d":
			if m.onDisconnect != nil {
				m.onDisconnect()
				m.notice = fmt.Sprintf("Dropped %d client(s)", len(m.status.Clients))
			}
		}

	case tickMsg:
		return m, tickEvery()

	case statusMsg:
		m.status = ServerStatus(msg)
		return m, nil
	}

	return m, nil
}

func (m tuiModel) View() string {
	if m.quitting {
		return "Shutting down server...\n"
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205")).
		MarginBottom(1)

	headerStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86"))

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("250"))

	clientHeaderStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("220"))

	var b strings.Builder

	b.WriteString(titleStyle.Render("WSR2 Server"))
	b.WriteString("\n\n")

	field := func(name, value string) {
		b.WriteString(headerStyle.Render(name + ": "))
		b.WriteString(valueStyle.Render(value))
		b.WriteString("\n")
	}

	field("Server", m.status.Name)
	field("Listen", fmt.Sprintf(":%d%s", m.status.Port, m.status.Path))
	field("Uptime", time.Since(m.startTime).Round(time.Second).String())
	field("Requests", fmt.Sprintf("%d (answered %d, dropped %d)",
		m.status.Stats.Requests, m.status.Stats.Answered, m.status.Stats.Dropped))
	b.WriteString("\n")

	b.WriteString(clientHeaderStyle.Render(fmt.Sprintf("Connected Clients (%d)", len(m.status.Clients))))
	b.WriteString("\n\n")

	if len(m.status.Clients) == 0 {
		b.WriteString(valueStyle.Render("  No clients connected"))
		b.WriteString("\n")
	} else {
		for _, client := range m.status.Clients {
			b.WriteString(fmt.Sprintf("  • %s", client.Addr))
			b.WriteString(valueStyle.Render(fmt.Sprintf(" (%d requests, up %s)",
				client.Requests, time.Since(client.ConnectedAt).Round(time.Second))))
			b.WriteString("\n")
		}
	}

	if m.notice != "" {
		b.WriteString("\n")
		b.WriteString(valueStyle.Render(m.notice))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("Press 'd' to drop all clients, 'q' or Ctrl+C to quit"))

	return b.String()
}

// NewServerTUI creates a new server TUI
func NewServerTUI(onDisconnect func()) *ServerTUI {
	return &ServerTUI{
		updates:      make(chan ServerStatus, 10),
		done:         make(chan struct{}),
		quitChan:     make(chan struct{}, 1),
		onDisconnect: onDisconnect,
	}
}

// Start runs the TUI until the user quits or Stop is called
func (t *ServerTUI) Start(status ServerStatus) error {
	m := tuiModel{
		status:       status,
		startTime:    time.Now(),
		quitChan:     t.quitChan,
		onDisconnect: t.onDisconnect,
	}

	t.program = tea.NewProgram(m, tea.WithAltScreen())

	go func() {
		for {
			select {
			case status := <-t.updates:
				t.program.Send(statusMsg(status))
			case <-t.done:
				return
			}
		}
	}()

	_, err := t.program.Run()
	return err
}

// Update sends a status update to the TUI
func (t *ServerTUI) Update(status ServerStatus) {
	select {
	case t.updates <- status:
	default:
		// Don't block if channel is full
	}
}

// Stop stops the TUI
func (t *ServerTUI) Stop() {
	t.stopOnce.Do(func() {
		close(t.done)
		if t.program != nil {
			t.program.Quit()
		}
	})
}

// QuitChan returns the channel that signals when user wants to quit
func (t *ServerTUI) QuitChan() <-chan struct{} {
	return t.quitChan
}
