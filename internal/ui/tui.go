// ABOUTME: TUI initialization and control
// ABOUTME: Wraps bubbletea program for the client UI
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// QuitMsg signals that the user asked to quit
type QuitMsg struct{}

// Controls holds channels for user actions raised by the TUI
type Controls struct {
	SendNow chan struct{}
	Quit    chan QuitMsg
}

// NewControls creates a new control handler
func NewControls() *Controls {
	return &Controls{
		SendNow: make(chan struct{}, 1),
		Quit:    make(chan QuitMsg, 1),
	}
}

// NewModel creates a new TUI model
func NewModel(controls *Controls) Model {
	return Model{
		state:    "connecting",
		controls: controls,
	}
}

// Run creates the TUI program; the caller runs it
func Run(controls *Controls) (*tea.Program, error) {
	p := tea.NewProgram(NewModel(controls), tea.WithAltScreen())
	return p, nil
}
