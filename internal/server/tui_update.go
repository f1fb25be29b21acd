// ABOUTME: TUI update helpers for server
// ABOUTME: Periodically sends server state to the TUI
package server

import (
	"sort"
	"time"
)

const tuiRefreshInterval = 500 * time.Millisecond

// status snapshots the server for display
func (s *Server) status() ServerStatus {
	clients := s.Clients()
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].ConnectedAt.Before(clients[j].ConnectedAt)
	})

	return ServerStatus{
		Name:    s.config.Name,
		Port:    s.config.Port,
		Path:    s.config.Path,
		Stats:   s.Stats(),
		Clients: clients,
	}
}

// tuiLoop pushes status to the TUI until the server stops
func (s *Server) tuiLoop() {
	ticker := time.NewTicker(tuiRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-s.tui.QuitChan():
			s.Stop()
			return
		case <-ticker.C:
			s.tui.Update(s.status())
		}
	}
}
