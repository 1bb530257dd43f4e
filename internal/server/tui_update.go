// ABOUTME: TUI update helpers for the gateway
// ABOUTME: Functions to send gateway state updates to the TUI
package server

import (
	"context"
	"time"
)

// updateTUI sends current gateway state to the TUI
func (s *Server) updateTUI() {
	if s.tui == nil {
		return
	}

	addrs := s.Addrs()
	listening := make([]string, 0, len(addrs))
	for _, a := range addrs {
		listening = append(listening, a.String())
	}

	s.tui.Update(GatewayStatus{
		Name:     s.config.Name,
		Addrs:    listening,
		Upstream: s.upstreamName(),
		Sessions: s.Sessions(),
	})
}

// refreshTUI pushes traffic counters once a second
func (s *Server) refreshTUI(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	s.updateTUI()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.updateTUI()
		}
	}
}
