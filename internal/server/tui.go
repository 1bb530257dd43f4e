// ABOUTME: Gateway TUI for displaying device sessions and traffic
// ABOUTME: Real-time gateway status display using bubbletea
package server

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// GatewayTUI manages the gateway TUI
type GatewayTUI struct {
	program  *tea.Program
	updates  chan GatewayStatus
	quitChan chan struct{}
	model    tuiModel

	mu      sync.Mutex
	stopped bool
}

// GatewayStatus holds gateway state for the TUI
type GatewayStatus struct {
	Name     string
	Addrs    []string
	Upstream string
	Sessions []SessionStatus
}

// tuiModel is the bubbletea model for the gateway TUI
type tuiModel struct {
	status    GatewayStatus
	startTime time.Time
	quitting  bool
	quitChan  chan struct{}
}

type tickMsg time.Time
type statusMsg GatewayStatus

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
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			m.quitting = true
			select {
			case m.quitChan <- struct{}{}:
			default:
			}
			return m, tea.Quit
		}

	case tickMsg:
		return m, tickEvery()

	case statusMsg:
		m.status = GatewayStatus(msg)
		return m, nil
	}

	return m, nil
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginBottom(1)
	headerStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86"))
	valueStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
	sessionHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("220"))
)

func (m tuiModel) View() string {
	if m.quitting {
		return "Shutting down gateway...\n"
	}

	var b strings.Builder

	b.WriteString(titleStyle.Render("AVS Gateway"))
	b.WriteString("\n\n")

	b.WriteString(headerStyle.Render("Gateway: "))
	b.WriteString(valueStyle.Render(m.status.Name))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Listening: "))
	b.WriteString(valueStyle.Render(listenSummary(m.status.Addrs)))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Upstream: "))
	b.WriteString(valueStyle.Render(m.status.Upstream))
	b.WriteString("\n")

	b.WriteString(headerStyle.Render("Uptime: "))
	b.WriteString(valueStyle.Render(time.Since(m.startTime).Round(time.Second).String()))
	b.WriteString("\n\n")

	b.WriteString(sessionHeaderStyle.Render(fmt.Sprintf("Device Sessions (%d)", len(m.status.Sessions))))
	b.WriteString("\n\n")

	if len(m.status.Sessions) == 0 {
		b.WriteString(valueStyle.Render("  No devices connected"))
		b.WriteString("\n")
	} else {
		for _, s := range m.status.Sessions {
			b.WriteString(fmt.Sprintf("  • device %-2d %s", s.DeviceID, s.RemoteAddr))
			b.WriteString(valueStyle.Render(fmt.Sprintf(" (in %d/%s, out %d/%s, %s)",
				s.FramesIn, formatBytes(s.BytesIn),
				s.FramesOut, formatBytes(s.BytesOut),
				time.Since(s.Started).Round(time.Second))))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.NewStyle().Faint(true).Render("Press 'q' or Ctrl+C to quit"))

	return b.String()
}

func listenSummary(addrs []string) string {
	switch len(addrs) {
	case 0:
		return "-"
	case 1:
		return addrs[0]
	}
	return fmt.Sprintf("%s .. %s (%d ports)", addrs[0], addrs[len(addrs)-1], len(addrs))
}

func formatBytes(n uint64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1fMiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1fKiB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%dB", n)
}

// NewGatewayTUI creates a new gateway TUI
func NewGatewayTUI(name, upstream string) *GatewayTUI {
	quit := make(chan struct{}, 1)
	t := &GatewayTUI{
		updates:  make(chan GatewayStatus, 10),
		quitChan: quit,
		model: tuiModel{
			status:    GatewayStatus{Name: name, Upstream: upstream},
			startTime: time.Now(),
			quitChan:  quit,
		},
	}
	t.program = tea.NewProgram(t.model, tea.WithAltScreen())
	return t
}

// Start runs the TUI until it quits or Stop is called
func (t *GatewayTUI) Start() error {
	go func() {
		for status := range t.updates {
			t.program.Send(statusMsg(status))
		}
	}()

	_, err := t.program.Run()
	return err
}

// Update sends a status update to the TUI
func (t *GatewayTUI) Update(status GatewayStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	select {
	case t.updates <- status:
	default:
	}
}

// Stop stops the TUI
func (t *GatewayTUI) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.stopped = true
	t.program.Quit()
	close(t.updates)
}

// QuitChan returns the channel that signals when the user wants to quit
func (t *GatewayTUI) QuitChan() <-chan struct{} {
	return t.quitChan
}
