// ABOUTME: Bubbletea model for the device simulator TUI
// ABOUTME: Shows session state, request/response traffic and display cards
package ui

import (
	"fmt"
	"strings"

	"github.com/avslink/avslink-go/internal/app"
	"github.com/avslink/avslink-go/pkg/protocol"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	boxWidth   = 54
	volumeStep = 5
	maxLog     = 6
)

// Device is the simulator the TUI drives
type Device interface {
	Submit(key rune) error
	Quit()
}

// Mixer is the playback volume control
type Mixer interface {
	SetVolume(level int)
	SetMuted(muted bool)
}

// Model represents the TUI state
type Model struct {
	device   Device
	mixer    Mixer
	commands []app.Command

	// Session
	connected  bool
	serverAddr string
	deviceID   uint32
	send       string
	recv       string
	attempt    int

	// Traffic
	requests    int
	responses   int
	bytesSent   int64
	bytesPlayed int64
	lastRequest string
	cardTitle   string
	cards       int

	// Playback
	volume int
	muted  bool

	log      []string
	lastErr  string
	showHelp bool
	quitting bool

	width  int
	height int
}

// Options describes the device shown by the TUI
type Options struct {
	ServerAddr string
	DeviceID   uint32
	Send       protocol.Capabilities
	Recv       protocol.Capabilities
	Commands   []app.Command
}

// NewModel creates a new TUI model. mixer may be nil.
func NewModel(device Device, mixer Mixer, opts Options) Model {
	return Model{
		device:     device,
		mixer:      mixer,
		commands:   opts.Commands,
		serverAddr: opts.ServerAddr,
		deviceID:   opts.DeviceID,
		send:       opts.Send.String(),
		recv:       opts.Recv.String(),
		volume:     100,
	}
}

// EventMsg delivers a device event to the model
type EventMsg app.Event

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
	case EventMsg:
		m.applyEvent(app.Event(msg))
	}
	return m, nil
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		m.quitting = true
		if m.device != nil {
			m.device.Quit()
		}
		return m, tea.Quit
	case "up":
		m.setVolume(m.volume + volumeStep)
		return m, nil
	case "down":
		m.setVolume(m.volume - volumeStep)
		return m, nil
	case " ":
		m.muted = !m.muted
		if m.mixer != nil {
			m.mixer.SetMuted(m.muted)
		}
		return m, nil
	case "?":
		m.showHelp = !m.showHelp
		return m, nil
	}

	if msg.Type != tea.KeyRunes || len(msg.Runes) != 1 || m.device == nil {
		return m, nil
	}
	key := msg.Runes[0]
	if err := m.device.Submit(key); err != nil {
		m.lastErr = err.Error()
		return m, nil
	}
	if key == app.KeyQuit || key == app.KeyExit {
		m.quitting = true
		return m, tea.Quit
	}
	if cmd, ok := app.Lookup(m.commands, key); ok {
		m.lastRequest = cmd.Name
	}
	return m, nil
}

func (m *Model) setVolume(level int) {
	m.volume = max(0, min(100, level))
	if m.mixer != nil {
		m.mixer.SetVolume(m.volume)
	}
}

// applyEvent updates the model from a device event
func (m *Model) applyEvent(e app.Event) {
	switch e.Kind {
	case app.EventConnecting:
		m.connected = false
		m.attempt = e.Attempt
		if e.Name != "" {
			m.serverAddr = e.Name
		}
	case app.EventConnected:
		m.connected = true
		m.attempt = 0
		m.lastErr = ""
		if e.Name != "" {
			m.serverAddr = e.Name
		}
	case app.EventDisconnected:
		m.connected = false
	case app.EventRequestSent:
		m.requests++
		m.bytesSent += int64(e.Bytes)
		m.lastRequest = e.Name
	case app.EventResponse:
		m.responses++
		m.bytesPlayed += int64(e.Bytes)
	case app.EventCard:
		m.cards++
		m.cardTitle = cardTitle(e.Card)
	case app.EventError:
		if e.Err != nil {
			m.lastErr = e.Err.Error()
		}
	}
	m.appendLog(e)
}

func (m *Model) appendLog(e app.Event) {
	line := e.Kind.String()
	switch {
	case e.Err != nil:
		line += ": " + e.Err.Error()
	case e.Name != "" && e.Bytes > 0:
		line += fmt.Sprintf(": %s (%s)", e.Name, formatBytes(int64(e.Bytes)))
	case e.Name != "":
		line += ": " + e.Name
	case e.Bytes > 0:
		line += ": " + formatBytes(int64(e.Bytes))
	}
	m.log = append(m.log, line)
	if len(m.log) > maxLog {
		m.log = m.log[len(m.log)-maxLog:]
	}
}

// cardTitle picks a printable title from a display card
func cardTitle(c *protocol.Card) string {
	if c == nil {
		return ""
	}
	if c.Type.IsImage() {
		return fmt.Sprintf("%s (%s)", c.Type, formatBytes(int64(len(c.Payload))))
	}
	fields, err := c.Fields()
	if err != nil {
		return c.Type.String()
	}
	for _, key := range []string{"title", "mainTitle", "textField"} {
		if v, ok := fields[key].(string); ok && v != "" {
			return v
		}
	}
	return c.Type.String()
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// View renders the TUI
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.renderHeader())
	b.WriteString(m.renderTraffic())
	b.WriteString(m.renderLog())
	if m.showHelp {
		b.WriteString(m.renderCommands())
	}
	b.WriteString(m.renderHelp())
	return b.String()
}

// renderHeader renders connection status and formats
func (m Model) renderHeader() string {
	status := errStyle.Render("Disconnected")
	switch {
	case m.connected:
		status = okStyle.Render("Connected to " + m.serverAddr)
	case m.attempt > 0:
		status = warnStyle.Render(fmt.Sprintf("Connecting to %s (attempt %d)", m.serverAddr, m.attempt))
	}

	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("┌─ AVS Device %-2d ", m.deviceID)+strings.Repeat("─", boxWidth-16)+"┐") + "\n")
	b.WriteString(row("Status: " + status))
	b.WriteString(row("Send:   " + m.send))
	b.WriteString(row("Recv:   " + m.recv))
	b.WriteString(separator())
	return b.String()
}

// renderTraffic renders request, response and card counters
func (m Model) renderTraffic() string {
	var b strings.Builder
	last := m.lastRequest
	if last == "" {
		last = "-"
	}
	b.WriteString(row("Last request: " + truncate(last, 36)))
	b.WriteString(row(fmt.Sprintf("Requests: %d (%s)  Responses: %d (%s)",
		m.requests, formatBytes(m.bytesSent), m.responses, formatBytes(m.bytesPlayed))))
	if m.cards > 0 {
		b.WriteString(row(fmt.Sprintf("Card: %s", truncate(m.cardTitle, 42))))
	}

	muted := ""
	if m.muted {
		muted = " (muted)"
	}
	b.WriteString(row(fmt.Sprintf("Volume: [%s] %d%%%s", renderBar(m.volume, 100, 10), m.volume, muted)))
	if m.lastErr != "" {
		b.WriteString(row(errStyle.Render("Error: " + truncate(m.lastErr, 44))))
	}
	b.WriteString(separator())
	return b.String()
}

func (m Model) renderLog() string {
	if len(m.log) == 0 {
		return ""
	}
	var b strings.Builder
	for _, line := range m.log {
		b.WriteString(row(dimStyle.Render(truncate(line, boxWidth-4))))
	}
	b.WriteString(separator())
	return b.String()
}

func (m Model) renderCommands() string {
	var b strings.Builder
	for _, c := range m.commands {
		b.WriteString(row(fmt.Sprintf("%c  %s", c.Key, c.Name)))
	}
	b.WriteString(separator())
	return b.String()
}

// renderHelp renders keyboard shortcuts
func (m Model) renderHelp() string {
	return row("?:Requests  ↑/↓:Volume  space:Mute  q:Stop+Quit  e:Exit") +
		"└" + strings.Repeat("─", boxWidth-2) + "┘\n"
}

func row(content string) string {
	pad := boxWidth - 4 - lipgloss.Width(content)
	if pad < 0 {
		pad = 0
	}
	return "│ " + content + strings.Repeat(" ", pad) + " │\n"
}

func separator() string {
	return "├" + strings.Repeat("─", boxWidth-2) + "┤\n"
}

// Utility functions
func renderBar(value, total, width int) string {
	filled := (value * width) / total
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func formatBytes(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
