// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and forwards device events to it
package ui

import (
	"github.com/avslink/avslink-go/internal/app"
	tea "github.com/charmbracelet/bubbletea"
)

// TUI is a running simulator display
type TUI struct {
	program *tea.Program
}

// New creates the TUI program for device
func New(device Device, mixer Mixer, opts Options) *TUI {
	return &TUI{
		program: tea.NewProgram(NewModel(device, mixer, opts), tea.WithAltScreen()),
	}
}

// OnEvent is an app.Config.OnEvent hook feeding the display
func (t *TUI) OnEvent(e app.Event) {
	t.program.Send(EventMsg(e))
}

// Run blocks until the user quits
func (t *TUI) Run() error {
	_, err := t.program.Run()
	return err
}

// Quit ends the program from outside, e.g. when the device stops
func (t *TUI) Quit() {
	t.program.Quit()
}
