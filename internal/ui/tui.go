// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and the channels back to the app
package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// Control carries user actions from the TUI to the app
type Control struct {
	Changes chan VolumeChangeMsg
	Quit    chan struct{}
}

// NewControl creates a control handler
func NewControl() *Control {
	return &Control{
		Changes: make(chan VolumeChangeMsg, 10),
		Quit:    make(chan struct{}, 1),
	}
}

func (c *Control) send(msg VolumeChangeMsg) {
	if c == nil {
		return
	}
	select {
	case c.Changes <- msg:
	default:
	}
}

func (c *Control) quit() {
	if c == nil {
		return
	}
	select {
	case c.Quit <- struct{}{}:
	default:
	}
}

// NewModel creates a TUI model titled name
func NewModel(name string, control *Control) Model {
	return Model{
		name:    name,
		volume:  100,
		control: control,
	}
}

// Run creates the TUI program; the caller starts it
func Run(name string, control *Control) *tea.Program {
	return tea.NewProgram(NewModel(name, control), tea.WithAltScreen())
}
