// ABOUTME: TUI initialization and control
// ABOUTME: Wraps bubbletea program for the playback monitor
package ui

import (
	"github.com/Resonate-Protocol/trackbridge/internal/sync"
	tea "github.com/charmbracelet/bubbletea"
)

// CommandKind identifies a user request from the TUI
type CommandKind int

const (
	CommandVolume CommandKind = iota
	CommandPause
	CommandResume
	CommandFlush
	CommandRate
	CommandQuit
)

// Command is a user request the player should act on
type Command struct {
	Kind   CommandKind
	Volume float32 // for CommandVolume
	Rate   float64 // for CommandRate
}

// Controls carries commands from the TUI to the player
type Controls struct {
	Commands chan Command
}

// NewControls creates a control channel
func NewControls() *Controls {
	return &Controls{
		Commands: make(chan Command, 10),
	}
}

// NewModel creates a new TUI model
func NewModel(ctrl *Controls, volume float32) Model {
	return Model{
		volume:   int(volume*100 + 0.5),
		state:    "starting",
		quality:  sync.QualityLost,
		controls: ctrl,
	}
}

// NewProgram creates the TUI program. Status updates are delivered with
// Program.Send.
func NewProgram(ctrl *Controls, volume float32) *tea.Program {
	return tea.NewProgram(NewModel(ctrl, volume), tea.WithAltScreen())
}
