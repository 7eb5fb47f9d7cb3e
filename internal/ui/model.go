// ABOUTME: Bubbletea model for the playback monitor
// ABOUTME: Defines display state and key handling
package ui

import (
	"fmt"
	"time"

	"github.com/Resonate-Protocol/trackbridge/internal/sync"
	tea "github.com/charmbracelet/bubbletea"
)

const volumeStep = 5

// Model represents the TUI state
type Model struct {
	// Stream
	device      string
	streamID    string
	format      string
	layout      string
	bufferBytes int
	bufferMs    float64
	input       string

	// Position
	position uint64
	elapsed  time.Duration
	quality  sync.Quality
	driftPPM float64

	// Playback
	state   string
	volume  int
	paused  bool
	holding bool

	// Stats
	queued   int
	consumed uint64
	decoded  int64
	underrun int64

	showDebug bool
	controls  *Controls

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
	case StreamMsg:
		m.applyStream(msg)
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
	s += m.renderStreamInfo()
	s += m.renderControls()
	s += m.renderStats()

	if m.showDebug {
		s += m.renderDebug()
	}

	s += m.renderHelp()

	return s
}

func (m Model) renderHeader() string {
	icon := "✗"
	switch m.quality {
	case sync.QualityGood:
		icon = "✓"
	case sync.QualityStale:
		icon = "⚠"
	}

	return fmt.Sprintf(`┌─ trackbridge ────────────────────────────────────────┐
│ State:  %-45s │
│ Clock:  %s %-43s │
├──────────────────────────────────────────────────────┤
`, m.state, icon, m.quality)
}

func (m Model) renderStreamInfo() string {
	if m.format == "" {
		return "│ No stream                                            │\n"
	}

	s := fmt.Sprintf("│ Input:  %-45s │\n", truncate(m.input, 45))
	s += fmt.Sprintf("│ Device: %-45s │\n", truncate(m.device, 45))
	s += fmt.Sprintf("│ Format: %-45s │\n", truncate(m.format+" "+m.layout, 45))
	s += fmt.Sprintf("│ Buffer: %-45s │\n", fmt.Sprintf("%d bytes (%.1fms)", m.bufferBytes, m.bufferMs))
	return s
}

func (m Model) renderControls() string {
	pauseIcon := ""
	if m.paused {
		pauseIcon = " ⏸"
	}

	volumeBar := renderBar(m.volume, 100, 10)

	return fmt.Sprintf("│                                                      │\n"+
		"│ Volume: [%s] %3d%%%-3s%-21s │\n"+
		"│ Time:   %-45s │\n",
		volumeBar, m.volume, pauseIcon, "",
		formatElapsed(m.elapsed))
}

func (m Model) renderStats() string {
	return fmt.Sprintf(`├──────────────────────────────────────────────────────┤
│ Frames: position %-12d queued %-16d │
│         played %-14d decoded %-15d │
`, m.position, m.queued, m.consumed, m.decoded)
}

func (m Model) renderHelp() string {
	return `│ space:Pause ↑/↓:Volume f:Flush h:Hold d:Debug q:Quit │
└──────────────────────────────────────────────────────┘
`
}

func (m Model) renderDebug() string {
	return fmt.Sprintf(`│ DEBUG:                                               │
│   Stream:   %-41s │
│   Drift:    %-41s │
│   Underrun: %-41d │
`, truncate(m.streamID, 41), fmt.Sprintf("%+.0fppm", m.driftPPM), m.underrun)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.send(Command{Kind: CommandQuit})
		return m, tea.Quit
	case "up":
		if m.volume < 100 {
			m.volume = min(m.volume+volumeStep, 100)
			m.send(Command{Kind: CommandVolume, Volume: float32(m.volume) / 100})
		}
	case "down":
		if m.volume > 0 {
			m.volume = max(m.volume-volumeStep, 0)
			m.send(Command{Kind: CommandVolume, Volume: float32(m.volume) / 100})
		}
	case " ":
		m.paused = !m.paused
		if m.paused {
			m.send(Command{Kind: CommandPause})
		} else {
			m.send(Command{Kind: CommandResume})
		}
	case "f":
		m.send(Command{Kind: CommandFlush})
	case "h":
		m.holding = !m.holding
		rate := 1.0
		if m.holding {
			rate = 0
		}
		m.send(Command{Kind: CommandRate, Rate: rate})
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// send forwards a command without blocking the UI
func (m Model) send(cmd Command) {
	if m.controls == nil {
		return
	}
	select {
	case m.controls.Commands <- cmd:
	default:
	}
}

func (m *Model) applyStream(msg StreamMsg) {
	m.device = msg.Device
	m.streamID = msg.StreamID
	m.format = msg.Format
	m.layout = msg.Layout
	m.bufferBytes = msg.BufferBytes
	m.bufferMs = msg.BufferMs
	m.input = msg.Input
	if m.input == "" {
		m.input = "440Hz test tone"
	}
}

func (m *Model) applyStatus(msg StatusMsg) {
	m.position = msg.Position
	m.elapsed = msg.Elapsed
	m.quality = msg.Quality
	m.driftPPM = msg.DriftPPM
	m.queued = msg.Queued
	m.consumed = msg.Consumed
	m.decoded = msg.Decoded
	m.underrun = msg.Underruns
	m.paused = msg.Paused
	m.holding = msg.Holding

	switch {
	case msg.EndOfStream:
		m.state = "draining"
	case msg.Paused:
		m.state = "paused"
	case msg.Holding:
		m.state = "holding"
	default:
		m.state = "playing"
	}
	if msg.Volume != nil {
		m.volume = int(*msg.Volume*100 + 0.5)
	}
}

// StreamMsg describes the opened stream
type StreamMsg struct {
	Device      string
	StreamID    string
	Format      string
	Layout      string
	BufferBytes int
	BufferMs    float64
	Input       string
}

// StatusMsg updates playback progress
type StatusMsg struct {
	Position    uint64
	Elapsed     time.Duration
	Quality     sync.Quality
	DriftPPM    float64
	Queued      int
	Consumed    uint64
	Decoded     int64
	Underruns   int64
	Volume      *float32 // nil leaves the local volume untouched
	Paused      bool
	Holding     bool // playback rate 0
	EndOfStream bool
}

// Utility functions
func renderBar(value, max, width int) string {
	filled := (value * width) / max
	bar := ""
	for i := 0; i < width; i++ {
		if i < filled {
			bar += "█"
		} else {
			bar += "░"
		}
	}
	return bar
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}

func formatElapsed(d time.Duration) string {
	d = d.Truncate(time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}
