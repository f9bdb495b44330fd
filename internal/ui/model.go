// ABOUTME: Bubbletea model for the router monitor
// ABOUTME: Shows render clock state, per-session counters and sync, and volume controls
package ui

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Resonate-Protocol/resonate-midi/pkg/router"
)

// Model represents the TUI state
type Model struct {
	name string

	stats router.Stats
	peers int

	// Local controls, pushed to the router through control
	volume  int
	muted   bool
	control *Control

	showDebug bool

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

	s := m.renderHeader()
	s += m.renderClock()
	s += m.renderControls()
	s += m.renderSessions()

	if m.showDebug {
		s += m.renderDebug()
	}

	s += m.renderHelp()
	return s
}

func (m Model) renderHeader() string {
	status := "Closed"
	if m.stats.Open {
		status = fmt.Sprintf("Rendering via %s", m.stats.Backend)
	}

	return fmt.Sprintf(`┌─ %-50s ─┐
│ Output: %-45s │
├──────────────────────────────────────────────────────┤
`, truncate(m.name, 50), truncate(status, 45))
}

func (m Model) renderClock() string {
	if !m.stats.Open || m.stats.SampleRate == 0 {
		return "│ No output                                            │\n"
	}

	latencyMode := "fixed"
	if m.stats.AutoLatency {
		latencyMode = "auto"
	}
	latencyMs := float64(m.stats.MIDILatencyFrames) * 1000 / float64(m.stats.SampleRate)

	return fmt.Sprintf("│ Rate:    %dHz (est. %+.0f ppm)%-21s │\n"+
		"│ Latency: %.1fms MIDI (%s)%-26s │\n"+
		"│ Frames:  %-43d │\n",
		m.stats.SampleRate, ratePPM(m.stats.EstimatedRate, m.stats.SampleRate), "",
		latencyMs, latencyMode, "",
		m.stats.RenderedFrames)
}

func (m Model) renderControls() string {
	muteIcon := ""
	if m.muted {
		muteIcon = " (muted)"
	}

	return fmt.Sprintf("│                                                      │\n"+
		"│ Volume: [%s] %d%%%s%-12s │\n",
		renderBar(m.volume, 100, 10), m.volume, muteIcon, "")
}

func (m Model) renderSessions() string {
	s := fmt.Sprintf("├──────────────────────────────────────────────────────┤\n"+
		"│ Sessions: %d (%d network)%-28s │\n", len(m.stats.Sessions), m.peers, "")

	for _, sess := range m.stats.Sessions {
		s += fmt.Sprintf("│   %-28s RX: %-7d Drop: %-5d │\n",
			truncate(sess.Name, 28), sess.Received, sess.Dropped)
		if detail := sessionDetail(sess); detail != "" {
			s += fmt.Sprintf("│     %-48s │\n", truncate(detail, 48))
		}
	}
	return s + "│                                                      │\n"
}

// sessionDetail lists the channels a session plays on and its clock sync
func sessionDetail(sess router.SessionStats) string {
	var parts []string
	if sess.Channels != 0 {
		var chans []string
		for ch := 0; ch < 16; ch++ {
			if sess.Channels&(1<<ch) != 0 {
				chans = append(chans, strconv.Itoa(ch+1))
			}
		}
		parts = append(parts, "ch "+strings.Join(chans, ","))
	}
	if sess.Synced {
		parts = append(parts, fmt.Sprintf("sync %s %+.0f ppm", sess.Sync.Quality, (sess.Sync.Drift-1)*1e6))
	}
	return strings.Join(parts, "  ")
}

func (m Model) renderDebug() string {
	return fmt.Sprintf(`│ DEBUG:                                               │
│   Passes: %-12d Skipped merges: %-12d │
│   Delivered events: %-33d │
`, m.stats.Passes, m.stats.SkippedMerges, m.stats.Delivered)
}

func (m Model) renderHelp() string {
	return `│ ↑/↓:Volume  m:Mute  d:Debug  q:Quit                  │
└──────────────────────────────────────────────────────┘
`
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		m.control.quit()
		return m, tea.Quit
	case "up":
		m.volume = min(m.volume+5, 100)
		m.control.send(VolumeChangeMsg{Volume: m.volume, Muted: m.muted})
	case "down":
		m.volume = max(m.volume-5, 0)
		m.control.send(VolumeChangeMsg{Volume: m.volume, Muted: m.muted})
	case "m":
		m.muted = !m.muted
		m.control.send(VolumeChangeMsg{Volume: m.volume, Muted: m.muted})
	case "d":
		m.showDebug = !m.showDebug
	}

	return m, nil
}

// applyStatus updates model from status message
func (m *Model) applyStatus(msg StatusMsg) {
	m.stats = msg.Stats
	m.peers = msg.Peers
	m.volume = msg.Stats.Volume
	m.muted = msg.Stats.Muted
}

// StatusMsg carries a periodic router snapshot
type StatusMsg struct {
	Stats router.Stats
	Peers int
}

// VolumeChangeMsg is emitted when the user changes volume or mute
type VolumeChangeMsg struct {
	Volume int
	Muted  bool
}

func ratePPM(estimated float64, nominal int) float64 {
	if nominal == 0 || estimated == 0 {
		return 0
	}
	return (estimated/float64(nominal) - 1) * 1e6
}

func renderBar(value, max, width int) string {
	filled := (value * width) / max
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func truncate(s string, length int) string {
	if len(s) <= length {
		return s
	}
	return s[:length-3] + "..."
}
