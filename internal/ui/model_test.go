// ABOUTME: Tests for TUI model and state management
// ABOUTME: Tests status updates, key handling, session details, and rendering helpers
package ui

import (
	"math"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Resonate-Protocol/resonate-midi/pkg/router"
	mclock "github.com/Resonate-Protocol/resonate-midi/pkg/sync"
)

func TestNewModel(t *testing.T) {
	model := NewModel("router", nil)

	if model.volume != 100 {
		t.Errorf("expected default volume 100, got %d", model.volume)
	}
	if model.muted {
		t.Error("expected muted to be false initially")
	}
	if model.showDebug {
		t.Error("expected showDebug to be false initially")
	}
}

func TestApplyStatus(t *testing.T) {
	model := NewModel("router", nil)

	model.applyStatus(StatusMsg{
		Stats: router.Stats{
			Open:       true,
			Backend:    "oto",
			SampleRate: 48000,
			Volume:     40,
			Muted:      true,
			Sessions:   []router.SessionStats{{Name: "net: keys", Received: 12, Dropped: 1}},
		},
		Peers: 1,
	})

	if model.volume != 40 || !model.muted {
		t.Errorf("expected volume 40 muted, got %d muted=%v", model.volume, model.muted)
	}
	if model.peers != 1 || len(model.stats.Sessions) != 1 {
		t.Errorf("expected one session and peer, got %+v", model.stats.Sessions)
	}
}

func TestVolumeKeys(t *testing.T) {
	ctrl := NewControl()
	var m tea.Model = NewModel("router", ctrl)

	tests := []struct {
		key      tea.KeyMsg
		volume   int
		muted    bool
		sendsMsg bool
	}{
		{tea.KeyMsg{Type: tea.KeyUp}, 100, false, true},
		{tea.KeyMsg{Type: tea.KeyDown}, 95, false, true},
		{tea.KeyMsg{Type: tea.KeyDown}, 90, false, true},
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'m'}}, 90, true, true},
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'d'}}, 90, true, false},
	}

	for i, tt := range tests {
		m, _ = m.Update(tt.key)
		model := m.(Model)
		if model.volume != tt.volume || model.muted != tt.muted {
			t.Errorf("step %d: expected volume %d muted=%v, got %d muted=%v",
				i, tt.volume, tt.muted, model.volume, model.muted)
		}

		select {
		case msg := <-ctrl.Changes:
			if !tt.sendsMsg {
				t.Errorf("step %d: unexpected change %+v", i, msg)
			} else if msg.Volume != tt.volume || msg.Muted != tt.muted {
				t.Errorf("step %d: expected change %d/%v, got %+v", i, tt.volume, tt.muted, msg)
			}
		default:
			if tt.sendsMsg {
				t.Errorf("step %d: expected a volume change message", i)
			}
		}
	}

	if !m.(Model).showDebug {
		t.Error("expected debug toggled on")
	}
}

func TestQuitKey(t *testing.T) {
	ctrl := NewControl()
	_, cmd := NewModel("router", ctrl).Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})

	if cmd == nil {
		t.Error("expected quit command")
	}
	select {
	case <-ctrl.Quit:
	default:
		t.Error("expected quit signal on control")
	}
}

func TestNilControlIsSafe(t *testing.T) {
	m := NewModel("router", nil)
	m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
}

func TestViewShowsSessions(t *testing.T) {
	var m tea.Model = NewModel("Studio", nil)
	m, _ = m.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	m, _ = m.Update(StatusMsg{Stats: router.Stats{
		Open:              true,
		Backend:           "timer",
		SampleRate:        48000,
		MIDILatencyFrames: 1440,
		EstimatedRate:     48000,
		AutoLatency:       true,
		Volume:            100,
		Sessions: []router.SessionStats{{
			Name:     "rtmidi: Keystation",
			Channels: 1 << 9,
			Sync:     mclock.Stats{Drift: 1.00002, Quality: mclock.QualityGood},
			Synced:   true,
		}},
	}})

	view := m.View()
	for _, want := range []string{"Studio", "timer", "30.0ms MIDI (auto)", "rtmidi: Keystation", "ch 10  sync good +20 ppm"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q:\n%s", want, view)
		}
	}
}

func TestSessionDetail(t *testing.T) {
	tests := []struct {
		name     string
		sess     router.SessionStats
		expected string
	}{
		{"nothing yet", router.SessionStats{}, ""},
		{"channels only", router.SessionStats{Channels: 1<<0 | 1<<15}, "ch 1,16"},
		{"sync only", router.SessionStats{
			Sync:   mclock.Stats{Drift: 0.99995, Quality: mclock.QualityDegraded},
			Synced: true,
		}, "sync degraded -50 ppm"},
		{"both", router.SessionStats{
			Channels: 1 << 2,
			Sync:     mclock.Stats{Drift: 1, Quality: mclock.QualityLost},
			Synced:   true,
		}, "ch 3  sync lost +0 ppm"},
	}

	for _, tt := range tests {
		if got := sessionDetail(tt.sess); got != tt.expected {
			t.Errorf("%s: expected %q, got %q", tt.name, tt.expected, got)
		}
	}
}

func TestRatePPM(t *testing.T) {
	tests := []struct {
		estimated float64
		nominal   int
		expected  float64
	}{
		{48000, 48000, 0},
		{48048, 48000, 1000},
		{47952, 48000, -1000},
		{0, 48000, 0},
		{48000, 0, 0},
	}

	for _, tt := range tests {
		if got := ratePPM(tt.estimated, tt.nominal); math.Abs(got-tt.expected) > 1e-6 {
			t.Errorf("ratePPM(%v, %d) = %v, expected %v", tt.estimated, tt.nominal, got, tt.expected)
		}
	}
}

func TestTruncateFunction(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"this is longer than allowed", 10, "this is..."},
		{"", 10, ""},
		{"abcd", 4, "abcd"},
		{"abcde", 4, "a..."},
	}

	for _, tt := range tests {
		if result := truncate(tt.input, tt.maxLen); result != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, expected %q", tt.input, tt.maxLen, result, tt.expected)
		}
	}
}

func TestRenderBar(t *testing.T) {
	if got := renderBar(50, 100, 10); got != "█████░░░░░" {
		t.Errorf("unexpected bar %q", got)
	}
	if got := renderBar(0, 100, 4); got != "░░░░" {
		t.Errorf("unexpected bar %q", got)
	}
}
