// ABOUTME: Router application orchestration
// ABOUTME: Wires synth, audio output, MIDI inputs, network server, discovery, and TUI together
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/Resonate-Protocol/resonate-midi/internal/discovery"
	"github.com/Resonate-Protocol/resonate-midi/internal/ui"
	"github.com/Resonate-Protocol/resonate-midi/internal/version"
	"github.com/Resonate-Protocol/resonate-midi/pkg/audio"
	"github.com/Resonate-Protocol/resonate-midi/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-midi/pkg/midi/rtmidi"
	"github.com/Resonate-Protocol/resonate-midi/pkg/netmidi"
	"github.com/Resonate-Protocol/resonate-midi/pkg/router"
	"github.com/Resonate-Protocol/resonate-midi/pkg/synth"
)

// AllPorts opens every hardware input
const AllPorts = "*"

// Config holds router application configuration
type Config struct {
	Name       string
	Port       int
	EnableMDNS bool
	UseTUI     bool

	Backend        output.Kind
	SampleRate     int
	AudioLatencyMs int
	MIDILatencyMs  int // 0 = auto
	AdvancedTiming bool

	SoundFont string // empty renders silence
	RTMIDI    string // input name filter, AllPorts, or empty for none
}

// Validate fills defaults and rejects impossible settings
func (c *Config) Validate() error {
	if c.Name == "" {
		c.Name = version.Product
	}
	if c.Backend == "" {
		c.Backend = output.KindOto
	}
	if c.SampleRate == 0 {
		c.SampleRate = audio.DefaultFormat.SampleRate
	}
	if c.AudioLatencyMs == 0 {
		c.AudioLatencyMs = router.DefaultAudioLatencyMs
	}

	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.AudioLatencyMs < 0 || c.MIDILatencyMs < 0 {
		return fmt.Errorf("latencies must not be negative")
	}
	return c.format().Validate()
}

func (c *Config) format() audio.Format {
	return audio.Format{
		SampleRate: c.SampleRate,
		Channels:   audio.DefaultFormat.Channels,
		BitDepth:   audio.DefaultFormat.BitDepth,
	}
}

// App is the running router process
type App struct {
	config Config

	router    *router.Router
	server    *netmidi.Server
	discovery *discovery.Manager
	hardware  *rtmidi.Driver

	tuiProg *tea.Program
	control *ui.Control
}

// New creates the application
func New(config Config) (*App, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &App{config: config}, nil
}

// Router returns the router, available once Run has started it
func (a *App) Router() *router.Router {
	return a.router
}

// Run starts every component and blocks until ctx is cancelled or the user
// quits from the TUI
func (a *App) Run(ctx context.Context) error {
	zap.S().Infof("Starting %s %s: %s", version.Product, version.Version, a.config.Name)

	engine, err := a.loadEngine()
	if err != nil {
		return err
	}

	a.router = router.New(engine,
		router.WithAudioLatency(a.config.AudioLatencyMs),
		router.WithMIDILatency(a.config.MIDILatencyMs),
		router.WithAdvancedTiming(a.config.AdvancedTiming),
	)

	out, err := output.New(a.config.Backend)
	if err != nil {
		return err
	}
	if err := a.router.Open(out, a.config.format()); err != nil {
		return fmt.Errorf("failed to start audio: %w", err)
	}
	defer a.router.Close()

	if a.config.RTMIDI != "" {
		a.openHardware()
		if a.hardware != nil {
			defer a.hardware.Close()
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.server = netmidi.NewServer(a.router, netmidi.Config{Name: a.config.Name})
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.server.ListenAndServe(ctx, fmt.Sprintf(":%d", a.config.Port))
	}()

	if a.config.EnableMDNS {
		a.discovery = discovery.NewManager(discovery.Config{
			ServiceName: a.config.Name,
			Port:        a.config.Port,
			SampleRate:  a.config.SampleRate,
		})
		if err := a.discovery.Advertise(); err != nil {
			zap.S().Warnf("Failed to start mDNS advertisement: %v", err)
		}
		defer a.discovery.Stop()
	}

	var quit <-chan struct{}
	if a.config.UseTUI {
		a.control = ui.NewControl()
		a.tuiProg = ui.Run(a.config.Name, a.control)
		go func() {
			if _, err := a.tuiProg.Run(); err != nil {
				zap.S().Warnf("TUI error: %v", err)
			}
		}()
		defer a.tuiProg.Quit()
		quit = a.control.Quit
		go a.handleControls(ctx)
	}
	go a.statsLoop(ctx)

	select {
	case <-ctx.Done():
		zap.S().Infof("Shutdown signal received")
	case <-quit:
		zap.S().Infof("Received quit signal from TUI")
	case err := <-serverErr:
		return err
	}

	cancel()
	if err := <-serverErr; err != nil {
		zap.S().Warnf("Server stopped with error: %v", err)
	}
	zap.S().Infof("Router stopped")
	return nil
}

func (a *App) loadEngine() (synth.Engine, error) {
	if a.config.SoundFont == "" {
		zap.S().Warnf("No soundfont given, rendering silence")
		return synth.NewSilent(), nil
	}
	engine, err := synth.LoadMelty(a.config.SoundFont, a.config.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to load soundfont: %w", err)
	}
	return engine, nil
}

// openHardware connects rtmidi inputs; failures leave the router running
// with network inputs only
func (a *App) openHardware() {
	drv, err := rtmidi.New(a.router)
	if err != nil {
		if errors.Is(err, rtmidi.ErrUnsupported) {
			zap.S().Warnf("Hardware MIDI requested but %v", err)
		} else {
			zap.S().Warnf("Hardware MIDI unavailable: %v", err)
		}
		return
	}

	match := a.config.RTMIDI
	if match == AllPorts {
		match = ""
	}
	if err := drv.Open(match); err != nil {
		zap.S().Warnf("Hardware MIDI: %v", err)
		drv.Close()
		return
	}
	a.hardware = drv
}

// handleControls applies volume changes from the TUI
func (a *App) handleControls(ctx context.Context) {
	for {
		select {
		case change := <-a.control.Changes:
			a.router.SetVolume(change.Volume)
			a.router.SetMuted(change.Muted)
			zap.S().Debugf("Volume %d muted=%v", change.Volume, change.Muted)
		case <-ctx.Done():
			return
		}
	}
}

// statsLoop pushes router snapshots to the TUI and logs a summary when the
// TUI is off
func (a *App) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var ticks int
	for {
		select {
		case <-ticker.C:
			st := a.router.Stats()
			if a.tuiProg != nil {
				a.tuiProg.Send(ui.StatusMsg{Stats: st, Peers: len(a.server.Clients())})
				continue
			}
			ticks++
			if ticks%20 == 0 {
				zap.S().Infof("Stats: %d frames rendered, rate %.2fHz, MIDI latency %d frames, %d sessions, %d delivered, %d skipped merges",
					st.RenderedFrames, st.EstimatedRate, st.MIDILatencyFrames, len(st.Sessions), st.Delivered, st.SkippedMerges)
			}
		case <-ctx.Done():
			return
		}
	}
}
