// ABOUTME: Entry point for the Resonate MIDI router
// ABOUTME: Parses CLI flags, sets up logging, and runs the router application
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Resonate-Protocol/resonate-midi/internal/app"
	"github.com/Resonate-Protocol/resonate-midi/internal/logging"
	"github.com/Resonate-Protocol/resonate-midi/pkg/audio/output"
	"github.com/Resonate-Protocol/resonate-midi/pkg/router"
)

var (
	audioLatencyMs = flag.Int("audio-latency-ms", router.DefaultAudioLatencyMs, "Requested audio output latency in milliseconds")
	midiLatencyMs  = flag.Int("midi-latency-ms", 0, "MIDI latency margin in milliseconds (0 = derive from audio latency and widen on late events)")
	advanced       = flag.Bool("advanced-timing", false, "Use the device-reported queue for timing instead of buffer counts")
	backend        = flag.String("backend", string(output.KindOto), fmt.Sprintf("Audio backend %v", output.Kinds()))
	sampleRate     = flag.Int("sample-rate", 48000, "Output sample rate in Hz")
	soundFont      = flag.String("soundfont", "", "SoundFont (.sf2) to render with (default: silence)")
	port           = flag.Int("port", 8928, "Port for the MIDI websocket server")
	name           = flag.String("name", "", "Router friendly name (default: hostname-midi-router)")
	noMDNS         = flag.Bool("no-mdns", false, "Disable mDNS advertisement")
	rtmidiPorts    = flag.String("rtmidi", "", "Hardware MIDI inputs to open by name substring, or * for all")
	logFile        = flag.String("log-file", "resonate-midi.log", "Log file path")
	noTUI          = flag.Bool("no-tui", false, "Disable TUI, use streaming logs instead")
	debug          = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	useTUI := !*noTUI

	// TUI mode logs only to the file
	logCfg := logging.Config{
		File:    *logFile,
		Console: !useTUI,
		Debug:   *debug,
	}
	closeLogs, err := logging.Setup(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer closeLogs()

	routerName := *name
	if routerName == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		routerName = fmt.Sprintf("%s-midi-router", hostname)
	}

	a, err := app.New(app.Config{
		Name:           routerName,
		Port:           *port,
		EnableMDNS:     !*noMDNS,
		UseTUI:         useTUI,
		Backend:        output.Kind(*backend),
		SampleRate:     *sampleRate,
		AudioLatencyMs: *audioLatencyMs,
		MIDILatencyMs:  *midiLatencyMs,
		AdvancedTiming: *advanced,
		SoundFont:      *soundFont,
		RTMIDI:         *rtmidiPorts,
	})
	if err != nil {
		logging.ReportError(logCfg, os.Stderr, "Invalid configuration", err)
		closeLogs()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx); err != nil {
		logging.ReportError(logCfg, os.Stderr, "Router error", err)
		stop()
		closeLogs()
		os.Exit(1)
	}
}
