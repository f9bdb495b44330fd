// ABOUTME: Network MIDI sender for exercising a router
// ABOUTME: Finds a router via mDNS or -server and plays a pattern or hex lines from stdin, or lists routers
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"go.uber.org/zap"

	"github.com/Resonate-Protocol/resonate-midi/internal/discovery"
	"github.com/Resonate-Protocol/resonate-midi/internal/logging"
	"github.com/Resonate-Protocol/resonate-midi/pkg/midi"
	"github.com/Resonate-Protocol/resonate-midi/pkg/netmidi"
)

var (
	serverAddr = flag.String("server", "", "Router address host:port (default: discover via mDNS)")
	name       = flag.String("name", "midi-send", "Sender name shown by the router")
	channel    = flag.Int("channel", 0, "MIDI channel 0-15")
	bpm        = flag.Int("bpm", 120, "Pattern tempo")
	repeat     = flag.Int("repeat", 1, "Pattern repetitions")
	stdin      = flag.Bool("stdin", false, "Send hex MIDI lines from stdin instead of the pattern")
	list       = flag.Duration("list", 0, "Browse mDNS for this long, print the routers found, and exit")
	debug      = flag.Bool("debug", false, "Enable debug logging")
)

// scale is a C major scale from middle C
var scale = []uint8{60, 62, 64, 65, 67, 69, 71, 72}

// gmReset is the General MIDI System On sysex
var gmReset = []byte{0xF0, 0x7E, 0x7F, 0x09, 0x01, 0xF7}

func main() {
	flag.Parse()

	closeLogs, err := logging.Setup(logging.Config{Console: true, Debug: *debug})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer closeLogs()

	if *list > 0 {
		listRouters(*list)
		return
	}

	if err := run(); err != nil {
		zap.S().Errorf("%v", err)
		closeLogs()
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := *serverAddr
	if addr == "" {
		zap.S().Infof("Looking for a router via mDNS...")
		info, err := discovery.Lookup(5 * time.Second)
		if err != nil {
			return err
		}
		addr = info.Addr()
		zap.S().Infof("Discovered %s at %s", info.Name, addr)
	}

	sender, err := netmidi.Dial(ctx, netmidi.SenderConfig{ServerAddr: addr, Name: *name})
	if err != nil {
		return err
	}
	defer sender.Close()

	if *stdin {
		return sendLines(ctx, sender)
	}
	return playScale(ctx, sender)
}

// listRouters prints one line per router found while browsing
func listRouters(d time.Duration) {
	zap.S().Infof("Browsing for routers for %v...", d)
	routers := discovery.NewManager(discovery.Config{}).Discover(d)
	if len(routers) == 0 {
		fmt.Println("No routers found")
		return
	}
	for _, r := range routers {
		rate := "unknown"
		if r.SampleRate > 0 {
			rate = fmt.Sprintf("%d Hz", r.SampleRate)
		}
		fmt.Printf("%-24s ws://%s%s  %s\n", r.Name, r.Addr(), r.Path, rate)
	}
}

// playScale plays the scale as eighth notes, releasing each note before the next
func playScale(ctx context.Context, sender *netmidi.Sender) error {
	ch := uint8(*channel & 0x0F)
	step := time.Minute / time.Duration(*bpm) / 2

	// Reset the receiver first so leftover notes from another sender stop
	if err := sender.Send(gmReset); err != nil {
		return err
	}

	ticker := time.NewTicker(step)
	defer ticker.Stop()

	var held uint8
	for r := 0; r < *repeat; r++ {
		for _, key := range scale {
			select {
			case <-ctx.Done():
				return sender.Send(gomidi.NoteOff(ch, held))
			case <-ticker.C:
			}

			msgs := [][]byte{gomidi.NoteOn(ch, key, 100)}
			if held != 0 {
				msgs = append([][]byte{gomidi.NoteOff(ch, held)}, msgs...)
			}
			if err := sender.Send(msgs...); err != nil {
				return err
			}
			zap.S().Debugf("Sent %s", midi.Describe(gomidi.NoteOn(ch, key, 100)))
			held = key
		}
	}

	<-time.After(step)
	return sender.Send(gomidi.NoteOff(ch, held))
}

// sendLines sends each stdin line, parsed as hex bytes, as one frame
func sendLines(ctx context.Context, sender *netmidi.Sender) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.ReplaceAll(strings.TrimSpace(scanner.Text()), " ", "")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		data, err := hex.DecodeString(line)
		if err != nil {
			zap.S().Warnf("Skipping %q: %v", scanner.Text(), err)
			continue
		}
		msgs := midi.Split(data)
		if len(msgs) == 0 {
			zap.S().Warnf("Skipping %q: no complete MIDI message", scanner.Text())
			continue
		}
		if err := sender.Send(msgs...); err != nil {
			return err
		}
	}
	return scanner.Err()
}
