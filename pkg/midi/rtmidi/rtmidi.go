//go:build rtmidi

// ABOUTME: Hardware MIDI input driver using gomidi's rtmidi backend
// ABOUTME: Opens input ports as router sessions, reconciling device timestamps with the master clock
package rtmidi

import (
	"fmt"
	"strings"
	"sync"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"go.uber.org/zap"

	"github.com/Resonate-Protocol/resonate-midi/pkg/router"
	mclock "github.com/Resonate-Protocol/resonate-midi/pkg/sync"
)

// Driver feeds hardware input ports into a router
type Driver struct {
	router *router.Router
	drv    *rtmididrv.Driver

	mu    sync.Mutex
	ports []*port
}

type port struct {
	name    string
	in      drivers.In
	session *router.Session
	stop    func()
	clock   *mclock.ClockSync
}

// New creates a driver
func New(r *router.Router) (*Driver, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize rtmidi: %w", err)
	}
	return &Driver{router: r, drv: drv}, nil
}

// Inputs lists the available input port names
func (d *Driver) Inputs() ([]string, error) {
	ins, err := d.drv.Ins()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ins))
	for _, in := range ins {
		names = append(names, in.String())
	}
	return names, nil
}

// Open connects every input whose name contains match (case-insensitive).
// An empty match opens all inputs.
func (d *Driver) Open(match string) error {
	ins, err := d.drv.Ins()
	if err != nil {
		return err
	}

	opened := 0
	for _, in := range ins {
		name := in.String()
		if match != "" && !strings.Contains(strings.ToLower(name), strings.ToLower(match)) {
			continue
		}
		if err := d.openPort(in); err != nil {
			zap.S().Warnf("rtmidi: failed to open %q: %v", name, err)
			continue
		}
		opened++
	}

	if opened == 0 {
		return fmt.Errorf("no MIDI input matching %q", match)
	}
	return nil
}

func (d *Driver) openPort(in drivers.In) error {
	name := in.String()
	if err := in.Open(); err != nil {
		return fmt.Errorf("open %q: %w", name, err)
	}

	session, err := d.router.NewSession("rtmidi: " + name)
	if err != nil {
		_ = in.Close()
		return err
	}

	p := &port{name: name, in: in, session: session, clock: mclock.NewClockSync()}

	// The listener delivers from one goroutine per port, as a session needs
	stop, err := midi.ListenTo(in, p.receive, midi.UseSysEx(), midi.HandleError(func(listenErr error) {
		zap.S().Warnf("rtmidi: listener error on %q: %v", name, listenErr)
	}))
	if err != nil {
		_ = session.Close()
		_ = in.Close()
		return fmt.Errorf("listen %q: %w", name, err)
	}
	p.stop = stop

	d.mu.Lock()
	d.ports = append(d.ports, p)
	d.mu.Unlock()

	zap.S().Infof("rtmidi: connected %q", name)
	return nil
}

// receive handles one message; timestampms counts from listener start
func (p *port) receive(msg midi.Message, timestampms int32) {
	now := mclock.MonotonicNanos()
	wall := p.clock.Sync(now, int64(timestampms)*1_000_000)
	p.session.ReportSync(p.clock.GetStats())
	if p.session.PushMessage(wall, msg.Bytes()) {
		p.session.Flush()
	}
}

// Close stops every listener and closes the sessions
func (d *Driver) Close() error {
	d.mu.Lock()
	ports := d.ports
	d.ports = nil
	d.mu.Unlock()

	for _, p := range ports {
		p.stop()
		if err := p.session.Close(); err != nil {
			zap.S().Warnf("rtmidi: closing session for %q: %v", p.name, err)
		}
		if err := p.in.Close(); err != nil {
			zap.S().Warnf("rtmidi: closing %q: %v", p.name, err)
		}
	}
	d.drv.Close()
	return nil
}
