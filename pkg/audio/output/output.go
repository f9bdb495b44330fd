// ABOUTME: Audio output interface definition
// ABOUTME: Closed set of pull-driven playback backends behind one interface
package output

import (
	"errors"
	"fmt"

	"github.com/Resonate-Protocol/resonate-midi/pkg/audio"
)

// ErrUnsupported is returned for backends not compiled into this binary
var ErrUnsupported = errors.New("output backend not supported in this build")

// QueueUnknown is passed as queuedFrames by backends that cannot report
// the device queue
const QueueUnknown = -1

// Renderer produces audio on the backend's callback thread
type Renderer interface {
	// Render fills out with frames interleaved frames. nowNanos is the
	// master clock at the start of the callback and queuedFrames the frames
	// the device still holds ahead of this buffer, or QueueUnknown.
	Render(out []float32, frames int, nowNanos int64, queuedFrames int)
}

// Config describes how to open an output
type Config struct {
	Format audio.Format

	// LatencyFrames is the requested device buffer size
	LatencyFrames int
}

// Output represents an audio output device
type Output interface {
	// Open starts pulling audio from r
	Open(cfg Config, r Renderer) error

	// Close stops the callback; no Render call is in flight once it returns
	Close() error

	// LatencyFrames is the device latency reported or requested at Open
	LatencyFrames() int

	// Name identifies the backend
	Name() string
}

// Kind names a backend
type Kind string

const (
	KindTimer     Kind = "timer"
	KindOto       Kind = "oto"
	KindMalgo     Kind = "malgo"
	KindPortAudio Kind = "portaudio"
)

// Kinds lists every backend kind
func Kinds() []Kind {
	return []Kind{KindTimer, KindOto, KindMalgo, KindPortAudio}
}

// New creates a backend by kind
func New(kind Kind) (Output, error) {
	switch kind {
	case KindTimer:
		return NewTimer(), nil
	case KindOto:
		return NewOto(), nil
	case KindMalgo:
		return NewMalgo(), nil
	case KindPortAudio:
		return NewPortAudio(), nil
	default:
		return nil, fmt.Errorf("unknown output backend %q", kind)
	}
}
