// ABOUTME: Functional options for the router
// ABOUTME: Latency, timing mode, buffer sizing and teardown tuning
package router

import (
	"time"

	"github.com/Resonate-Protocol/resonate-midi/pkg/eventbuf"
)

const (
	// DefaultAudioLatencyMs is the requested device buffer
	DefaultAudioLatencyMs = 20

	// DefaultTeardownTimeout bounds the wait for a render pass on teardown
	DefaultTeardownTimeout = 200 * time.Millisecond
)

type options struct {
	audioLatencyMs   int
	midiLatencyMs    int
	maxMIDILatencyMs int
	advancedTiming   bool
	eventBufferSize  int
	teardownTimeout  time.Duration
	expectedSessions int
}

func defaultOptions() options {
	return options{
		audioLatencyMs:   DefaultAudioLatencyMs,
		eventBufferSize:  eventbuf.DefaultSize,
		teardownTimeout:  DefaultTeardownTimeout,
		expectedSessions: 16,
	}
}

// Option configures a Router
type Option func(*options)

// WithAudioLatency sets the requested device buffer in milliseconds
func WithAudioLatency(ms int) Option {
	return func(o *options) {
		o.audioLatencyMs = ms
	}
}

// WithMIDILatency sets a fixed MIDI latency in milliseconds. Zero derives it
// from the audio latency and lets it widen on late events.
func WithMIDILatency(ms int) Option {
	return func(o *options) {
		o.midiLatencyMs = ms
	}
}

// WithMaxMIDILatency bounds automatic MIDI latency widening
func WithMaxMIDILatency(ms int) Option {
	return func(o *options) {
		o.maxMIDILatencyMs = ms
	}
}

// WithAdvancedTiming trusts the device-reported queue instead of counting
// frames
func WithAdvancedTiming(enabled bool) Option {
	return func(o *options) {
		o.advancedTiming = enabled
	}
}

// WithEventBufferSize sets the per-session event ring size in bytes
func WithEventBufferSize(bytes int) Option {
	return func(o *options) {
		o.eventBufferSize = bytes
	}
}

// WithTeardownTimeout bounds how long session teardown waits for the render
// thread
func WithTeardownTimeout(d time.Duration) Option {
	return func(o *options) {
		o.teardownTimeout = d
	}
}
