// ABOUTME: Malgo-based audio output implementation with 16/24/32-bit support
// ABOUTME: Uses miniaudio via malgo and renders directly inside the device callback
package output

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gen2brain/malgo"
	"go.uber.org/zap"

	"github.com/Resonate-Protocol/resonate-midi/pkg/audio"
	mclock "github.com/Resonate-Protocol/resonate-midi/pkg/sync"
)

// Malgo output implementation using malgo/miniaudio library. Timing is
// count-based.
type Malgo struct {
	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	renderer Renderer
	format   audio.Format
	latency  int

	// render thread scratch
	buf []float32
}

// NewMalgo creates a new Malgo output
func NewMalgo() *Malgo {
	return &Malgo{}
}

// Open initializes the output device with specified format
func (m *Malgo) Open(cfg Config, r Renderer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		return fmt.Errorf("malgo output already open")
	}
	if err := cfg.Format.Validate(); err != nil {
		return err
	}

	// Create malgo context if needed
	if m.malgoCtx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return fmt.Errorf("failed to initialize malgo context: %w", err)
		}
		m.malgoCtx = ctx
	}

	// Map bit depth to malgo format
	var format malgo.FormatType
	switch cfg.Format.BitDepth {
	case 16:
		format = malgo.FormatS16
	case 24:
		format = malgo.FormatS24
	case 32:
		format = malgo.FormatF32
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = format
	deviceConfig.Playback.Channels = uint32(cfg.Format.Channels)
	deviceConfig.SampleRate = uint32(cfg.Format.SampleRate)
	deviceConfig.Alsa.NoMMap = 1
	if cfg.LatencyFrames > 0 {
		deviceConfig.PeriodSizeInFrames = uint32(max(cfg.LatencyFrames/2, 1))
		deviceConfig.Periods = 2
	}

	m.renderer = r
	m.format = cfg.Format
	m.latency = cfg.LatencyFrames
	m.buf = make([]float32, max(cfg.LatencyFrames, cfg.Format.MsToFrames(50))*cfg.Format.Channels)

	deviceCallbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSample, pInputSamples []byte, frameCount uint32) {
			m.dataCallback(pOutputSample, int(frameCount))
		},
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, deviceCallbacks)
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return fmt.Errorf("failed to start device: %w", err)
	}
	m.device = device

	zap.S().Infof("Audio output initialized: %dHz, %d channels, %d-bit (malgo/%s)",
		cfg.Format.SampleRate, cfg.Format.Channels, cfg.Format.BitDepth, formatName(format))
	return nil
}

// dataCallback is called by malgo to fill the audio output buffer
func (m *Malgo) dataCallback(pOutput []byte, frames int) {
	now := mclock.MonotonicNanos()
	n := frames * m.format.Channels
	if cap(m.buf) < n {
		m.buf = make([]float32, n)
	}
	samples := m.buf[:n]

	m.renderer.Render(samples, frames, now, QueueUnknown)

	switch m.format.BitDepth {
	case 16:
		write16Bit(pOutput, samples)
	case 24:
		write24Bit(pOutput, samples)
	case 32:
		writeFloat32(pOutput, samples)
	}
}

// write16Bit converts float samples to 16-bit output
func write16Bit(output []byte, samples []float32) {
	for i, sample := range samples {
		sample16 := audio.SampleToInt16(audio.FloatTo24Bit(sample))
		binary.LittleEndian.PutUint16(output[i*2:], uint16(sample16))
	}
}

// write24Bit converts float samples to packed 24-bit output (3 bytes per sample)
func write24Bit(output []byte, samples []float32) {
	for i, sample := range samples {
		b := audio.SampleTo24Bit(audio.FloatTo24Bit(sample))
		copy(output[i*3:], b[:])
	}
}

// writeFloat32 copies float samples as little-endian float32
func writeFloat32(output []byte, samples []float32) {
	for i, sample := range samples {
		binary.LittleEndian.PutUint32(output[i*4:], math.Float32bits(sample))
	}
}

// Close stops the device; miniaudio returns from Stop once the callback is
// no longer running
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		if err := m.device.Stop(); err != nil {
			zap.S().Warnf("device stop error: %v", err)
		}
		m.device.Uninit()
		m.device = nil
	}

	if m.malgoCtx != nil {
		if err := m.malgoCtx.Uninit(); err != nil {
			zap.S().Warnf("malgo context uninit error: %v", err)
		}
		m.malgoCtx.Free()
		m.malgoCtx = nil
	}
	return nil
}

// LatencyFrames returns the requested device buffer size
func (m *Malgo) LatencyFrames() int {
	return m.latency
}

func (m *Malgo) Name() string {
	return string(KindMalgo)
}

// formatName returns human-readable format name
func formatName(format malgo.FormatType) string {
	switch format {
	case malgo.FormatS16:
		return "S16"
	case malgo.FormatS24:
		return "S24"
	case malgo.FormatF32:
		return "F32"
	default:
		return fmt.Sprintf("Unknown(%d)", format)
	}
}
