// ABOUTME: Audio type definitions
// ABOUTME: Defines the output stream format, frame/time conversions and sample packing
package audio

import (
	"fmt"
	"time"
)

const (
	// 24-bit audio range constants
	Max24Bit = 8388607  // 2^23 - 1
	Min24Bit = -8388608 // -2^23
)

// Format describes the rendered stream
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int // device sample width; rendering is always float32
}

// DefaultFormat is 48kHz stereo
var DefaultFormat = Format{SampleRate: 48000, Channels: 2, BitDepth: 16}

// Validate checks the format is renderable
func (f Format) Validate() error {
	if f.SampleRate < 8000 || f.SampleRate > 192000 {
		return fmt.Errorf("unsupported sample rate: %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 8 {
		return fmt.Errorf("unsupported channel count: %d", f.Channels)
	}
	switch f.BitDepth {
	case 16, 24, 32:
	default:
		return fmt.Errorf("unsupported bit depth: %d (supported: 16, 24, 32)", f.BitDepth)
	}
	return nil
}

// MsToFrames converts milliseconds to frames
func (f Format) MsToFrames(ms int) int {
	return ms * f.SampleRate / 1000
}

// FramesToDuration converts a frame count to wall time
func (f Format) FramesToDuration(frames int) time.Duration {
	return time.Duration(int64(frames) * int64(time.Second) / int64(f.SampleRate))
}

// DurationToFrames converts wall time to a frame count
func (f Format) DurationToFrames(d time.Duration) int {
	return int(int64(d) * int64(f.SampleRate) / int64(time.Second))
}

// FloatTo24Bit converts a float sample in [-1, 1] to a clipped 24-bit value
func FloatTo24Bit(sample float32) int32 {
	scaled := int64(float64(sample) * Max24Bit)
	if scaled > Max24Bit {
		scaled = Max24Bit
	} else if scaled < Min24Bit {
		scaled = Min24Bit
	}
	return int32(scaled)
}

// SampleToInt16 converts a 24-bit sample to int16 (for 16-bit playback)
func SampleToInt16(sample int32) int16 {
	// Right-shift to convert 24-bit to 16-bit range
	return int16(sample >> 8)
}

// SampleTo24Bit converts int32 to 24-bit packed bytes (little-endian)
func SampleTo24Bit(sample int32) [3]byte {
	return [3]byte{
		byte(sample),
		byte(sample >> 8),
		byte(sample >> 16),
	}
}
