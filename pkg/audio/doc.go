// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, software gain and sample conversion functions
// Package audio provides the stream format and sample helpers shared by the
// router and the output backends.
//
// Rendering is always float32; backends convert to the device sample width:
//   - 16-bit via SampleToInt16
//   - 24-bit via SampleTo24Bit
//
// Example:
//
//	format := audio.Format{SampleRate: 48000, Channels: 2, BitDepth: 16}
//	latency := format.MsToFrames(20) // 960
package audio
