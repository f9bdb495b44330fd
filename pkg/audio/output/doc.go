// ABOUTME: Audio output package for playing rendered audio
// ABOUTME: Provides the Output interface and the timer, oto, malgo and PortAudio backends
// Package output drives a Renderer from an audio device callback.
//
// Backends:
//   - timer: no device, renders at wall-clock pace (headless, tests)
//   - oto: ebitengine/oto player pulling from the renderer
//   - malgo: miniaudio callback device, 16/24/32-bit
//   - portaudio: PortAudio callback with DAC timing (build with -tags portaudio)
//
// Example:
//
//	out, err := output.New(output.KindMalgo)
//	err = out.Open(output.Config{Format: audio.DefaultFormat, LatencyFrames: 960}, router)
//	defer out.Close()
package output
