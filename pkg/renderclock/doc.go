// ABOUTME: Package documentation for the render clock
// ABOUTME: Maps wall-clock receipt times onto output frame indices
// Package renderclock estimates which output frame corresponds to a given
// instant on the master clock.
//
// The render thread publishes playback measurements with UpdateTimeInfo
// and FramesRendered. MIDI producers call EstimateMIDITimestamp from any
// goroutine without locking.
package renderclock
