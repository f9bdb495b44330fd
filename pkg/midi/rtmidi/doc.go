// ABOUTME: Package documentation for hardware MIDI input
// ABOUTME: Declares the error shared by the native driver and its stub
// Package rtmidi feeds hardware MIDI input ports into a router.
//
// Each opened port becomes one router session. Build with -tags rtmidi to
// link the native RtMidi library; without the tag New returns
// ErrUnsupported.
package rtmidi

import "errors"

// ErrUnsupported is returned when built without -tags rtmidi
var ErrUnsupported = errors.New("rtmidi support not enabled (build with -tags rtmidi)")
