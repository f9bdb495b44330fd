// ABOUTME: Package documentation for the MIDI router
// ABOUTME: Describes sessions, the render pass, and teardown
// Package router feeds MIDI from any number of sessions into one
// synthesizer engine rendered by an audio output.
//
// Each Session owns a lock-free event buffer written by a single producer
// goroutine. Once per audio callback the router merges every session's
// due events in timestamp order and renders the engine.
//
// Example:
//
//	r := router.New(engine, router.WithAudioLatency(20))
//	out, _ := output.New(output.KindOto)
//	if err := r.Open(out, audio.DefaultFormat); err != nil {
//	    log.Fatal(err)
//	}
//	s, _ := r.NewSession("keyboard")
//	s.PushMessage(sync.MonotonicNanos(), []byte{0x90, 60, 100})
//	s.Flush()
package router
