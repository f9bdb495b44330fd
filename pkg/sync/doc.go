// ABOUTME: Clock synchronization package
// ABOUTME: Reconciles independently paced device clocks with the process master clock
// Package sync expresses timestamps from an external clock (a MIDI driver,
// a network peer) in master-clock time.
//
// Each producer owns one ClockSync; it is not safe for concurrent use.
//
// Example:
//
//	cs := sync.NewClockSync()
//	corrected := cs.Sync(sync.MonotonicNanos(), deviceNanos)
package sync
