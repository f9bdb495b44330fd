// ABOUTME: Two-clock drift estimator and corrector
// ABOUTME: Expresses an external clock in master-clock time, smoothing jitter and drift
package sync

import (
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultPeriodicReset is the averaging window for offset and drift
	DefaultPeriodicReset = 5 * time.Second

	// DefaultEmergencyThreshold is the offset jump that forces a re-baseline
	DefaultEmergencyThreshold = 50 * time.Millisecond
)

// clockStart anchors the process master clock
var clockStart = time.Now()

// MonotonicNanos returns the master clock: monotonic nanoseconds since
// process start.
func MonotonicNanos() int64 {
	return int64(time.Since(clockStart))
}

// Quality represents sync quality
type Quality int

const (
	QualityGood Quality = iota
	QualityDegraded
	QualityLost
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	default:
		return "lost"
	}
}

// Config tunes a ClockSync
type Config struct {
	PeriodicReset      time.Duration
	EmergencyThreshold time.Duration
}

// ClockSync reconciles an external clock with the master clock.
//
// Not safe for concurrent use: each producer that needs drift correction
// owns its own instance.
type ClockSync struct {
	periodicResetNanos int64
	emergencyNanos     int64

	baseOffset        int64   // external - master at masterStart
	driftRate         float64 // offset change per nanosecond
	masterStart       int64
	externalStart     int64
	offsetAccumulator int64
	sampleCount       int64
	pendingReset      bool

	// previous offset reference for drift estimation: the last window
	// average at its centre, or the baseline sample
	prevAverage int64
	prevCentre  int64

	lastDelta int64
	synced    bool
}

// NewClockSync creates a clock synchronizer with default tuning
func NewClockSync() *ClockSync {
	return NewClockSyncWithConfig(Config{})
}

// NewClockSyncWithConfig creates a clock synchronizer; zero fields take
// defaults
func NewClockSyncWithConfig(cfg Config) *ClockSync {
	if cfg.PeriodicReset <= 0 {
		cfg.PeriodicReset = DefaultPeriodicReset
	}
	if cfg.EmergencyThreshold <= 0 {
		cfg.EmergencyThreshold = DefaultEmergencyThreshold
	}
	return &ClockSync{
		periodicResetNanos: int64(cfg.PeriodicReset),
		emergencyNanos:     int64(cfg.EmergencyThreshold),
		pendingReset:       true,
	}
}

// ScheduleReset re-baselines on the next Sync call, e.g. after a device
// restart or a gap in the external stream
func (cs *ClockSync) ScheduleReset() {
	cs.pendingReset = true
}

// Sync returns externalNow expressed in master-clock time
func (cs *ClockSync) Sync(masterNow, externalNow int64) int64 {
	if cs.pendingReset {
		cs.pendingReset = false
		cs.masterStart = masterNow
		cs.externalStart = externalNow
		cs.baseOffset = externalNow - masterNow
		cs.driftRate = 0
		cs.offsetAccumulator = 0
		cs.sampleCount = 0
		cs.prevAverage = cs.baseOffset
		cs.prevCentre = masterNow
		cs.lastDelta = 0
		cs.synced = true
		zap.S().Debugf("ClockSync: baseline offset=%dns", cs.baseOffset)
		return masterNow
	}

	delta := (externalNow - masterNow) - cs.baseOffset
	cs.lastDelta = delta
	if delta > cs.emergencyNanos || delta < -cs.emergencyNanos {
		// Never react instantly to a single outlier
		zap.S().Debugf("ClockSync: offset jump %dns, reset scheduled", delta)
		cs.pendingReset = true
	}
	cs.offsetAccumulator += delta
	cs.sampleCount++

	if masterNow-cs.masterStart >= cs.periodicResetNanos {
		cs.periodicReset(masterNow, externalNow)
	}

	externalElapsed := externalNow - cs.externalStart
	return externalNow - (cs.baseOffset + int64(cs.driftRate*float64(externalElapsed)))
}

// periodicReset closes the averaging window: the window average becomes the
// new offset and the change against the previous window gives the drift
func (cs *ClockSync) periodicReset(masterNow, externalNow int64) {
	average := cs.baseOffset + cs.offsetAccumulator/cs.sampleCount
	centre := cs.masterStart + (masterNow-cs.masterStart)/2

	// The first window after a baseline compares against the baseline sample
	if span := centre - cs.prevCentre; span > 0 {
		cs.driftRate = float64(average-cs.prevAverage) / float64(span)
	}
	cs.prevAverage = average
	cs.prevCentre = centre

	// Project the window average from its centre to now
	cs.baseOffset = average + int64(cs.driftRate*float64(masterNow-centre))
	cs.masterStart = masterNow
	cs.externalStart = externalNow
	cs.offsetAccumulator = 0
	cs.sampleCount = 0

	zap.S().Debugf("ClockSync: periodic reset offset=%dns drift=%.9f", cs.baseOffset, cs.Drift())
}

// Drift returns the external clock rate relative to the master clock
func (cs *ClockSync) Drift() float64 {
	return 1.0 + cs.driftRate
}

// PendingReset reports whether the next Sync will re-baseline
func (cs *ClockSync) PendingReset() bool {
	return cs.pendingReset
}

// Stats describes the estimator for diagnostics
type Stats struct {
	Offset  int64
	Drift   float64
	Samples int64
	Quality Quality
}

// GetStats returns sync statistics
func (cs *ClockSync) GetStats() Stats {
	return Stats{
		Offset:  cs.baseOffset,
		Drift:   cs.Drift(),
		Samples: cs.sampleCount,
		Quality: cs.quality(),
	}
}

func (cs *ClockSync) quality() Quality {
	if !cs.synced || cs.pendingReset {
		return QualityLost
	}
	if cs.lastDelta > cs.emergencyNanos/2 || cs.lastDelta < -cs.emergencyNanos/2 {
		return QualityDegraded
	}
	return QualityGood
}
