package logic

import (
	"math"
	"time"
)

// Physical plausibility limits for a boiler temperature sample.
const (
	SensorMinC     = 0.0
	SensorMaxC     = 150.0
	SensorMaxJumpC = 5.0

	DefaultSensorFaultThreshold = 10

	// SensorStaleAfter is how long the source may go without a fresh
	// sample before each further empty poll counts as a bad sample.
	SensorStaleAfter = 2 * time.Second
)

// SensorValidator filters raw temperature samples and raises a fault after
// a run of consecutive implausible ones.
type SensorValidator struct {
	threshold int
	errors    int
	fault     bool
	last      TemperatureSample
	seeded    bool
	lastSeen  time.Time
	stale     bool
}

// NewSensorValidator creates a validator that faults after threshold
// consecutive bad samples. A threshold <= 0 uses the default.
func NewSensorValidator(threshold int) *SensorValidator {
	if threshold <= 0 {
		threshold = DefaultSensorFaultThreshold
	}
	return &SensorValidator{threshold: threshold}
}

// Validate checks a sample against the range and jump limits.
// It returns the sample to use as controller input and whether the new
// sample was accepted. A rejected sample yields the last accepted one.
// The first sample after boot is always accepted. The first sample after
// the source went stale reseeds the jump check if it is in range.
func (v *SensorValidator) Validate(s TemperatureSample) (TemperatureSample, bool) {
	v.lastSeen = s.Time

	if !v.seeded || v.stale {
		if !finite(s.Value) || (v.seeded && !inRange(s.Value)) {
			v.count()
			if !v.seeded {
				return s, false
			}
			return v.last, false
		}
		v.seeded = true
		v.stale = false
		v.errors = 0
		v.fault = false
		v.last = s
		return s, true
	}

	if v.bad(s.Value) {
		v.count()
		return v.last, false
	}

	v.errors = 0
	v.fault = false
	v.last = s
	return s, true
}

// Missing records a poll that produced no fresh sample. Once nothing has
// arrived for SensorStaleAfter, every such poll counts as a bad sample.
func (v *SensorValidator) Missing(now time.Time) {
	if v.lastSeen.IsZero() {
		v.lastSeen = now
		return
	}
	if now.Sub(v.lastSeen) < SensorStaleAfter {
		return
	}
	v.stale = true
	v.count()
}

// Stale reports whether the source has stopped delivering samples.
func (v *SensorValidator) Stale() bool {
	return v.stale
}

func (v *SensorValidator) count() {
	if !v.fault {
		v.errors++
	}
	v.raise()
}

func (v *SensorValidator) raise() {
	if v.errors >= v.threshold && !v.fault {
		v.fault = true
	}
}

func (v *SensorValidator) bad(value float64) bool {
	if !finite(value) {
		return true
	}
	return !inRange(value) || math.Abs(value-v.last.Value) > SensorMaxJumpC
}

func finite(value float64) bool {
	return !math.IsNaN(value) && !math.IsInf(value, 0)
}

func inRange(value float64) bool {
	return value >= SensorMinC && value <= SensorMaxC
}

// SetThreshold changes the fault threshold for subsequent samples.
func (v *SensorValidator) SetThreshold(threshold int) {
	if threshold <= 0 {
		threshold = DefaultSensorFaultThreshold
	}
	v.threshold = threshold
}

// Fault reports whether the sensor is currently considered faulty.
func (v *SensorValidator) Fault() bool {
	return v.fault
}

// Errors returns the current consecutive bad-sample count.
func (v *SensorValidator) Errors() int {
	return v.errors
}

// Last returns the last accepted sample.
func (v *SensorValidator) Last() TemperatureSample {
	return v.last
}

// Seeded reports whether a first sample has been accepted.
func (v *SensorValidator) Seeded() bool {
	return v.seeded
}
