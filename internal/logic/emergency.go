package logic

// Default over-temperature cutoff with cooling hysteresis.
const (
	DefaultEmergencyTripC  = 120.0
	DefaultEmergencyClearC = 100.0
)

// EmergencyStop latches when the boiler overheats and releases only after
// it has cooled below the clear threshold.
type EmergencyStop struct {
	tripAbove  float64
	clearBelow float64
	tripped    bool
}

// NewEmergencyStop creates a cutoff. Zero thresholds use the defaults.
func NewEmergencyStop(tripAbove, clearBelow float64) *EmergencyStop {
	if tripAbove == 0 {
		tripAbove = DefaultEmergencyTripC
	}
	if clearBelow == 0 {
		clearBelow = DefaultEmergencyClearC
	}
	return &EmergencyStop{tripAbove: tripAbove, clearBelow: clearBelow}
}

// SetThresholds changes the trip and clear temperatures. Zero keeps the
// default. The latched state is kept.
func (e *EmergencyStop) SetThresholds(tripAbove, clearBelow float64) {
	if tripAbove == 0 {
		tripAbove = DefaultEmergencyTripC
	}
	if clearBelow == 0 {
		clearBelow = DefaultEmergencyClearC
	}
	e.tripAbove = tripAbove
	e.clearBelow = clearBelow
}

// Update evaluates the input and returns whether the state changed.
func (e *EmergencyStop) Update(input float64) (changed bool) {
	if input > e.tripAbove && !e.tripped {
		e.tripped = true
		return true
	}
	if input < e.clearBelow && e.tripped {
		e.tripped = false
		return true
	}
	return false
}

// Tripped reports whether the cutoff is active.
func (e *EmergencyStop) Tripped() bool {
	return e.tripped
}
