// Package logic contains the pure control core of the espresso machine.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"fmt"
	"time"
)

// TemperatureSample is one boiler temperature reading in °C.
type TemperatureSample struct {
	Value float64
	Time  time.Time
}

// TemperatureReading is what the sensor source delivers each poll.
// Fresh is false when the source has no new value since the last poll.
type TemperatureReading struct {
	Value float64
	Fresh bool
}

// WeightReading holds raw load-cell units for both sides of the drip tray.
type WeightReading struct {
	Left  float64
	Right float64
	Valid bool
}

// Mode is the PID controller mode.
type Mode int

const (
	ModeManual Mode = iota
	ModeAuto
)

func (m Mode) String() string {
	if m == ModeAuto {
		return "AUTO"
	}
	return "MANUAL"
}

// ProportionalMode selects where the proportional term acts.
type ProportionalMode int

const (
	// ProportionalOnMeasurement avoids kick on setpoint changes.
	ProportionalOnMeasurement ProportionalMode = iota
	ProportionalOnError
)

// ProfileName identifies one of the three tuning profiles.
type ProfileName string

const (
	ProfileStartup      ProfileName = "STARTUP"
	ProfileSteady       ProfileName = "STEADY"
	ProfileBrewOverride ProfileName = "BREW"
)

// TuningProfile is one gain set. Ki and Kd are derived from Tn and Tv.
type TuningProfile struct {
	Name ProfileName
	Kp   float64
	Ki   float64
	Kd   float64
	POn  ProportionalMode
}

// NewTuningProfile derives Ki = Kp/Tn (0 when Tn is 0) and Kd = Kp*Tv.
func NewTuningProfile(name ProfileName, kp, tn, tv float64, pOn ProportionalMode) TuningProfile {
	ki := 0.0
	if tn != 0 {
		ki = kp / tn
	}
	return TuningProfile{
		Name: name,
		Kp:   kp,
		Ki:   ki,
		Kd:   kp * tv,
		POn:  pOn,
	}
}

// BrewState is the brew state machine state. The numeric values are
// published in telemetry and must stay stable.
type BrewState int

const (
	BrewIdle            BrewState = 10
	BrewPreInfusion     BrewState = 20
	BrewPreInfusionWait BrewState = 21
	BrewPause           BrewState = 30
	BrewPauseWait       BrewState = 31
	BrewBrewing         BrewState = 40
	BrewBrewingWait     BrewState = 41
	BrewFinished        BrewState = 42
	BrewAwaitRelease    BrewState = 43
)

func (s BrewState) String() string {
	switch s {
	case BrewIdle:
		return "IDLE"
	case BrewPreInfusion:
		return "PREINFUSION"
	case BrewPreInfusionWait:
		return "PREINFUSION_WAIT"
	case BrewPause:
		return "PAUSE"
	case BrewPauseWait:
		return "PAUSE_WAIT"
	case BrewBrewing:
		return "BREWING"
	case BrewBrewingWait:
		return "BREWING_WAIT"
	case BrewFinished:
		return "FINISHED"
	case BrewAwaitRelease:
		return "AWAIT_RELEASE"
	}
	return fmt.Sprintf("BREW_%d", int(s))
}

// BackflushState is the backflush state machine state.
type BackflushState int

const (
	BackflushIdle         BackflushState = 10
	BackflushFilling      BackflushState = 20
	BackflushFillWait     BackflushState = 21
	BackflushFlushing     BackflushState = 30
	BackflushFlushWait    BackflushState = 31
	BackflushAwaitRelease BackflushState = 43
)

func (s BackflushState) String() string {
	switch s {
	case BackflushIdle:
		return "IDLE"
	case BackflushFilling:
		return "FILLING"
	case BackflushFillWait:
		return "FILL_WAIT"
	case BackflushFlushing:
		return "FLUSHING"
	case BackflushFlushWait:
		return "FLUSH_WAIT"
	case BackflushAwaitRelease:
		return "AWAIT_RELEASE"
	}
	return fmt.Sprintf("BACKFLUSH_%d", int(s))
}

// DetectionMode selects how brew onset is detected.
type DetectionMode int

const (
	DetectOff DetectionMode = iota
	DetectSoftware
	DetectHardware
)

func (m DetectionMode) String() string {
	switch m {
	case DetectSoftware:
		return "software"
	case DetectHardware:
		return "hardware"
	}
	return "off"
}

// ParseDetectionMode maps a configuration string to a DetectionMode.
func ParseDetectionMode(s string) (DetectionMode, error) {
	switch s {
	case "", "off":
		return DetectOff, nil
	case "software":
		return DetectSoftware, nil
	case "hardware":
		return DetectHardware, nil
	}
	return DetectOff, fmt.Errorf("unknown detection mode %q", s)
}

// Relays is the commanded state of the valve and pump relays.
// The heater relay is driven from the tick context, see ControlCell.
type Relays struct {
	Valve bool
	Pump  bool
}

// EventType represents a supervisory transition to be published.
type EventType string

const (
	EventBrewStart       EventType = "BREW_START"
	EventBrewEnd         EventType = "BREW_END"
	EventBrewAbort       EventType = "BREW_ABORT"
	EventBackflushStart  EventType = "BACKFLUSH_START"
	EventBackflushEnd    EventType = "BACKFLUSH_END"
	EventSensorFault     EventType = "SENSOR_FAULT"
	EventSensorOK        EventType = "SENSOR_OK"
	EventEmergencyStop   EventType = "ESTOP_TRIP"
	EventEmergencyClear  EventType = "ESTOP_CLEAR"
	EventDetectionWindow EventType = "DETECTION_WINDOW"
	EventProfileChange   EventType = "PROFILE_CHANGE"
)

// Event represents a state transition to be published.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Input     float64
	Detail    string
}

// EventCounts tracks the number of notable events since startup.
type EventCounts struct {
	Shots          int
	Aborts         int
	Backflushes    int
	SensorFaults   int
	EmergencyStops int
	Detections     int
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    EventCounts
}
