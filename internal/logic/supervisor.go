package logic

import (
	"fmt"
	"time"
)

// Gains is a tuning expressed as proportional gain plus integral (Tn) and
// derivative (Tv) times in seconds.
type Gains struct {
	Kp float64
	Tn float64
	Tv float64
}

// Config is the runtime configuration of the control core.
type Config struct {
	Setpoint   float64
	PIDEnabled bool
	// PIDOnly runs without valve/pump control: the brew machine is
	// bypassed and brew timing follows the detection window.
	PIDOnly bool

	Startup   Gains // Tv is ignored, startup runs without derivative
	Steady    Gains
	BrewGains Gains
	SteadyPOn ProportionalMode

	Brew             BrewTimings
	Backflush        BackflushTimings
	BackflushEnabled bool

	Detection          DetectionMode
	DetectionThreshold float64
	DetectionWindow    time.Duration

	SensorFaultThreshold int
	EmergencyTrip        float64
	EmergencyClear       float64
}

// DefaultConfig returns the compiled-in defaults.
func DefaultConfig() Config {
	return Config{
		Setpoint:   95,
		PIDEnabled: true,
		Startup:    Gains{Kp: 60, Tn: 130},
		Steady:     Gains{Kp: 69, Tn: 399, Tv: 0},
		BrewGains:  Gains{Kp: 50, Tn: 0, Tv: 20},
		SteadyPOn:  ProportionalOnError,
		Brew: BrewTimings{
			PreInfusion:  2 * time.Second,
			Pause:        5 * time.Second,
			Brew:         25 * time.Second,
			TargetWeight: 30,
		},
		Backflush: BackflushTimings{
			Fill:      5 * time.Second,
			Flush:     10 * time.Second,
			MaxCycles: 5,
		},
		Detection:            DetectSoftware,
		DetectionThreshold:   DefaultDetectionThreshold,
		DetectionWindow:      DefaultDetectionWindow,
		SensorFaultThreshold: DefaultSensorFaultThreshold,
		EmergencyTrip:        DefaultEmergencyTripC,
		EmergencyClear:       DefaultEmergencyClearC,
	}
}

// Validate rejects combinations the core cannot run.
func (c Config) Validate() error {
	if c.PIDOnly && c.Detection == DetectHardware {
		return fmt.Errorf("hardware brew detection needs the brew machine, not available in PID-only mode")
	}
	if c.EmergencyClear >= c.EmergencyTrip {
		return fmt.Errorf("emergency clear %.1f must be below trip %.1f", c.EmergencyClear, c.EmergencyTrip)
	}
	if c.Backflush.MaxCycles < 0 {
		return fmt.Errorf("backflush max cycles must not be negative")
	}
	if c.Brew.PreInfusion < 0 || c.Brew.Pause < 0 || c.Brew.Brew < 0 {
		return fmt.Errorf("brew durations must not be negative")
	}
	if c.Startup.Kp < 0 || c.Steady.Kp < 0 || c.BrewGains.Kp < 0 {
		return fmt.Errorf("gains must not be negative")
	}
	return nil
}

// Profiles derives the three tuning profiles from the configured gains.
func (c Config) Profiles() (startup, steady, brew TuningProfile) {
	startup = NewTuningProfile(ProfileStartup, c.Startup.Kp, c.Startup.Tn, 0, ProportionalOnMeasurement)
	steady = NewTuningProfile(ProfileSteady, c.Steady.Kp, c.Steady.Tn, c.Steady.Tv, c.SteadyPOn)
	brew = NewTuningProfile(ProfileBrewOverride, c.BrewGains.Kp, c.BrewGains.Tn, c.BrewGains.Tv, c.SteadyPOn)
	return startup, steady, brew
}

// LoopInput is one control-loop observation.
type LoopInput struct {
	Now         time.Time
	Temperature TemperatureReading
	Weight      WeightReading
	Switch      bool // debounced brew switch
}

// ControllerState aggregates everything owned by the control loop.
type ControllerState struct {
	Validator *SensorValidator
	Detector  *BrewDetector
	Brew      *BrewMachine
	Backflush *BackflushMachine
	EStop     *EmergencyStop

	Input       float64
	ColdStart   bool
	Profile     ProfileName
	BrewElapsed time.Duration // PID-only mode
	applied     TuningProfile
}

// Status is a point-in-time view of the controller after a Step.
type Status struct {
	Time   time.Time
	Cell   CellSnapshot
	Relays Relays

	SensorFault   bool
	SensorErrors  int
	EmergencyStop bool

	BrewState   BrewState
	BrewElapsed time.Duration
	Weight      float64

	BackflushState   BackflushState
	BackflushEnabled bool
	FlushCycles      int
	MaxFlushCycles   int

	Detecting          bool
	HeatRate           float64
	HeatRateAverage    float64
	HeatRateAverageMin float64

	Profile   ProfileName
	ColdStart bool
	PIDOnly   bool
	Counts    EventCounts
	Events    []Event

	HeaterErr error
}

// Supervisor runs the control loop: sensor validation, safety interlocks,
// state machines, brew detection and tuning selection, in priority order.
type Supervisor struct {
	cfg   Config
	state ControllerState
	cell  *ControlCell

	startTime     time.Time
	lastHeartbeat time.Time
	counts        EventCounts
}

// NewSupervisor wires the control core around the shared cell.
func NewSupervisor(cfg Config, cell *ControlCell, startTime time.Time) *Supervisor {
	s := &Supervisor{
		cfg:  cfg,
		cell: cell,
		state: ControllerState{
			Validator: NewSensorValidator(cfg.SensorFaultThreshold),
			Detector:  NewBrewDetector(cfg.Detection, cfg.DetectionThreshold, cfg.DetectionWindow),
			Brew:      NewBrewMachine(cfg.Brew),
			Backflush: NewBackflushMachine(cfg.Backflush),
			EStop:     NewEmergencyStop(cfg.EmergencyTrip, cfg.EmergencyClear),
			ColdStart: true,
		},
		startTime:     startTime,
		lastHeartbeat: startTime,
	}
	cell.SetSetpoint(cfg.Setpoint)
	return s
}

// Config returns the active configuration.
func (s *Supervisor) Config() Config {
	return s.cfg
}

// SetConfig applies a new configuration, e.g. from remote parameter sync.
// Must be called from the control loop.
func (s *Supervisor) SetConfig(cfg Config) {
	st := &s.state
	st.Validator.SetThreshold(cfg.SensorFaultThreshold)
	st.Detector.Configure(cfg.Detection, cfg.DetectionThreshold, cfg.DetectionWindow)
	st.Brew.SetTimings(cfg.Brew)
	st.Backflush.SetTimings(cfg.Backflush)
	st.EStop.SetThresholds(cfg.EmergencyTrip, cfg.EmergencyClear)
	if cfg.PIDOnly && !s.cfg.PIDOnly {
		// The brew machine is not stepped in PID-only mode, so it must not
		// be left holding a cycle.
		st.Brew = NewBrewMachine(cfg.Brew)
	}
	s.cell.SetSetpoint(cfg.Setpoint)
	s.cfg = cfg
}

// Step runs one control-loop iteration.
func (s *Supervisor) Step(in LoopInput) Status {
	st := &s.state
	var events []Event
	emit := func(t EventType, detail string) {
		events = append(events, Event{Timestamp: in.Now, Type: t, Input: st.Input, Detail: detail})
	}

	wasFault := st.Validator.Fault()
	if in.Temperature.Fresh {
		sample, ok := st.Validator.Validate(TemperatureSample{Value: in.Temperature.Value, Time: in.Now})
		if ok {
			st.Input = sample.Value
			s.cell.SetInput(sample.Value)
			if s.cfg.Detection == DetectSoftware {
				st.Detector.Observe(sample)
			}
		}
	} else {
		st.Validator.Missing(in.Now)
	}
	if fault := st.Validator.Fault(); fault != wasFault {
		if fault {
			s.counts.SensorFaults++
			emit(EventSensorFault, "")
		} else {
			emit(EventSensorOK, "")
		}
	}

	var heaterErr error
	if st.Validator.Fault() {
		heaterErr = s.inhibit(emit)
		return s.status(in.Now, events, heaterErr)
	}

	if st.EStop.Update(st.Input) {
		if st.EStop.Tripped() {
			s.counts.EmergencyStops++
			emit(EventEmergencyStop, fmt.Sprintf("%.1f", st.Input))
		} else {
			emit(EventEmergencyClear, fmt.Sprintf("%.1f", st.Input))
		}
	}
	if st.EStop.Tripped() {
		heaterErr = s.inhibit(emit)
		return s.status(in.Now, events, heaterErr)
	}

	bf := st.Backflush.Step(BackflushInput{
		Now:         in.Now,
		Switch:      in.Switch,
		Enabled:     s.cfg.BackflushEnabled,
		BrewRunning: st.Brew.Running(),
	})
	if bf.Started {
		s.counts.Backflushes++
		emit(EventBackflushStart, "")
	}
	if bf.Finished {
		emit(EventBackflushEnd, fmt.Sprintf("%d cycles", st.Backflush.Cycles()))
	}
	heatingAllowed := !st.Backflush.Active() && !st.Backflush.Armed()
	if !heatingAllowed {
		heaterErr = s.cell.ForceOff()
	}

	if !s.cfg.PIDOnly {
		br := st.Brew.Step(BrewInput{
			Now:              in.Now,
			Switch:           in.Switch,
			BackflushIdle:    !st.Backflush.Active(),
			BackflushEnabled: s.cfg.BackflushEnabled,
			Weight:           in.Weight,
		})
		if br.Started {
			st.ColdStart = false
			s.counts.Shots++
			emit(EventBrewStart, "")
		}
		if br.Finished {
			emit(EventBrewEnd, fmt.Sprintf("%.1fs %.1f", br.Duration.Seconds(), st.Brew.Weight()))
		}
		if br.Aborted {
			s.counts.Aborts++
			emit(EventBrewAbort, fmt.Sprintf("%.1fs %.1f", br.Duration.Seconds(), st.Brew.Weight()))
		}
		if br.Rearm {
			st.Detector.Rearm()
		}
	}

	dr := st.Detector.Update(in.Now, st.Brew.Running())
	if dr.Opened {
		s.counts.Detections++
		emit(EventDetectionWindow, fmt.Sprintf("%.0f", st.Detector.HeatRateAverage()))
	}
	if dr.Closed && s.cfg.PIDOnly {
		st.BrewElapsed = 0
	}

	if !s.cfg.PIDEnabled {
		heaterErr = s.cell.ForceOff()
	} else if heatingAllowed {
		s.cell.Enable()
		if st.Input > 0 {
			if p := s.selectProfile(in.Now); p != st.Profile {
				st.Profile = p
				emit(EventProfileChange, string(p))
			}
		}
	}

	return s.status(in.Now, events, heaterErr)
}

// selectProfile applies Startup, BrewOverride or Steady tunings, in that
// priority.
func (s *Supervisor) selectProfile(now time.Time) ProfileName {
	st := &s.state
	if st.ColdStart && st.Input >= s.cfg.Setpoint {
		st.ColdStart = false
	}

	startup, steady, brew := s.cfg.Profiles()
	var p TuningProfile
	switch {
	case st.ColdStart:
		p = startup
	case st.Detector.Active():
		p = brew
		if s.cfg.PIDOnly {
			st.BrewElapsed = st.Detector.Age(now)
		}
	default:
		p = steady
	}
	if p != st.applied {
		s.cell.SetTunings(p)
		st.applied = p
	}
	return p.Name
}

// inhibit disables heating and stops any running cycle with the valve and
// pump off.
func (s *Supervisor) inhibit(emit func(EventType, string)) error {
	st := &s.state
	err := s.cell.ForceOff()
	if st.Brew.Abort() {
		s.counts.Aborts++
		emit(EventBrewAbort, "interlock")
	}
	if st.Backflush.Abort() {
		emit(EventBackflushEnd, "interlock")
	}
	return err
}

func (s *Supervisor) status(now time.Time, events []Event, heaterErr error) Status {
	st := &s.state
	relays := Relays{
		Valve: st.Brew.Relays().Valve || st.Backflush.Relays().Valve,
		Pump:  st.Brew.Relays().Pump || st.Backflush.Relays().Pump,
	}
	elapsed := st.Brew.Elapsed()
	if s.cfg.PIDOnly {
		elapsed = st.BrewElapsed
	}
	return Status{
		Time:               now,
		Cell:               s.cell.Snapshot(),
		Relays:             relays,
		SensorFault:        st.Validator.Fault(),
		SensorErrors:       st.Validator.Errors(),
		EmergencyStop:      st.EStop.Tripped(),
		BrewState:          st.Brew.State(),
		BrewElapsed:        elapsed,
		Weight:             st.Brew.Weight(),
		BackflushState:     st.Backflush.State(),
		BackflushEnabled:   s.cfg.BackflushEnabled,
		FlushCycles:        st.Backflush.Cycles(),
		MaxFlushCycles:     st.Backflush.MaxCycles(),
		Detecting:          st.Detector.Active(),
		HeatRate:           st.Detector.HeatRate(),
		HeatRateAverage:    st.Detector.HeatRateAverage(),
		HeatRateAverageMin: st.Detector.HeatRateAverageMin(),
		Profile:            st.Profile,
		ColdStart:          st.ColdStart,
		PIDOnly:            s.cfg.PIDOnly,
		Counts:             s.counts,
		Events:             events,
		HeaterErr:          heaterErr,
	}
}

// State exposes the loop-owned state for inspection.
func (s *Supervisor) State() *ControllerState {
	return &s.state
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed,
// or if interval is <= 0 (disabled).
func (s *Supervisor) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}

	if now.Sub(s.lastHeartbeat) < interval {
		return nil
	}

	s.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(s.startTime),
		Counts:    s.counts,
	}
}
