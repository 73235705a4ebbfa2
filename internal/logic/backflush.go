package logic

import "time"

// BackflushTimings configures a cleaning run.
type BackflushTimings struct {
	Fill      time.Duration
	Flush     time.Duration
	MaxCycles int
}

// BackflushInput is one control-loop observation for the backflush machine.
type BackflushInput struct {
	Now         time.Time
	Switch      bool
	Enabled     bool
	BrewRunning bool
}

// BackflushResult reports what happened during a step.
type BackflushResult struct {
	Relays   Relays
	Started  bool
	Finished bool // all cycles done
	Rearm    bool // returned to Idle
}

// BackflushMachine sequences fill/flush cycles against a blind filter.
type BackflushMachine struct {
	timings BackflushTimings
	state   BackflushState
	cycles  int
	start   time.Time
	relays  Relays
	enabled bool
	brewing bool
}

// NewBackflushMachine creates an idle backflush machine.
func NewBackflushMachine(t BackflushTimings) *BackflushMachine {
	return &BackflushMachine{timings: t, state: BackflushIdle}
}

// SetTimings replaces the timings.
func (m *BackflushMachine) SetTimings(t BackflushTimings) {
	m.timings = t
}

// Step advances the machine by one control-loop iteration.
func (m *BackflushMachine) Step(in BackflushInput) BackflushResult {
	var res BackflushResult
	m.enabled = in.Enabled
	m.brewing = in.BrewRunning

	if m.state != BackflushIdle && !in.Enabled {
		m.relays = Relays{}
		m.state = BackflushAwaitRelease
	} else if in.BrewRunning || m.timings.MaxCycles <= 0 || !in.Enabled {
		res.Relays = m.relays
		return res
	}

	if !in.Switch && m.state > BackflushIdle {
		m.state = BackflushAwaitRelease
	}

	switch m.state {
	case BackflushIdle:
		if in.Switch && in.Enabled {
			m.start = in.Now
			m.enter(BackflushFilling)
			res.Started = true
		}
	case BackflushFilling:
		m.state = BackflushFillWait
	case BackflushFillWait:
		if in.Now.Sub(m.start) >= m.timings.Fill {
			m.start = in.Now
			m.enter(BackflushFlushing)
		}
	case BackflushFlushing:
		m.state = BackflushFlushWait
	case BackflushFlushWait:
		if m.cycles >= m.timings.MaxCycles {
			m.state = BackflushAwaitRelease
			res.Finished = true
		} else if in.Now.Sub(m.start) >= m.timings.Flush {
			m.start = in.Now
			m.enter(BackflushFilling)
		}
	case BackflushAwaitRelease:
		if !in.Switch {
			m.relays = Relays{}
			m.cycles = 0
			m.state = BackflushIdle
			res.Rearm = true
		}
	}

	res.Relays = m.relays
	return res
}

// enter switches to an action state and applies its relay command.
func (m *BackflushMachine) enter(s BackflushState) {
	switch s {
	case BackflushFilling:
		m.relays = Relays{Valve: true, Pump: true}
	case BackflushFlushing:
		m.relays = Relays{}
		m.cycles++
	}
	m.state = s
}

// Abort parks a running cycle in AwaitRelease with the relays off.
func (m *BackflushMachine) Abort() bool {
	m.relays = Relays{}
	if m.state == BackflushIdle || m.state == BackflushAwaitRelease {
		return false
	}
	m.state = BackflushAwaitRelease
	return true
}

// State returns the current state.
func (m *BackflushMachine) State() BackflushState {
	return m.state
}

// Active reports whether a cleaning cycle is in progress.
func (m *BackflushMachine) Active() bool {
	return m.state != BackflushIdle
}

// Armed reports whether backflush is enabled and waiting for the switch
// while no shot is running. Heating stays off while armed.
func (m *BackflushMachine) Armed() bool {
	return m.enabled && !m.brewing && m.timings.MaxCycles > 0 && m.state == BackflushIdle
}

// Cycles returns the number of flush cycles started in this run.
func (m *BackflushMachine) Cycles() int {
	return m.cycles
}

// MaxCycles returns the configured cycle budget.
func (m *BackflushMachine) MaxCycles() int {
	return m.timings.MaxCycles
}

// Relays returns the commanded valve and pump state.
func (m *BackflushMachine) Relays() Relays {
	return m.relays
}
