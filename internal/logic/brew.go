package logic

import "time"

// BrewTimings configures a single pull.
type BrewTimings struct {
	PreInfusion  time.Duration
	Pause        time.Duration
	Brew         time.Duration
	TargetWeight float64 // 0 disables the weight stop
}

// Total is the target time from switch-on to end of extraction.
func (t BrewTimings) Total() time.Duration {
	return t.PreInfusion + t.Pause + t.Brew
}

// BrewInput is one control-loop observation for the brew machine.
type BrewInput struct {
	Now              time.Time
	Switch           bool
	BackflushIdle    bool
	BackflushEnabled bool
	Weight           WeightReading
}

// BrewResult reports what happened during a step.
type BrewResult struct {
	Relays   Relays
	Started  bool // Idle -> PreInfusion
	Finished bool // target time or weight reached
	Aborted  bool // switch released before Finished
	Rearm    bool // returned to Idle

	// Duration is the shot time, set with Finished or Aborted.
	Duration time.Duration
}

// BrewMachine sequences preinfusion, pause and extraction for one pull.
type BrewMachine struct {
	timings BrewTimings
	state   BrewState
	start   time.Time
	elapsed time.Duration
	relays  Relays

	tareLeft  float64
	tareRight float64
	weight    float64
	tared     bool
}

// NewBrewMachine creates an idle brew machine.
func NewBrewMachine(t BrewTimings) *BrewMachine {
	return &BrewMachine{timings: t, state: BrewIdle}
}

// SetTimings replaces the timings. A running shot picks them up on the next
// step.
func (m *BrewMachine) SetTimings(t BrewTimings) {
	m.timings = t
}

// Timings returns the configured timings.
func (m *BrewMachine) Timings() BrewTimings {
	return m.timings
}

// Step advances the machine by one control-loop iteration.
func (m *BrewMachine) Step(in BrewInput) BrewResult {
	var res BrewResult

	if !in.Switch && m.state > BrewIdle {
		if m.state < BrewFinished {
			res.Aborted = true
		}
		m.state = BrewAwaitRelease
	}

	if m.state > BrewIdle {
		m.elapsed = in.Now.Sub(m.start)
		m.updateWeight(in.Weight)
		if res.Aborted {
			res.Duration = m.elapsed
		}
	}

	switch m.state {
	case BrewIdle:
		if in.Switch && in.BackflushIdle && !in.BackflushEnabled {
			m.start = in.Now
			m.elapsed = 0
			m.tare(in.Weight)
			m.enter(BrewPreInfusion)
			res.Started = true
		}
	case BrewPreInfusion:
		m.state = BrewPreInfusionWait
	case BrewPreInfusionWait:
		if m.elapsed >= m.timings.PreInfusion {
			m.enter(BrewPause)
		}
	case BrewPause:
		m.state = BrewPauseWait
	case BrewPauseWait:
		if m.elapsed >= m.timings.PreInfusion+m.timings.Pause {
			m.enter(BrewBrewing)
		}
	case BrewBrewing:
		m.state = BrewBrewingWait
	case BrewBrewingWait:
		if m.elapsed >= m.timings.Total() || m.targetWeightReached() {
			m.enter(BrewFinished)
			res.Finished = true
			res.Duration = m.elapsed
		}
	case BrewFinished:
		m.state = BrewAwaitRelease
	case BrewAwaitRelease:
		if !in.Switch {
			m.relays = Relays{}
			m.elapsed = 0
			m.tared = false
			m.state = BrewIdle
			res.Rearm = true
		}
	}

	res.Relays = m.relays
	return res
}

// enter switches to an action state and applies its relay command.
func (m *BrewMachine) enter(s BrewState) {
	switch s {
	case BrewPreInfusion, BrewBrewing:
		m.relays = Relays{Valve: true, Pump: true}
	case BrewPause:
		m.relays = Relays{Valve: true, Pump: false}
	case BrewFinished:
		m.relays = Relays{}
	}
	m.state = s
}

// tare captures both load-cell readings as the zero for this cycle.
func (m *BrewMachine) tare(w WeightReading) {
	m.weight = 0
	m.tared = w.Valid
	if w.Valid {
		m.tareLeft = w.Left
		m.tareRight = w.Right
	}
}

func (m *BrewMachine) updateWeight(w WeightReading) {
	if !w.Valid {
		return
	}
	if !m.tared {
		m.tare(w)
		return
	}
	m.weight = (w.Left - m.tareLeft) + (w.Right - m.tareRight)
}

func (m *BrewMachine) targetWeightReached() bool {
	if m.timings.TargetWeight <= 0 || !m.tared {
		return false
	}
	return m.weight >= m.timings.TargetWeight
}

// Abort parks a running cycle in AwaitRelease with the relays off.
// It reports whether extraction was cut short.
func (m *BrewMachine) Abort() bool {
	m.relays = Relays{}
	if m.state == BrewIdle || m.state == BrewAwaitRelease {
		return false
	}
	cut := m.state < BrewFinished
	m.state = BrewAwaitRelease
	return cut
}

// State returns the current state.
func (m *BrewMachine) State() BrewState {
	return m.state
}

// Running reports whether a cycle is in progress (state above Idle).
func (m *BrewMachine) Running() bool {
	return m.state > BrewIdle
}

// Elapsed returns the time since the current cycle started.
func (m *BrewMachine) Elapsed() time.Duration {
	return m.elapsed
}

// Weight returns the tared weight of the current cycle.
func (m *BrewMachine) Weight() float64 {
	return m.weight
}

// Relays returns the commanded valve and pump state.
func (m *BrewMachine) Relays() Relays {
	return m.relays
}
