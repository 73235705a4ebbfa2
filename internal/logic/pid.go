package logic

import "time"

// PID is a fixed-sample-time PID controller with output limits.
// Gains are stored pre-scaled by the sample time so Compute only
// multiplies and adds.
// Not safe for concurrent use; ControlCell serialises access.
type PID struct {
	setpoint   float64
	outMin     float64
	outMax     float64
	sampleTime time.Duration

	profile TuningProfile
	kp      float64
	ki      float64
	kd      float64

	mode      Mode
	output    float64
	outputSum float64
	lastInput float64
	lastTime  time.Time
	started   bool
}

// NewPID creates a controller in manual mode with the given limits and
// sample time.
func NewPID(setpoint, outMin, outMax float64, sampleTime time.Duration) *PID {
	if sampleTime <= 0 {
		sampleTime = time.Second
	}
	return &PID{
		setpoint:   setpoint,
		outMin:     outMin,
		outMax:     outMax,
		sampleTime: sampleTime,
		mode:       ModeManual,
	}
}

// SetTunings switches to the given profile. Negative gains are ignored.
func (p *PID) SetTunings(t TuningProfile) {
	if t.Kp < 0 || t.Ki < 0 || t.Kd < 0 {
		return
	}
	p.profile = t
	sec := p.sampleTime.Seconds()
	p.kp = t.Kp
	p.ki = t.Ki * sec
	p.kd = t.Kd / sec
}

// Tunings returns the active profile with unscaled gains.
func (p *PID) Tunings() TuningProfile {
	return p.profile
}

// SetSetpoint changes the target temperature.
func (p *PID) SetSetpoint(sp float64) {
	p.setpoint = sp
}

// Setpoint returns the target temperature.
func (p *PID) Setpoint() float64 {
	return p.setpoint
}

// SetMode switches between manual and automatic. Manual forces the output
// to zero and stops accumulation. Manual to automatic re-initialises the
// accumulated sum from the current output so the switch is bumpless.
func (p *PID) SetMode(m Mode, input float64) {
	if m == ModeAuto && p.mode == ModeManual {
		p.outputSum = clamp(p.output, p.outMin, p.outMax)
		p.lastInput = input
		p.started = false
	}
	if m == ModeManual {
		p.output = 0
		p.outputSum = 0
	}
	p.mode = m
}

// Mode returns the current mode.
func (p *PID) Mode() Mode {
	return p.mode
}

// Output returns the last computed output.
func (p *PID) Output() float64 {
	return p.output
}

// Compute runs one control step if in automatic mode and the sample time
// has elapsed. It returns the output and whether a new value was computed.
func (p *PID) Compute(input float64, now time.Time) (float64, bool) {
	if p.mode != ModeAuto {
		return p.output, false
	}
	if p.started && now.Sub(p.lastTime) < p.sampleTime {
		return p.output, false
	}

	err := p.setpoint - input
	dInput := input - p.lastInput

	p.outputSum += p.ki * err
	if p.profile.POn == ProportionalOnMeasurement {
		p.outputSum -= p.kp * dInput
	}
	p.outputSum = clamp(p.outputSum, p.outMin, p.outMax)

	out := 0.0
	if p.profile.POn == ProportionalOnError {
		out = p.kp * err
	}
	out += p.outputSum - p.kd*dInput
	p.output = clamp(out, p.outMin, p.outMax)

	p.lastInput = input
	p.lastTime = now
	p.started = true
	return p.output, true
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
