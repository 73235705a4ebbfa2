package logic

import (
	"sync"
	"time"
)

// Default time-proportioning window: 1000 units of one millisecond stepped
// by 10 per tick, i.e. a 10 ms tick gives a 1 s window.
const (
	DefaultWindowSize = 1000
	DefaultWindowStep = 10
)

// WindowStep returns the counter step for a tick period, so the window
// spans DefaultWindowSize milliseconds whatever the tick.
func WindowStep(tick time.Duration) int {
	return int(tick / time.Millisecond)
}

// ValidTick reports whether tick is a whole number of milliseconds that
// divides the window evenly.
func ValidTick(tick time.Duration) bool {
	step := WindowStep(tick)
	return step >= 1 && tick%time.Millisecond == 0 && DefaultWindowSize%step == 0
}

// Proportioner converts a 0..window output into an on/off duty cycle.
type Proportioner struct {
	window  int
	step    int
	counter int
}

// NewProportioner creates a proportioner with the given window and step.
func NewProportioner(window, step int) *Proportioner {
	if window <= 0 {
		window = DefaultWindowSize
	}
	if step <= 0 {
		step = DefaultWindowStep
	}
	return &Proportioner{window: window, step: step}
}

// Step returns the heater state for the current tick and advances the
// window counter, which stays in [0, window).
func (p *Proportioner) Step(output float64) bool {
	on := output > float64(p.counter)
	p.counter += p.step
	if p.counter >= p.window {
		p.counter = 0
	}
	return on
}

// Counter returns the current window position.
func (p *Proportioner) Counter() int {
	return p.counter
}

// Window returns the window size.
func (p *Proportioner) Window() int {
	return p.window
}

// HeaterSwitch drives the heater relay.
type HeaterSwitch interface {
	SetHeater(on bool) error
}

// CellSnapshot is a copy of the shared controller state.
type CellSnapshot struct {
	Input    float64
	Output   float64
	Setpoint float64
	Mode     Mode
	Tunings  TuningProfile
	Counter  int
	HeaterOn bool
}

// ControlCell is the only state shared between the fixed-period tick and
// the control loop. Every access goes through mu, and the critical section
// never contains anything slower than the heater relay write.
type ControlCell struct {
	mu       sync.Mutex
	pid      *PID
	prop     *Proportioner
	heater   HeaterSwitch
	input    float64
	heaterOn bool
}

// NewControlCell creates a cell in manual mode with the heater off.
func NewControlCell(pid *PID, prop *Proportioner, heater HeaterSwitch) *ControlCell {
	return &ControlCell{pid: pid, prop: prop, heater: heater}
}

// Tick runs one fixed-period step: time-proportion the heater, then
// compute the PID. Called from the tick context only.
func (c *ControlCell) Tick(now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	on := c.prop.Step(c.pid.Output())
	err := c.setHeater(on)
	c.pid.Compute(c.input, now)
	return err
}

func (c *ControlCell) setHeater(on bool) error {
	c.heaterOn = on
	if c.heater == nil {
		return nil
	}
	return c.heater.SetHeater(on)
}

// SetInput publishes a new validated temperature to the tick context.
func (c *ControlCell) SetInput(v float64) {
	c.mu.Lock()
	c.input = v
	c.mu.Unlock()
}

// ForceOff puts the controller in manual mode with zero output and turns
// the heater off in the same critical section.
func (c *ControlCell) ForceOff() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pid.SetMode(ModeManual, c.input)
	return c.setHeater(false)
}

// Enable switches the controller to automatic if it is not already.
func (c *ControlCell) Enable() {
	c.mu.Lock()
	if c.pid.Mode() != ModeAuto {
		c.pid.SetMode(ModeAuto, c.input)
	}
	c.mu.Unlock()
}

// SetTunings switches the active tuning profile.
func (c *ControlCell) SetTunings(t TuningProfile) {
	c.mu.Lock()
	c.pid.SetTunings(t)
	c.mu.Unlock()
}

// SetSetpoint changes the target temperature.
func (c *ControlCell) SetSetpoint(sp float64) {
	c.mu.Lock()
	c.pid.SetSetpoint(sp)
	c.mu.Unlock()
}

// Snapshot returns a copy of the shared state.
func (c *ControlCell) Snapshot() CellSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CellSnapshot{
		Input:    c.input,
		Output:   c.pid.Output(),
		Setpoint: c.pid.Setpoint(),
		Mode:     c.pid.Mode(),
		Tunings:  c.pid.Tunings(),
		Counter:  c.prop.Counter(),
		HeaterOn: c.heaterOn,
	}
}
