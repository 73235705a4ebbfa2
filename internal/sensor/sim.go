package sensor

import (
	"sync"
	"time"
)

// SimConfig holds the parameters of the simulated machine.
type SimConfig struct {
	Ambient     float64       // °C
	Start       float64       // boiler temperature at power-on, °C
	HeaterRate  float64       // °C/s with the heater fully on
	LossRate    float64       // fraction of the excess over ambient lost per second
	PumpCooling float64       // °C/s drawn by fresh water while the pump runs
	FlowRate    float64       // g/s into the cup while valve and pump are on
	ShotPeriod  time.Duration // simulated brew switch period, 0 disables
	ShotLength  time.Duration // how long the simulated switch is held
	SampleEvery time.Duration // minimum interval between fresh temperatures
}

// DefaultSimConfig returns a model roughly matching a single-boiler machine.
func DefaultSimConfig() SimConfig {
	return SimConfig{
		Ambient:     20,
		Start:       20,
		HeaterRate:  1.2,
		LossRate:    0.004,
		PumpCooling: 0.6,
		FlowRate:    1.5,
		ShotPeriod:  5 * time.Minute,
		ShotLength:  35 * time.Second,
		SampleEvery: 400 * time.Millisecond,
	}
}

// Sim is a first-order boiler model driven by the relay outputs. It stands
// in for the sensor bridge and the relay board so the controller can run
// on a development machine.
type Sim struct {
	cfg SimConfig
	now func() time.Time

	mu         sync.Mutex
	start      time.Time
	last       time.Time
	lastSample time.Time
	temp       float64
	weight     float64

	valve  bool
	pump   bool
	heater bool
}

// NewSim creates a simulated machine. now is the clock the model
// integrates against.
func NewSim(cfg SimConfig, now func() time.Time) *Sim {
	t := now()
	return &Sim{
		cfg:   cfg,
		now:   now,
		start: t,
		last:  t,
		temp:  cfg.Start,
	}
}

// advance integrates the model up to t. Caller holds mu.
func (s *Sim) advance(t time.Time) {
	dt := t.Sub(s.last).Seconds()
	if dt <= 0 {
		return
	}
	s.last = t

	rate := -s.cfg.LossRate * (s.temp - s.cfg.Ambient)
	if s.heater {
		rate += s.cfg.HeaterRate
	}
	if s.pump {
		rate -= s.cfg.PumpCooling
	}
	s.temp += rate * dt

	if s.valve && s.pump {
		s.weight += s.cfg.FlowRate * dt
	}
}

// ReadTemperature returns the modelled boiler temperature.
func (s *Sim) ReadTemperature() (float64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.now()
	s.advance(t)
	if !s.lastSample.IsZero() && t.Sub(s.lastSample) < s.cfg.SampleEvery {
		return s.temp, false, nil
	}
	s.lastSample = t
	return s.temp, true, nil
}

// ReadWeight returns the liquid weight split evenly over both cells.
func (s *Sim) ReadWeight() (float64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.advance(s.now())
	return s.weight / 2, s.weight / 2, nil
}

// Read reports the simulated brew switch: held for ShotLength at the start
// of every ShotPeriod, skipping the first period so the boiler can heat.
func (s *Sim) Read() (bool, error) {
	if s.cfg.ShotPeriod <= 0 {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	elapsed := s.now().Sub(s.start)
	if elapsed < s.cfg.ShotPeriod {
		return false, nil
	}
	return elapsed%s.cfg.ShotPeriod < s.cfg.ShotLength, nil
}

// SetValve records the valve relay.
func (s *Sim) SetValve(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance(s.now())
	s.valve = on
	return nil
}

// SetPump records the pump relay.
func (s *Sim) SetPump(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance(s.now())
	s.pump = on
	return nil
}

// SetHeater records the heater relay.
func (s *Sim) SetHeater(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance(s.now())
	s.heater = on
	return nil
}

// Close turns every simulated relay off.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advance(s.now())
	s.valve, s.pump, s.heater = false, false, false
	return nil
}
