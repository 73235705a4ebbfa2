package gpio

import (
	"errors"
	"sync"
)

// FakeBoard is a test double that returns scripted switch samples and
// records relay writes. Safe for use from the tick and loop goroutines.
type FakeBoard struct {
	mu sync.Mutex

	// Samples contains scripted switch levels to return.
	// Each call to Read() consumes the next sample.
	Samples []bool

	// index tracks current position in Samples
	index int

	// ReadError, if set, will be returned by Read()
	ReadError error

	// WriteError, if set, will be returned by every relay write
	WriteError error

	valve  bool
	pump   bool
	heater bool

	heaterWrites int
	closed       bool
}

// NewFakeBoard creates a FakeBoard with the given switch samples.
func NewFakeBoard(samples []bool) *FakeBoard {
	return &FakeBoard{Samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeBoard) Read() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ReadError != nil {
		return false, f.ReadError
	}

	if len(f.Samples) == 0 {
		return false, errors.New("no samples configured")
	}

	sample := f.Samples[f.index]
	if f.index < len(f.Samples)-1 {
		f.index++
	}

	return sample, nil
}

// SetValve records the valve state.
func (f *FakeBoard) SetValve(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteError != nil {
		return f.WriteError
	}
	f.valve = on
	return nil
}

// SetPump records the pump state.
func (f *FakeBoard) SetPump(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteError != nil {
		return f.WriteError
	}
	f.pump = on
	return nil
}

// SetHeater records the heater state.
func (f *FakeBoard) SetHeater(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteError != nil {
		return f.WriteError
	}
	f.heater = on
	f.heaterWrites++
	return nil
}

// Close drives every relay off and marks the board as closed.
func (f *FakeBoard) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.valve, f.pump, f.heater = false, false, false
	f.closed = true
	return nil
}

// Relays returns the recorded valve, pump and heater states.
func (f *FakeBoard) Relays() (valve, pump, heater bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.valve, f.pump, f.heater
}

// HeaterWrites returns how many times the heater was written.
func (f *FakeBoard) HeaterWrites() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heaterWrites
}

// Closed reports whether Close was called.
func (f *FakeBoard) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Reset resets the board to the beginning of samples with every relay off.
func (f *FakeBoard) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.index = 0
	f.valve, f.pump, f.heater = false, false, false
	f.heaterWrites = 0
	f.closed = false
}
