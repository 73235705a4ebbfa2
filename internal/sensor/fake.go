package sensor

import (
	"errors"
	"sync"
)

// Fake is a test double that returns scripted temperatures and weights.
type Fake struct {
	mu sync.Mutex

	// Temps contains scripted temperatures. Each call to ReadTemperature
	// consumes the next one and reports it fresh. Once exhausted, the last
	// value is repeated as stale.
	Temps []float64
	index int

	// Left and Right are returned by ReadWeight.
	Left  float64
	Right float64

	// ReadError, if set, will be returned by every read
	ReadError error
}

// NewFake creates a Fake with the given temperatures.
func NewFake(temps []float64) *Fake {
	return &Fake{Temps: temps}
}

// ReadTemperature returns the next scripted temperature.
func (f *Fake) ReadTemperature() (float64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ReadError != nil {
		return 0, false, f.ReadError
	}
	if len(f.Temps) == 0 {
		return 0, false, errors.New("no temperatures configured")
	}
	if f.index >= len(f.Temps) {
		return f.Temps[len(f.Temps)-1], false, nil
	}
	v := f.Temps[f.index]
	f.index++
	return v, true, nil
}

// ReadWeight returns the configured load-cell readings.
func (f *Fake) ReadWeight() (float64, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ReadError != nil {
		return 0, 0, f.ReadError
	}
	return f.Left, f.Right, nil
}

// SetWeight changes the load-cell readings.
func (f *Fake) SetWeight(left, right float64) {
	f.mu.Lock()
	f.Left, f.Right = left, right
	f.mu.Unlock()
}
