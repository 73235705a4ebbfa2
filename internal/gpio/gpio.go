// Package gpio provides brew switch input and relay outputs with hardware
// abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// SwitchReader reads the brew switch.
type SwitchReader interface {
	// Read returns the raw logical switch level (true = pressed).
	Read() (bool, error)

	// Close releases GPIO resources.
	Close() error
}

// RelayWriter drives the valve, pump and heater relays.
// SetHeater is called from the tick goroutine, the others from the control
// loop.
type RelayWriter interface {
	SetValve(on bool) error
	SetPump(on bool) error
	SetHeater(on bool) error

	// Close drives every relay off and releases GPIO resources.
	Close() error
}

// Pin definitions (BCM numbering)
const (
	PinBrewSwitch = 17
	PinValve      = 27
	PinPump       = 22
	PinHeater     = 23
)

// Pins groups the line offsets used by the board.
type Pins struct {
	Switch int
	Valve  int
	Pump   int
	Heater int
}

// DefaultPins returns the standard wiring.
func DefaultPins() Pins {
	return Pins{Switch: PinBrewSwitch, Valve: PinValve, Pump: PinPump, Heater: PinHeater}
}

// level converts a logical relay state into a raw line value. activeHigh
// selects the trigger polarity of the relay board.
func level(on, activeHigh bool) int {
	if on == activeHigh {
		return 1
	}
	return 0
}
