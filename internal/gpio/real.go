//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// RealBoard drives the machine through the Linux GPIO character device.
type RealBoard struct {
	chip   *gpiocdev.Chip
	sw     *gpiocdev.Line
	valve  *gpiocdev.Line
	pump   *gpiocdev.Line
	heater *gpiocdev.Line

	// activeHigh is the valve/pump trigger polarity. The heater SSR is
	// always active-high.
	activeHigh bool
}

// NewRealBoard requests the switch input and the three relay outputs. All
// outputs start off.
func NewRealBoard(chipName string, pins Pins, activeHigh bool) (*RealBoard, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	b := &RealBoard{chip: chip, activeHigh: activeHigh}

	// The switch closes to ground.
	b.sw, err = chip.RequestLine(pins.Switch, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("request switch pin %d: %w", pins.Switch, err)
	}

	b.valve, err = chip.RequestLine(pins.Valve, gpiocdev.AsOutput(level(false, activeHigh)))
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("request valve pin %d: %w", pins.Valve, err)
	}

	b.pump, err = chip.RequestLine(pins.Pump, gpiocdev.AsOutput(level(false, activeHigh)))
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("request pump pin %d: %w", pins.Pump, err)
	}

	b.heater, err = chip.RequestLine(pins.Heater, gpiocdev.AsOutput(0))
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("request heater pin %d: %w", pins.Heater, err)
	}

	return b, nil
}

// Read returns true while the brew switch is closed.
func (b *RealBoard) Read() (bool, error) {
	raw, err := b.sw.Value()
	if err != nil {
		return false, fmt.Errorf("read switch pin: %w", err)
	}
	return raw == 0, nil
}

// SetValve drives the three-way valve relay.
func (b *RealBoard) SetValve(on bool) error {
	if err := b.valve.SetValue(level(on, b.activeHigh)); err != nil {
		return fmt.Errorf("set valve: %w", err)
	}
	return nil
}

// SetPump drives the pump relay.
func (b *RealBoard) SetPump(on bool) error {
	if err := b.pump.SetValue(level(on, b.activeHigh)); err != nil {
		return fmt.Errorf("set pump: %w", err)
	}
	return nil
}

// SetHeater drives the heater SSR.
func (b *RealBoard) SetHeater(on bool) error {
	if err := b.heater.SetValue(level(on, true)); err != nil {
		return fmt.Errorf("set heater: %w", err)
	}
	return nil
}

// Close drives every relay off, then releases GPIO resources.
// Lines are reconfigured to input with pull-down (matching Pi boot defaults)
// before closing so the relay board sees a clean state during reboot.
func (b *RealBoard) Close() error {
	var errs []error

	outputs := []struct {
		name string
		line *gpiocdev.Line
		off  int
	}{
		{"heater", b.heater, 0},
		{"pump", b.pump, level(false, b.activeHigh)},
		{"valve", b.valve, level(false, b.activeHigh)},
	}
	for _, o := range outputs {
		if o.line == nil {
			continue
		}
		if err := o.line.SetValue(o.off); err != nil {
			errs = append(errs, fmt.Errorf("switch off %s: %w", o.name, err))
		}
		if err := o.line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s pin: %w", o.name, err))
		}
		if err := o.line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s pin: %w", o.name, err))
		}
	}

	if b.sw != nil {
		if err := b.sw.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close switch pin: %w", err))
		}
	}
	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
