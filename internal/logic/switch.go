package logic

import "time"

// DefaultSwitchDebounce is how long the brew switch must hold a level
// before it is believed.
const DefaultSwitchDebounce = 50 * time.Millisecond

// SwitchDebouncer turns raw brew switch samples into a debounced level.
// Until a baseline is established the switch reads de-asserted.
type SwitchDebouncer struct {
	debounce     time.Duration
	stable       bool
	pending      bool
	pendingSince time.Time
	hasPending   bool
	baselined    bool
}

// NewSwitchDebouncer creates a debouncer with the given hold time.
func NewSwitchDebouncer(debounce time.Duration) *SwitchDebouncer {
	return &SwitchDebouncer{debounce: debounce}
}

// Process takes a raw sample and returns the debounced level.
func (d *SwitchDebouncer) Process(raw bool, now time.Time) bool {
	// First time seeing the switch
	if !d.baselined {
		if !d.hasPending || d.pending != raw {
			// Start observing, or restart after a change during baseline
			d.pending = raw
			d.pendingSince = now
			d.hasPending = true
			return false
		}
		if now.Sub(d.pendingSince) >= d.debounce {
			d.stable = raw
			d.baselined = true
			d.hasPending = false
			return d.stable
		}
		return false
	}

	if raw == d.stable {
		// No change from stable state, clear any pending
		d.hasPending = false
		return d.stable
	}

	if !d.hasPending || d.pending != raw {
		d.pending = raw
		d.pendingSince = now
		d.hasPending = true
		return d.stable
	}

	if now.Sub(d.pendingSince) >= d.debounce {
		d.stable = raw
		d.hasPending = false
	}
	return d.stable
}

// IsBaselined returns whether a stable level has been established.
func (d *SwitchDebouncer) IsBaselined() bool {
	return d.baselined
}

// Stable returns the current debounced level.
func (d *SwitchDebouncer) Stable() bool {
	return d.stable
}
