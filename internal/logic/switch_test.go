package logic

import (
	"testing"
	"time"
)

func TestSwitchBaselineEstablishment(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewSwitchDebouncer(50 * time.Millisecond)

	// First sample - starts observation
	if d.Process(true, now) {
		t.Error("expected de-asserted before baseline")
	}
	if d.IsBaselined() {
		t.Error("should not be baselined after first sample")
	}

	// Before debounce period
	if d.Process(true, now.Add(40*time.Millisecond)) {
		t.Error("expected de-asserted before baseline")
	}

	// After debounce period - baseline established
	if !d.Process(true, now.Add(50*time.Millisecond)) {
		t.Error("expected asserted once baselined")
	}
	if !d.IsBaselined() {
		t.Error("should be baselined after debounce period")
	}
}

func TestSwitchBaselineResetOnChange(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewSwitchDebouncer(50 * time.Millisecond)

	d.Process(true, now)
	d.Process(false, now.Add(20*time.Millisecond))

	// Full debounce from the original time is not enough after a change
	d.Process(false, now.Add(50*time.Millisecond))
	if d.IsBaselined() {
		t.Error("baseline must restart after a change")
	}

	d.Process(false, now.Add(70*time.Millisecond))
	if !d.IsBaselined() {
		t.Error("expected baseline 50ms after the change")
	}
	if d.Stable() {
		t.Error("expected stable de-asserted")
	}
}

func TestSwitchBounceShorterThanDebounce(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewSwitchDebouncer(50 * time.Millisecond)
	d.Process(false, now)
	d.Process(false, now.Add(50*time.Millisecond))

	// Bounce: on for 30ms then back off
	if d.Process(true, now.Add(100*time.Millisecond)) {
		t.Error("bounce must not assert")
	}
	if d.Process(true, now.Add(130*time.Millisecond)) {
		t.Error("bounce must not assert")
	}
	if d.Process(false, now.Add(140*time.Millisecond)) {
		t.Error("expected de-asserted")
	}
	if d.Process(true, now.Add(160*time.Millisecond)) {
		t.Error("new bounce restarts the debounce")
	}
}

func TestSwitchTransitionAfterDebounce(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewSwitchDebouncer(50 * time.Millisecond)
	d.Process(false, now)
	d.Process(false, now.Add(50*time.Millisecond))

	d.Process(true, now.Add(100*time.Millisecond))
	if d.Process(true, now.Add(149*time.Millisecond)) {
		t.Error("asserted before the debounce elapsed")
	}
	if !d.Process(true, now.Add(150*time.Millisecond)) {
		t.Error("expected asserted at exactly the debounce time")
	}

	d.Process(false, now.Add(200*time.Millisecond))
	if !d.Process(false, now.Add(240*time.Millisecond)) {
		t.Error("release must also be debounced")
	}
	if d.Process(false, now.Add(250*time.Millisecond)) {
		t.Error("expected de-asserted after the release debounce")
	}
}

func TestSwitchZeroDebounceFollowsRaw(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	d := NewSwitchDebouncer(0)

	// Baseline needs a second sample even with zero debounce
	d.Process(false, now)
	d.Process(false, now)
	d.Process(true, now.Add(10*time.Millisecond))
	if !d.Process(true, now.Add(10*time.Millisecond)) {
		t.Error("expected asserted on the confirming sample")
	}
}
