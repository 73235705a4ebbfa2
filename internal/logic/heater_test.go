package logic

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingHeater struct {
	mu     sync.Mutex
	writes []bool
	err    error
}

func (h *recordingHeater) SetHeater(on bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writes = append(h.writes, on)
	return h.err
}

func (h *recordingHeater) last() (bool, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.writes) == 0 {
		return false, 0
	}
	return h.writes[len(h.writes)-1], len(h.writes)
}

func TestProportionerExactHalfDuty(t *testing.T) {
	for _, offset := range []int{0, 1, 37, 50, 99} {
		p := NewProportioner(DefaultWindowSize, DefaultWindowStep)
		for i := 0; i < offset; i++ {
			p.Step(0)
		}

		on := 0
		for i := 0; i < 100; i++ {
			if p.Step(500) {
				on++
			}
		}
		if on != 50 {
			t.Errorf("offset %d: expected 50 on ticks, got %d", offset, on)
		}
	}
}

func TestProportionerCounterWraps(t *testing.T) {
	p := NewProportioner(100, 10)
	for i := 0; i < 10; i++ {
		if p.Counter() != i*10 {
			t.Fatalf("tick %d: expected counter %d, got %d", i, i*10, p.Counter())
		}
		p.Step(0)
	}
	if p.Counter() != 0 {
		t.Errorf("expected wrap to 0, got %d", p.Counter())
	}
}

func TestProportionerExtremes(t *testing.T) {
	p := NewProportioner(DefaultWindowSize, DefaultWindowStep)
	for i := 0; i < 100; i++ {
		if p.Step(0) {
			t.Fatal("output 0 must never switch on")
		}
	}
	for i := 0; i < 100; i++ {
		if !p.Step(1000) {
			t.Fatal("output 1000 must always be on")
		}
	}
}

func TestControlCellTickDrivesHeater(t *testing.T) {
	h := &recordingHeater{}
	pid := NewPID(95, 0, DefaultWindowSize, time.Second)
	pid.SetTunings(NewTuningProfile(ProfileSteady, 1000, 0, 0, ProportionalOnError))
	cell := NewControlCell(pid, NewProportioner(0, 0), h)
	cell.SetInput(20)
	cell.Enable()

	now := pidEpoch
	// First tick writes the initial zero output, then computes.
	if err := cell.Tick(now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if on, _ := h.last(); on {
		t.Error("expected heater off before the first compute")
	}

	if err := cell.Tick(now.Add(10 * time.Millisecond)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if on, n := h.last(); !on || n != 2 {
		t.Errorf("expected heater on after second tick, got on=%v writes=%d", on, n)
	}

	snap := cell.Snapshot()
	if snap.Output != DefaultWindowSize {
		t.Errorf("expected output %d, got %v", DefaultWindowSize, snap.Output)
	}
	if !snap.HeaterOn {
		t.Error("expected snapshot HeaterOn")
	}
	if snap.Mode != ModeAuto {
		t.Errorf("expected auto, got %v", snap.Mode)
	}
}

func TestControlCellForceOff(t *testing.T) {
	h := &recordingHeater{}
	pid := NewPID(95, 0, DefaultWindowSize, time.Second)
	pid.SetTunings(NewTuningProfile(ProfileSteady, 1000, 0, 0, ProportionalOnError))
	cell := NewControlCell(pid, NewProportioner(0, 0), h)
	cell.SetInput(20)
	cell.Enable()
	cell.Tick(pidEpoch)
	cell.Tick(pidEpoch.Add(10 * time.Millisecond))

	if err := cell.ForceOff(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if on, _ := h.last(); on {
		t.Error("expected heater off after ForceOff")
	}
	snap := cell.Snapshot()
	if snap.Mode != ModeManual || snap.Output != 0 || snap.HeaterOn {
		t.Errorf("expected manual/0/off, got %v/%v/%v", snap.Mode, snap.Output, snap.HeaterOn)
	}

	// Subsequent ticks keep the heater off.
	for i := 2; i < 200; i++ {
		cell.Tick(pidEpoch.Add(time.Duration(i) * 10 * time.Millisecond))
		if on, _ := h.last(); on {
			t.Fatalf("tick %d: heater on while forced off", i)
		}
	}
}

func TestControlCellPropagatesHeaterError(t *testing.T) {
	h := &recordingHeater{err: errors.New("relay stuck")}
	cell := NewControlCell(NewPID(95, 0, DefaultWindowSize, time.Second), NewProportioner(0, 0), h)

	if err := cell.Tick(pidEpoch); err == nil {
		t.Error("expected heater error from Tick")
	}
	if err := cell.ForceOff(); err == nil {
		t.Error("expected heater error from ForceOff")
	}
}

func TestControlCellConcurrentAccess(t *testing.T) {
	cell := NewControlCell(NewPID(95, 0, DefaultWindowSize, time.Second), NewProportioner(0, 0), &recordingHeater{})
	cell.Enable()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			cell.Tick(pidEpoch.Add(time.Duration(i) * 10 * time.Millisecond))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			cell.SetInput(float64(80 + i%10))
			cell.Snapshot()
			if i%100 == 0 {
				cell.ForceOff()
				cell.Enable()
			}
		}
	}()
	wg.Wait()
}

func TestWindowStepSpansOneSecond(t *testing.T) {
	for _, tick := range []time.Duration{time.Millisecond, 10 * time.Millisecond, 20 * time.Millisecond, 50 * time.Millisecond} {
		p := NewProportioner(DefaultWindowSize, WindowStep(tick))
		ticks := 0
		for {
			p.Step(0)
			ticks++
			if p.Counter() == 0 {
				break
			}
		}
		if period := time.Duration(ticks) * tick; period != time.Second {
			t.Errorf("tick %v: expected 1s window, got %v", tick, period)
		}
	}
}
