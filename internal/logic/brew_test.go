package logic

import (
	"testing"
	"time"
)

var brewEpoch = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

func defaultBrewTimings() BrewTimings {
	return BrewTimings{
		PreInfusion: 2 * time.Second,
		Pause:       5 * time.Second,
		Brew:        25 * time.Second,
	}
}

func brewStep(m *BrewMachine, at time.Duration, sw bool) BrewResult {
	return m.Step(BrewInput{Now: brewEpoch.Add(at), Switch: sw, BackflushIdle: true})
}

func TestBrewFullScenario(t *testing.T) {
	m := NewBrewMachine(defaultBrewTimings())

	steps := []struct {
		at     time.Duration
		sw     bool
		state  BrewState
		relays Relays
	}{
		{0, true, BrewPreInfusion, Relays{Valve: true, Pump: true}},
		{100 * time.Millisecond, true, BrewPreInfusionWait, Relays{Valve: true, Pump: true}},
		{1900 * time.Millisecond, true, BrewPreInfusionWait, Relays{Valve: true, Pump: true}},
		{2 * time.Second, true, BrewPause, Relays{Valve: true}},
		{2100 * time.Millisecond, true, BrewPauseWait, Relays{Valve: true}},
		{7 * time.Second, true, BrewBrewing, Relays{Valve: true, Pump: true}},
		{7100 * time.Millisecond, true, BrewBrewingWait, Relays{Valve: true, Pump: true}},
		{31 * time.Second, true, BrewBrewingWait, Relays{Valve: true, Pump: true}},
		{32 * time.Second, true, BrewFinished, Relays{}},
		{32100 * time.Millisecond, true, BrewAwaitRelease, Relays{}},
		{40 * time.Second, true, BrewAwaitRelease, Relays{}},
		{41 * time.Second, false, BrewIdle, Relays{}},
	}

	for _, s := range steps {
		res := brewStep(m, s.at, s.sw)
		if m.State() != s.state {
			t.Fatalf("at %v: expected state %v, got %v", s.at, s.state, m.State())
		}
		if res.Relays != s.relays {
			t.Errorf("at %v: expected relays %+v, got %+v", s.at, s.relays, res.Relays)
		}
	}
}

func TestBrewResultFlags(t *testing.T) {
	m := NewBrewMachine(defaultBrewTimings())

	res := brewStep(m, 0, true)
	if !res.Started {
		t.Error("expected Started on the first step")
	}

	var finished int
	for at := 10 * time.Millisecond; at <= 33*time.Second; at += 10 * time.Millisecond {
		res = brewStep(m, at, true)
		if res.Started || res.Aborted {
			t.Fatalf("at %v: unexpected flags %+v", at, res)
		}
		if res.Finished {
			finished++
			if res.Duration != 32*time.Second {
				t.Errorf("at %v: expected shot duration 32s, got %v", at, res.Duration)
			}
		} else if res.Duration != 0 {
			t.Errorf("at %v: unexpected duration %v", at, res.Duration)
		}
	}
	if finished != 1 {
		t.Errorf("expected exactly one Finished, got %d", finished)
	}

	res = brewStep(m, 34*time.Second, false)
	if res.Aborted {
		t.Error("release after Finished must not count as an abort")
	}
	if !res.Rearm {
		t.Error("expected Rearm on return to Idle")
	}
}

func TestBrewAbortOnRelease(t *testing.T) {
	m := NewBrewMachine(defaultBrewTimings())
	brewStep(m, 0, true)
	brewStep(m, 100*time.Millisecond, true)
	brewStep(m, 3*time.Second, true)

	res := brewStep(m, 4*time.Second, false)
	if !res.Aborted {
		t.Error("expected Aborted")
	}
	if res.Duration != 4*time.Second {
		t.Errorf("expected shot duration 4s, got %v", res.Duration)
	}
	if m.State() != BrewIdle {
		t.Errorf("expected Idle after release, got %v", m.State())
	}
	if res.Relays != (Relays{}) {
		t.Errorf("expected relays off, got %+v", res.Relays)
	}
	if m.Elapsed() != 0 {
		t.Errorf("expected elapsed reset, got %v", m.Elapsed())
	}
}

func TestBrewStaysIdleWithoutSwitch(t *testing.T) {
	m := NewBrewMachine(defaultBrewTimings())
	for i := 0; i < 10; i++ {
		res := brewStep(m, time.Duration(i)*time.Second, false)
		if res.Started || m.State() != BrewIdle {
			t.Fatalf("step %d: expected Idle, got %v", i, m.State())
		}
	}
}

func TestBrewBlockedWhileBackflushEnabled(t *testing.T) {
	m := NewBrewMachine(defaultBrewTimings())

	res := m.Step(BrewInput{Now: brewEpoch, Switch: true, BackflushIdle: true, BackflushEnabled: true})
	if res.Started || m.State() != BrewIdle {
		t.Error("brew must not start while backflush is enabled")
	}

	res = m.Step(BrewInput{Now: brewEpoch, Switch: true, BackflushIdle: false})
	if res.Started || m.State() != BrewIdle {
		t.Error("brew must not start while backflush is running")
	}
}

func TestBrewStopsAtTargetWeight(t *testing.T) {
	timings := defaultBrewTimings()
	timings.TargetWeight = 30
	m := NewBrewMachine(timings)

	step := func(at time.Duration, left, right float64) BrewResult {
		return m.Step(BrewInput{
			Now:           brewEpoch.Add(at),
			Switch:        true,
			BackflushIdle: true,
			Weight:        WeightReading{Left: left, Right: right, Valid: true},
		})
	}

	step(0, 100, 200)
	step(100*time.Millisecond, 100, 200)
	step(2*time.Second, 100, 200)
	step(2100*time.Millisecond, 100, 200)
	step(7*time.Second, 100, 200)
	step(7100*time.Millisecond, 101, 201)

	res := step(15*time.Second, 110, 210)
	if res.Finished {
		t.Fatalf("finished early at weight %v", m.Weight())
	}
	if m.Weight() != 20 {
		t.Errorf("expected tared weight 20, got %v", m.Weight())
	}

	res = step(18*time.Second, 115, 215)
	if !res.Finished {
		t.Errorf("expected Finished at weight %v", m.Weight())
	}
	if res.Relays != (Relays{}) {
		t.Errorf("expected relays off, got %+v", res.Relays)
	}
}

func TestBrewIgnoresWeightWhenDisabled(t *testing.T) {
	m := NewBrewMachine(defaultBrewTimings())
	w := WeightReading{Left: 0, Right: 0, Valid: true}
	m.Step(BrewInput{Now: brewEpoch, Switch: true, BackflushIdle: true, Weight: w})

	w = WeightReading{Left: 500, Right: 500, Valid: true}
	for _, at := range []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 7 * time.Second, 8 * time.Second, 20 * time.Second} {
		res := m.Step(BrewInput{Now: brewEpoch.Add(at), Switch: true, BackflushIdle: true, Weight: w})
		if res.Finished {
			t.Fatalf("finished at %v with target weight disabled", at)
		}
	}
}

func TestBrewAbortMethod(t *testing.T) {
	m := NewBrewMachine(defaultBrewTimings())
	if m.Abort() {
		t.Error("abort while idle must report false")
	}

	brewStep(m, 0, true)
	if !m.Abort() {
		t.Error("abort during preinfusion must report true")
	}
	if m.State() != BrewAwaitRelease {
		t.Errorf("expected AwaitRelease, got %v", m.State())
	}
	if m.Relays() != (Relays{}) {
		t.Errorf("expected relays off, got %+v", m.Relays())
	}

	// Switch still held: no restart until it is released.
	res := brewStep(m, time.Second, true)
	if res.Started || m.State() != BrewAwaitRelease {
		t.Errorf("expected to stay in AwaitRelease, got %v", m.State())
	}
	brewStep(m, 2*time.Second, false)
	if m.State() != BrewIdle {
		t.Errorf("expected Idle, got %v", m.State())
	}
}

func TestBrewStateNumbersAreStable(t *testing.T) {
	want := map[BrewState]int{
		BrewIdle:            10,
		BrewPreInfusion:     20,
		BrewPreInfusionWait: 21,
		BrewPause:           30,
		BrewPauseWait:       31,
		BrewBrewing:         40,
		BrewBrewingWait:     41,
		BrewFinished:        42,
		BrewAwaitRelease:    43,
	}
	for s, n := range want {
		if int(s) != n {
			t.Errorf("%v: expected %d, got %d", s, n, int(s))
		}
	}
}

func TestBrewReleaseFromEveryState(t *testing.T) {
	ms := time.Millisecond
	tests := []struct {
		state   BrewState
		path    []time.Duration
		aborted bool
	}{
		{BrewPreInfusion, []time.Duration{0}, true},
		{BrewPreInfusionWait, []time.Duration{0, 100 * ms}, true},
		{BrewPause, []time.Duration{0, 100 * ms, 2000 * ms}, true},
		{BrewPauseWait, []time.Duration{0, 100 * ms, 2000 * ms, 2100 * ms}, true},
		{BrewBrewing, []time.Duration{0, 100 * ms, 2000 * ms, 2100 * ms, 7000 * ms}, true},
		{BrewBrewingWait, []time.Duration{0, 100 * ms, 2000 * ms, 2100 * ms, 7000 * ms, 7100 * ms}, true},
		{BrewFinished, []time.Duration{0, 100 * ms, 2000 * ms, 2100 * ms, 7000 * ms, 7100 * ms, 32000 * ms}, false},
		{BrewAwaitRelease, []time.Duration{0, 100 * ms, 2000 * ms, 2100 * ms, 7000 * ms, 7100 * ms, 32000 * ms, 32100 * ms}, false},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			m := NewBrewMachine(defaultBrewTimings())
			for _, at := range tt.path {
				brewStep(m, at, true)
			}
			if m.State() != tt.state {
				t.Fatalf("setup reached %v", m.State())
			}

			release := tt.path[len(tt.path)-1] + 100*ms
			res := brewStep(m, release, false)
			if res.Aborted != tt.aborted {
				t.Errorf("expected Aborted=%v, got %v", tt.aborted, res.Aborted)
			}
			if tt.aborted && res.Duration != release {
				t.Errorf("expected abort duration %v, got %v", release, res.Duration)
			}
			if m.State() != BrewIdle || !res.Rearm {
				t.Errorf("expected Idle with Rearm, got %v", m.State())
			}
			if res.Relays != (Relays{}) || m.Relays() != (Relays{}) {
				t.Errorf("expected relays off, got %+v", res.Relays)
			}
		})
	}
}
