package logic

import "time"

// heatRateSlots is the length of the heat-rate ring buffer.
const heatRateSlots = 15

// Heat-rate scaling. The instantaneous rate is °C per 10 s and the
// average is reported in hundredths of that, so a threshold of 150
// means an average fall of 1.5 °C per 10 s.
const (
	rateScale    = 10000.0 // per ms -> per 10 s
	averageScale = 100.0
)

// Default brew detection parameters.
const (
	DefaultDetectionThreshold = 150.0
	DefaultDetectionWindow    = 45 * time.Second
)

// heatRateHistory is a ring of recent accepted temperatures.
type heatRateHistory struct {
	temps  [heatRateSlots]float64
	times  [heatRateSlots]time.Time
	rates  [heatRateSlots]float64
	index  int
	seeded bool
}

// push stores a sample and returns the rate between it and the slot that
// will be overwritten next, i.e. the oldest sample in the ring.
func (h *heatRateHistory) push(s TemperatureSample) float64 {
	if !h.seeded {
		for i := range h.temps {
			h.temps[i] = s.Value
			h.times[i] = time.Time{}
			h.rates[i] = 0
		}
		h.index = 1
		h.seeded = true
	}

	h.temps[h.index] = s.Value
	h.times[h.index] = s.Time

	oldest := (h.index + 1) % heatRateSlots
	rate := 0.0
	if !h.times[oldest].IsZero() {
		dt := h.times[h.index].Sub(h.times[oldest])
		if dt > 0 {
			ms := float64(dt) / float64(time.Millisecond)
			rate = (h.temps[h.index] - h.temps[oldest]) / ms * rateScale
		}
	}
	h.rates[h.index] = rate
	h.index = oldest
	return rate
}

func (h *heatRateHistory) average() float64 {
	total := 0.0
	for _, r := range h.rates {
		total += r
	}
	return total / heatRateSlots * averageScale
}

// DetectorResult reports what happened during an Update.
type DetectorResult struct {
	Opened bool // a detection window opened
	Closed bool // the window duration elapsed and the detector rearmed
}

// BrewDetector flags a brew-detection window during which the brew
// override tuning profile applies.
type BrewDetector struct {
	mode      DetectionMode
	threshold float64
	duration  time.Duration

	history    heatRateHistory
	rate       float64
	average    float64
	averageMin float64

	active   bool
	openedAt time.Time
	latched  bool // hardware mode: window already opened for this shot
}

// NewBrewDetector creates a detector. A threshold of 0 disables detection.
func NewBrewDetector(mode DetectionMode, threshold float64, duration time.Duration) *BrewDetector {
	return &BrewDetector{mode: mode, threshold: threshold, duration: duration}
}

// Configure changes mode, threshold and window duration. An open window
// keeps running with the new duration.
func (d *BrewDetector) Configure(mode DetectionMode, threshold float64, duration time.Duration) {
	d.mode = mode
	d.threshold = threshold
	d.duration = duration
}

// Observe feeds an accepted temperature sample into the heat-rate history.
func (d *BrewDetector) Observe(s TemperatureSample) {
	d.rate = d.history.push(s)
	d.average = d.history.average()
	if d.average < d.averageMin {
		d.averageMin = d.average
	}
}

// Update rearms an expired window and opens a new one when a brew is
// detected. brewActive is the brew machine's running flag, used in
// hardware mode.
func (d *BrewDetector) Update(now time.Time, brewActive bool) DetectorResult {
	var res DetectorResult
	if d.threshold == 0 || d.mode == DetectOff {
		return res
	}

	if d.active && now.Sub(d.openedAt) > d.duration {
		d.active = false
		res.Closed = true
	}

	switch d.mode {
	case DetectSoftware:
		if d.average <= -d.threshold && !d.active {
			d.open(now)
			res.Opened = true
		}
	case DetectHardware:
		if brewActive && !d.latched && !d.active {
			d.open(now)
			d.latched = true
			res.Opened = true
		}
	}
	return res
}

func (d *BrewDetector) open(now time.Time) {
	d.active = true
	d.openedAt = now
}

// Rearm clears the hardware-mode latch once the shot has ended.
func (d *BrewDetector) Rearm() {
	d.latched = false
}

// Active reports whether a detection window is open.
func (d *BrewDetector) Active() bool {
	return d.active
}

// OpenedAt returns when the current window opened.
func (d *BrewDetector) OpenedAt() time.Time {
	return d.openedAt
}

// Age returns how long the current window has been open.
func (d *BrewDetector) Age(now time.Time) time.Duration {
	if !d.active {
		return 0
	}
	return now.Sub(d.openedAt)
}

// Mode returns the detection mode.
func (d *BrewDetector) Mode() DetectionMode {
	return d.mode
}

// HeatRate returns the latest instantaneous rate in °C per 10 s.
func (d *BrewDetector) HeatRate() float64 {
	return d.rate
}

// HeatRateAverage returns the moving average in hundredths of °C per 10 s.
func (d *BrewDetector) HeatRateAverage() float64 {
	return d.average
}

// HeatRateAverageMin returns the lowest average seen since boot.
func (d *BrewDetector) HeatRateAverageMin() float64 {
	return d.averageMin
}
