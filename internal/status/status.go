// Package status provides a thread-safe status tracker for the espresso-pid daemon.
// It is read by the HTTP handlers, the metrics collector and the heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/espresso-pid/internal/logic"
)

// NetworkInfo contains network state. This is a local copy to avoid
// importing internal/mqtt from status.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// SystemInfo contains host load figures.
type SystemInfo struct {
	Load1          float64
	Load5          float64
	Load15         float64
	MemUsedPercent float64
}

// Config contains daemon configuration for display.
type Config struct {
	PollMs      int64
	TickMs      int64
	DebounceMs  int64
	HeartbeatMs int64
	TelemetryMs int64
	Broker      string
	HTTPPort    string
	WSBroker    string // Websocket broker URL for browser MQTT (empty = disabled)
	Detection   string
	Simulated   bool
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and stays valid after the lock is released.
type Snapshot struct {
	Controller    logic.Status
	Ready         bool // at least one control-loop iteration has run
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	System        *SystemInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// Update stores the latest controller status.
// Called from runLoop on every iteration.
func (t *Tracker) Update(st logic.Status) {
	// Events belong to the iteration that produced them.
	st.Events = nil
	t.mu.Lock()
	t.snap.Controller = st
	t.snap.Ready = true
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// SetSystem sets the host load figures.
func (t *Tracker) SetSystem(info *SystemInfo) {
	t.mu.Lock()
	t.snap.System = info
	t.mu.Unlock()
}

// SetDetection records the active detection mode after a parameter change.
func (t *Tracker) SetDetection(mode string) {
	t.mu.Lock()
	t.snap.Config.Detection = mode
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
