package status

import (
	"encoding/json"
	"math"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string         `json:"event,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	Ready         bool           `json:"ready"`
	Controller    ControllerJSON `json:"controller"`
	Brew          BrewJSON       `json:"brew"`
	Backflush     BackflushJSON  `json:"backflush"`
	Safety        SafetyJSON     `json:"safety"`
	Detection     DetectionJSON  `json:"detection"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	StartTime     string         `json:"start_time"`
	Timestamp     string         `json:"timestamp"`
	MQTT          MQTTStatus     `json:"mqtt"`
	Counts        CountsJSON     `json:"event_counts"`
	Network       *NetworkJSON   `json:"network,omitempty"`
	System        *SystemJSON    `json:"system,omitempty"`
	Config        ConfigJSON     `json:"config"`
}

// ControllerJSON reports the PID and heater state.
type ControllerJSON struct {
	Input     float64 `json:"input"`
	Output    float64 `json:"output"`
	Setpoint  float64 `json:"setpoint"`
	Mode      string  `json:"mode"`
	Profile   string  `json:"profile"`
	Kp        float64 `json:"kp"`
	Ki        float64 `json:"ki"`
	Kd        float64 `json:"kd"`
	Heater    bool    `json:"heater"`
	ColdStart bool    `json:"cold_start"`
	PIDOnly   bool    `json:"pid_only"`
}

// BrewJSON reports the brew machine.
type BrewJSON struct {
	State          int     `json:"state"`
	StateName      string  `json:"state_name"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
	Weight         float64 `json:"weight"`
	Valve          bool    `json:"valve"`
	Pump           bool    `json:"pump"`
}

// BackflushJSON reports the backflush machine.
type BackflushJSON struct {
	State     int    `json:"state"`
	StateName string `json:"state_name"`
	Enabled   bool   `json:"enabled"`
	Cycles    int    `json:"cycles"`
	MaxCycles int    `json:"max_cycles"`
}

// SafetyJSON reports the sensor and over-temperature interlocks.
type SafetyJSON struct {
	SensorFault   bool `json:"sensor_fault"`
	SensorErrors  int  `json:"sensor_errors"`
	EmergencyStop bool `json:"emergency_stop"`
}

// DetectionJSON reports the heat-rate tracker and detection window.
type DetectionJSON struct {
	Mode           string  `json:"mode"`
	Active         bool    `json:"active"`
	HeatRate       float64 `json:"heat_rate"`
	HeatRateAvg    float64 `json:"heat_rate_avg"`
	HeatRateAvgMin float64 `json:"heat_rate_avg_min"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Shots          int `json:"shots"`
	Aborts         int `json:"aborts"`
	Backflushes    int `json:"backflushes"`
	SensorFaults   int `json:"sensor_faults"`
	EmergencyStops int `json:"emergency_stops"`
	Detections     int `json:"detections"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// SystemJSON is the JSON representation of host load.
type SystemJSON struct {
	Load1          float64 `json:"load1"`
	Load5          float64 `json:"load5"`
	Load15         float64 `json:"load15"`
	MemUsedPercent float64 `json:"mem_used_percent"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	PollMs      int64  `json:"poll_ms"`
	TickMs      int64  `json:"tick_ms"`
	DebounceMs  int64  `json:"debounce_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	TelemetryMs int64  `json:"telemetry_ms"`
	Broker      string `json:"broker"`
	HTTPPort    string `json:"http_port"`
	WSBroker    string `json:"ws_broker,omitempty"`
	Simulated   bool   `json:"simulated,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	st := snap.Controller
	cell := st.Cell

	mode := snap.Config.Detection
	if mode == "" {
		mode = "off"
	}

	return StatusInner{
		Ready: snap.Ready,
		Controller: ControllerJSON{
			Input:     round2(cell.Input),
			Output:    round2(cell.Output),
			Setpoint:  cell.Setpoint,
			Mode:      cell.Mode.String(),
			Profile:   string(st.Profile),
			Kp:        cell.Tunings.Kp,
			Ki:        cell.Tunings.Ki,
			Kd:        cell.Tunings.Kd,
			Heater:    cell.HeaterOn,
			ColdStart: st.ColdStart,
			PIDOnly:   st.PIDOnly,
		},
		Brew: BrewJSON{
			State:          int(st.BrewState),
			StateName:      stateName(snap.Ready, st.BrewState.String()),
			ElapsedSeconds: round2(st.BrewElapsed.Seconds()),
			Weight:         round2(st.Weight),
			Valve:          st.Relays.Valve,
			Pump:           st.Relays.Pump,
		},
		Backflush: BackflushJSON{
			State:     int(st.BackflushState),
			StateName: stateName(snap.Ready, st.BackflushState.String()),
			Enabled:   st.BackflushEnabled,
			Cycles:    st.FlushCycles,
			MaxCycles: st.MaxFlushCycles,
		},
		Safety: SafetyJSON{
			SensorFault:   st.SensorFault,
			SensorErrors:  st.SensorErrors,
			EmergencyStop: st.EmergencyStop,
		},
		Detection: DetectionJSON{
			Mode:           mode,
			Active:         st.Detecting,
			HeatRate:       round2(st.HeatRate),
			HeatRateAvg:    round2(st.HeatRateAverage),
			HeatRateAvgMin: round2(st.HeatRateAverageMin),
		},
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			Shots:          st.Counts.Shots,
			Aborts:         st.Counts.Aborts,
			Backflushes:    st.Counts.Backflushes,
			SensorFaults:   st.Counts.SensorFaults,
			EmergencyStops: st.Counts.EmergencyStops,
			Detections:     st.Counts.Detections,
		},
		Config: ConfigJSON{
			PollMs:      snap.Config.PollMs,
			TickMs:      snap.Config.TickMs,
			DebounceMs:  snap.Config.DebounceMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			TelemetryMs: snap.Config.TelemetryMs,
			Broker:      snap.Config.Broker,
			HTTPPort:    snap.Config.HTTPPort,
			WSBroker:    snap.Config.WSBroker,
			Simulated:   snap.Config.Simulated,
		},
	}
}

func stateName(ready bool, name string) string {
	if !ready {
		return "UNKNOWN"
	}
	return name
}

func buildNetwork(snap Snapshot, inner *StatusInner) {
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	if snap.System != nil {
		inner.System = &SystemJSON{
			Load1:          round2(snap.System.Load1),
			Load5:          round2(snap.System.Load5),
			Load15:         round2(snap.System.Load15),
			MemUsedPercent: round2(snap.System.MemUsedPercent),
		}
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	inner := buildInner(snap)
	buildNetwork(snap, &inner)

	data, _ := json.MarshalIndent(StatusJSON{Status: inner}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason
	buildNetwork(snap, &inner)

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
