// Package mqtt provides MQTT publishing and remote parameter sync with
// abstraction for testing.
package mqtt

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/espresso-pid/internal/logic"
)

// Topics.
const (
	// TopicEvents carries brew, backflush and safety transitions.
	TopicEvents = "espresso/pid/events"

	// TopicTelemetry carries the periodic controller record.
	TopicTelemetry = "espresso/pid/telemetry"

	// TopicSystem carries lifecycle events (startup, shutdown, heartbeat).
	TopicSystem = "espresso/pid/system"

	// TopicSetPrefix is followed by a parameter name, e.g.
	// espresso/pid/set/setpoint.
	TopicSetPrefix = "espresso/pid/set/"

	// TopicSetFilter subscribes to every parameter.
	TopicSetFilter = TopicSetPrefix + "#"
)

// Publisher publishes controller output to MQTT.
type Publisher interface {
	// PublishEvent sends a transition event. shotID groups the events of
	// one shot and may be empty.
	// Returns error if publishing fails (should not crash the process).
	PublishEvent(event logic.Event, shotID string) error

	// PublishTelemetry sends a telemetry record.
	PublishTelemetry(t Telemetry) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// EventPayload represents the MQTT message payload for a transition.
type EventPayload struct {
	Espresso EventInner `json:"espresso"`
}

// EventInner contains the event details.
type EventInner struct {
	Timestamp string  `json:"timestamp"`
	Event     string  `json:"event"`
	Input     float64 `json:"input"`
	Detail    string  `json:"detail,omitempty"`
	ShotID    string  `json:"shot_id,omitempty"`
}

// FormatEventPayload creates the JSON payload for a transition event.
func FormatEventPayload(event logic.Event, shotID string) ([]byte, error) {
	payload := EventPayload{
		Espresso: EventInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     string(event.Type),
			Input:     round2(event.Input),
			Detail:    event.Detail,
			ShotID:    shotID,
		},
	}
	return json.Marshal(payload)
}

// Telemetry is the combined controller record published every telemetry
// interval.
type Telemetry struct {
	Timestamp          string  `json:"timestamp"`
	Input              float64 `json:"input"`
	Output             float64 `json:"output"`
	Setpoint           float64 `json:"setpoint"`
	Kp                 float64 `json:"kp"`
	Ki                 float64 `json:"ki"`
	Kd                 float64 `json:"kd"`
	Mode               string  `json:"mode"`
	Profile            string  `json:"profile"`
	Heater             bool    `json:"heater"`
	Valve              bool    `json:"valve"`
	Pump               bool    `json:"pump"`
	HeatRate           float64 `json:"heat_rate"`
	HeatRateAverage    float64 `json:"heat_rate_avg"`
	HeatRateAverageMin float64 `json:"heat_rate_avg_min"`
	BrewState          int     `json:"brew_state"`
	BrewElapsed        float64 `json:"brew_elapsed"`
	Weight             float64 `json:"weight"`
	BackflushState     int     `json:"backflush_state"`
	FlushCycles        int     `json:"flush_cycles"`
	Detecting          bool    `json:"detecting"`
	SensorFault        bool    `json:"sensor_fault"`
	EmergencyStop      bool    `json:"emergency_stop"`
	ColdStart          bool    `json:"cold_start"`
}

// NewTelemetry builds a telemetry record from a controller status.
func NewTelemetry(st logic.Status) Telemetry {
	return Telemetry{
		Timestamp:          st.Time.UTC().Format(time.RFC3339),
		Input:              round2(st.Cell.Input),
		Output:             round2(st.Cell.Output),
		Setpoint:           st.Cell.Setpoint,
		Kp:                 st.Cell.Tunings.Kp,
		Ki:                 st.Cell.Tunings.Ki,
		Kd:                 st.Cell.Tunings.Kd,
		Mode:               st.Cell.Mode.String(),
		Profile:            string(st.Profile),
		Heater:             st.Cell.HeaterOn,
		Valve:              st.Relays.Valve,
		Pump:               st.Relays.Pump,
		HeatRate:           round2(st.HeatRate),
		HeatRateAverage:    round2(st.HeatRateAverage),
		HeatRateAverageMin: round2(st.HeatRateAverageMin),
		BrewState:          int(st.BrewState),
		BrewElapsed:        round2(st.BrewElapsed.Seconds()),
		Weight:             round2(st.Weight),
		BackflushState:     int(st.BackflushState),
		FlushCycles:        st.FlushCycles,
		Detecting:          st.Detecting,
		SensorFault:        st.SensorFault,
		EmergencyStop:      st.EmergencyStop,
		ColdStart:          st.ColdStart,
	}
}

// FormatTelemetryPayload creates the JSON payload for a telemetry record.
func FormatTelemetryPayload(t Telemetry) ([]byte, error) {
	return json.Marshal(t)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}

// ParamUpdate is one remotely set parameter.
type ParamUpdate struct {
	Name  string
	Value float64
}

// ParseParam extracts a parameter update from a message on a
// TopicSetPrefix topic. The payload is a plain number.
func ParseParam(topic string, payload []byte) (ParamUpdate, error) {
	name, ok := strings.CutPrefix(topic, TopicSetPrefix)
	if !ok || name == "" || strings.Contains(name, "/") {
		return ParamUpdate{}, fmt.Errorf("unexpected topic %q", topic)
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil {
		return ParamUpdate{}, fmt.Errorf("parse %s: %w", name, err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return ParamUpdate{}, fmt.Errorf("parse %s: not a finite number", name)
	}
	return ParamUpdate{Name: name, Value: value}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
