// Package metrics exports controller state as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/espresso-pid/internal/logic"
)

const namespace = "espresso"

var profiles = []logic.ProfileName{logic.ProfileStartup, logic.ProfileSteady, logic.ProfileBrewOverride}

// Metrics holds the collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	input       prometheus.Gauge
	output      prometheus.Gauge
	setpoint    prometheus.Gauge
	heatRate    prometheus.Gauge
	heatRateAvg prometheus.Gauge
	brewElapsed prometheus.Gauge
	weight      prometheus.Gauge
	flushCycles prometheus.Gauge

	brewState      prometheus.Gauge
	backflushState prometheus.Gauge
	sensorErrors   prometheus.Gauge

	flags   *prometheus.GaugeVec
	profile *prometheus.GaugeVec
	events  *prometheus.CounterVec

	heaterErrors  prometheus.Counter
	mqttConnected prometheus.Gauge
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
}

// New creates and registers every collector.
func New() *Metrics {
	m := &Metrics{
		reg:         prometheus.NewRegistry(),
		input:       gauge("boiler_temperature_celsius", "Last accepted boiler temperature."),
		output:      gauge("pid_output", "PID output in window units."),
		setpoint:    gauge("setpoint_celsius", "Boiler setpoint."),
		heatRate:    gauge("heat_rate", "Instantaneous heat rate in °C per 10 s."),
		heatRateAvg: gauge("heat_rate_average", "Moving heat-rate average in hundredths of °C per 10 s."),
		brewElapsed: gauge("brew_elapsed_seconds", "Time since the current shot started."),
		weight:      gauge("brew_weight_grams", "Tared weight of the current shot."),
		flushCycles: gauge("backflush_cycles", "Flush cycles started in the current cleaning run."),

		brewState:      gauge("brew_state", "Brew state machine state."),
		backflushState: gauge("backflush_state", "Backflush state machine state."),
		sensorErrors:   gauge("sensor_errors", "Consecutive rejected temperature samples."),

		flags: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "flag",
			Help:      "Boolean controller outputs and interlocks (1 = set).",
		}, []string{"name"}),
		profile: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tuning_profile",
			Help:      "Active tuning profile (1 = active).",
		}, []string{"profile"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Supervisor transition events by type.",
		}, []string{"type"}),

		heaterErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heater_write_errors_total",
			Help:      "Failed heater relay writes.",
		}),
		mqttConnected: gauge("mqtt_connected", "Whether the MQTT client is connected."),
	}

	m.reg.MustRegister(
		m.input, m.output, m.setpoint, m.heatRate, m.heatRateAvg,
		m.brewElapsed, m.weight, m.flushCycles,
		m.brewState, m.backflushState, m.sensorErrors,
		m.flags, m.profile, m.events,
		m.heaterErrors, m.mqttConnected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Update records one control-loop status.
func (m *Metrics) Update(st logic.Status) {
	m.input.Set(st.Cell.Input)
	m.output.Set(st.Cell.Output)
	m.setpoint.Set(st.Cell.Setpoint)
	m.heatRate.Set(st.HeatRate)
	m.heatRateAvg.Set(st.HeatRateAverage)
	m.brewElapsed.Set(st.BrewElapsed.Seconds())
	m.weight.Set(st.Weight)
	m.flushCycles.Set(float64(st.FlushCycles))
	m.brewState.Set(float64(st.BrewState))
	m.backflushState.Set(float64(st.BackflushState))
	m.sensorErrors.Set(float64(st.SensorErrors))

	m.flags.WithLabelValues("heater").Set(b2f(st.Cell.HeaterOn))
	m.flags.WithLabelValues("valve").Set(b2f(st.Relays.Valve))
	m.flags.WithLabelValues("pump").Set(b2f(st.Relays.Pump))
	m.flags.WithLabelValues("sensor_fault").Set(b2f(st.SensorFault))
	m.flags.WithLabelValues("emergency_stop").Set(b2f(st.EmergencyStop))
	m.flags.WithLabelValues("detecting").Set(b2f(st.Detecting))
	m.flags.WithLabelValues("cold_start").Set(b2f(st.ColdStart))
	m.flags.WithLabelValues("pid_auto").Set(b2f(st.Cell.Mode == logic.ModeAuto))

	for _, p := range profiles {
		m.profile.WithLabelValues(string(p)).Set(b2f(st.Profile == p))
	}

	for _, e := range st.Events {
		m.events.WithLabelValues(string(e.Type)).Inc()
	}
}

// HeaterError counts a failed heater relay write.
func (m *Metrics) HeaterError() {
	m.heaterErrors.Inc()
}

// SetMQTTConnected records the broker connection state.
func (m *Metrics) SetMQTTConnected(connected bool) {
	m.mqttConnected.Set(b2f(connected))
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
