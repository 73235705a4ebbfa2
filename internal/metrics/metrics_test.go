package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/espresso-pid/internal/logic"
)

func sampleStatus() logic.Status {
	return logic.Status{
		Cell: logic.CellSnapshot{
			Input:    93.5,
			Output:   420,
			Setpoint: 95,
			Mode:     logic.ModeAuto,
			HeaterOn: true,
		},
		Relays:          logic.Relays{Valve: true, Pump: true},
		BrewState:       logic.BrewBrewingWait,
		BrewElapsed:     12 * time.Second,
		Weight:          18.5,
		BackflushState:  logic.BackflushIdle,
		HeatRateAverage: -160,
		Profile:         logic.ProfileBrewOverride,
		Detecting:       true,
	}
}

func TestUpdateGauges(t *testing.T) {
	m := New()
	m.Update(sampleStatus())

	assert.Equal(t, 93.5, testutil.ToFloat64(m.input))
	assert.Equal(t, 420.0, testutil.ToFloat64(m.output))
	assert.Equal(t, 95.0, testutil.ToFloat64(m.setpoint))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.brewElapsed))
	assert.Equal(t, 18.5, testutil.ToFloat64(m.weight))
	assert.Equal(t, 41.0, testutil.ToFloat64(m.brewState))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.backflushState))
	assert.Equal(t, -160.0, testutil.ToFloat64(m.heatRateAvg))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.flags.WithLabelValues("heater")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.flags.WithLabelValues("pump")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.flags.WithLabelValues("sensor_fault")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.flags.WithLabelValues("pid_auto")))
}

func TestUpdateProfileIsExclusive(t *testing.T) {
	m := New()
	m.Update(sampleStatus())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.profile.WithLabelValues("BREW")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.profile.WithLabelValues("STEADY")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.profile.WithLabelValues("STARTUP")))

	st := sampleStatus()
	st.Profile = logic.ProfileSteady
	m.Update(st)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.profile.WithLabelValues("BREW")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.profile.WithLabelValues("STEADY")))
}

func TestUpdateCountsEvents(t *testing.T) {
	m := New()

	st := sampleStatus()
	st.Events = []logic.Event{{Type: logic.EventBrewStart}, {Type: logic.EventDetectionWindow}}
	m.Update(st)

	st.Events = []logic.Event{{Type: logic.EventBrewEnd}}
	m.Update(st)

	// Statuses without events leave the counters alone.
	st.Events = nil
	m.Update(st)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("BREW_START")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("BREW_END")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.events.WithLabelValues("DETECTION_WINDOW")))
}

func TestHeaterErrorsAndMQTT(t *testing.T) {
	m := New()
	m.HeaterError()
	m.HeaterError()
	m.SetMQTTConnected(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.heaterErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.mqttConnected))

	m.SetMQTTConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.mqttConnected))
}

func TestHandlerExposition(t *testing.T) {
	m := New()
	m.Update(sampleStatus())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, 200, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "espresso_boiler_temperature_celsius 93.5")
	assert.Contains(t, string(body), `espresso_tuning_profile{profile="BREW"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestRegistryGathers(t *testing.T) {
	m := New()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
