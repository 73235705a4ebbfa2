package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/espresso-pid/internal/logic"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "espresso.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, 95.0, cfg.Control.Setpoint)
	assert.True(t, cfg.Control.PIDEnabled)
	assert.False(t, cfg.Control.PIDOnly)
	assert.Equal(t, time.Second, cfg.Control.SampleTime)
	assert.Equal(t, 10*time.Millisecond, cfg.Control.Tick)
	assert.Equal(t, GainsConfig{Kp: 69, Tn: 399, Tv: 0}, cfg.Tuning.Steady)
	assert.Equal(t, "software", cfg.Detection.Mode)
	assert.Equal(t, 10, cfg.Safety.SensorFaultThreshold)
	assert.Equal(t, 120.0, cfg.Safety.EmergencyTrip)
	assert.Equal(t, 100.0, cfg.Safety.EmergencyClear)
	assert.Empty(t, cfg.Validate(), "defaults must validate cleanly")
}

func TestLoad_FileNotExists(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_ValidYAML(t *testing.T) {
	path := writeConfig(t, `
control:
  setpoint: 93.5
  pid_only: true
tuning:
  steady:
    kp: 70
    tn: 400
brew:
  preinfusion: 3s
  brew: 28s
backflush:
  enabled: true
  max_cycles: 3
detection:
  mode: "off"
gpio:
  relay_active_high: true
mqtt:
  broker: tcp://localhost:1883
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 93.5, cfg.Control.Setpoint)
	assert.True(t, cfg.Control.PIDOnly)
	assert.True(t, cfg.Control.PIDEnabled, "absent fields keep their defaults")
	assert.Equal(t, GainsConfig{Kp: 70, Tn: 400}, cfg.Tuning.Steady)
	assert.Equal(t, 3*time.Second, cfg.Brew.PreInfusion)
	assert.Equal(t, 5*time.Second, cfg.Brew.Pause)
	assert.Equal(t, 28*time.Second, cfg.Brew.Brew)
	assert.True(t, cfg.Backflush.Enabled)
	assert.Equal(t, 3, cfg.Backflush.MaxCycles)
	assert.Equal(t, "off", cfg.Detection.Mode)
	assert.True(t, cfg.GPIO.RelayActiveHigh)
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.Broker)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "control: [not: a: map")

	cfg, err := Load(path)
	assert.Error(t, err)
	require.NotNil(t, cfg, "defaults are returned with the error")
	assert.Equal(t, Default(), cfg)
}

func TestSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")

	cfg := Default()
	cfg.Control.Setpoint = 92
	cfg.Brew.TargetWeight = 36
	cfg.Detection.Window = 30 * time.Second
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestValidate_FallsBackToDefaults(t *testing.T) {
	cfg := Default()
	cfg.Control.Setpoint = 200
	cfg.Tuning.Brew.Kp = -1
	cfg.Detection.Mode = "scale"
	cfg.Safety.EmergencyClear = 130
	cfg.Safety.SensorFaultThreshold = 0
	cfg.Control.Poll = 0

	warnings := cfg.Validate()
	assert.Len(t, warnings, 6)

	def := Default()
	assert.Equal(t, def.Control.Setpoint, cfg.Control.Setpoint)
	assert.Equal(t, def.Tuning.Brew, cfg.Tuning.Brew)
	assert.Equal(t, def.Detection.Mode, cfg.Detection.Mode)
	assert.Equal(t, def.Safety.EmergencyClear, cfg.Safety.EmergencyClear)
	assert.Equal(t, def.Safety.SensorFaultThreshold, cfg.Safety.SensorFaultThreshold)
	assert.Equal(t, def.Control.Poll, cfg.Control.Poll)
}

func TestValidate_Tick(t *testing.T) {
	tests := []struct {
		tick time.Duration
		ok   bool
	}{
		{10 * time.Millisecond, true},
		{20 * time.Millisecond, true},
		{50 * time.Millisecond, true},
		{time.Millisecond, true},
		{time.Second, true},
		{0, false},
		{500 * time.Microsecond, false},
		{1500 * time.Microsecond, false},
		{30 * time.Millisecond, false},
		{2 * time.Second, false},
	}
	for _, tt := range tests {
		t.Run(tt.tick.String(), func(t *testing.T) {
			cfg := Default()
			cfg.Control.Tick = tt.tick
			warnings := cfg.Validate()
			if tt.ok {
				assert.Empty(t, warnings)
				assert.Equal(t, tt.tick, cfg.Control.Tick)
			} else {
				assert.Len(t, warnings, 1)
				assert.Equal(t, Default().Control.Tick, cfg.Control.Tick)
			}
		})
	}
}

func TestValidate_PIDOnlyRejectsHardwareDetection(t *testing.T) {
	cfg := Default()
	cfg.Control.PIDOnly = true
	cfg.Detection.Mode = "hardware"

	warnings := cfg.Validate()
	require.Len(t, warnings, 1)
	assert.Equal(t, "software", cfg.Detection.Mode)
	assert.NoError(t, cfg.Logic().Validate())
}

func TestLogic(t *testing.T) {
	cfg := Default()
	cfg.Detection.Mode = "hardware"
	cfg.Control.ProportionalOnError = false
	cfg.Backflush.Enabled = true

	lc := cfg.Logic()
	assert.Equal(t, logic.DetectHardware, lc.Detection)
	assert.Equal(t, logic.ProportionalOnMeasurement, lc.SteadyPOn)
	assert.True(t, lc.BackflushEnabled)
	assert.Equal(t, logic.Gains{Kp: 69, Tn: 399}, lc.Steady)
	assert.Equal(t, 32*time.Second, lc.Brew.Total())
	assert.NoError(t, lc.Validate())
}

func TestLogicMatchesCoreDefaults(t *testing.T) {
	assert.Equal(t, logic.DefaultConfig(), Default().Logic())
}

func TestApplyParam(t *testing.T) {
	tests := []struct {
		name  string
		value float64
		check func(t *testing.T, c *Config)
	}{
		{"setpoint", 93, func(t *testing.T, c *Config) { assert.Equal(t, 93.0, c.Control.Setpoint) }},
		{"steady_kp", 72, func(t *testing.T, c *Config) { assert.Equal(t, 72.0, c.Tuning.Steady.Kp) }},
		{"brew_tv", 15, func(t *testing.T, c *Config) { assert.Equal(t, 15.0, c.Tuning.Brew.Tv) }},
		{"startup_tn", 120, func(t *testing.T, c *Config) { assert.Equal(t, 120.0, c.Tuning.Startup.Tn) }},
		{"preinfusion_seconds", 1.5, func(t *testing.T, c *Config) { assert.Equal(t, 1500*time.Millisecond, c.Brew.PreInfusion) }},
		{"brew_seconds", 30, func(t *testing.T, c *Config) { assert.Equal(t, 30*time.Second, c.Brew.Brew) }},
		{"detection_seconds", 60, func(t *testing.T, c *Config) { assert.Equal(t, time.Minute, c.Detection.Window) }},
		{"target_weight", 40, func(t *testing.T, c *Config) { assert.Equal(t, 40.0, c.Brew.TargetWeight) }},
		{"pid_on", 0, func(t *testing.T, c *Config) { assert.False(t, c.Control.PIDEnabled) }},
		{"backflush_on", 1, func(t *testing.T, c *Config) { assert.True(t, c.Backflush.Enabled) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			require.NoError(t, cfg.ApplyParam(tt.name, tt.value))
			tt.check(t, cfg)
		})
	}
}

func TestApplyParam_Rejects(t *testing.T) {
	cfg := Default()

	assert.ErrorIs(t, cfg.ApplyParam("espresso", 1), ErrUnknownParam)
	assert.Error(t, cfg.ApplyParam("steady_kp", -1))
	assert.Error(t, cfg.ApplyParam("setpoint", 0))
	assert.Error(t, cfg.ApplyParam("setpoint", 160))
	assert.Error(t, cfg.ApplyParam("detection_seconds", 0))
	assert.Error(t, cfg.ApplyParam("brew_kp", math.Inf(1)))
	assert.Error(t, cfg.ApplyParam("brew_kp", math.NaN()))
	assert.Equal(t, Default(), cfg, "rejected params leave the config unchanged")
}

func TestParamsAreAllApplicable(t *testing.T) {
	for _, name := range Params {
		cfg := Default()
		assert.NoError(t, cfg.ApplyParam(name, 1), name)
	}
}
