// Package config loads and persists the controller configuration.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sweeney/espresso-pid/internal/gpio"
	"github.com/sweeney/espresso-pid/internal/logic"
)

// Config represents the application configuration.
type Config struct {
	Control   ControlConfig   `yaml:"control"`
	Tuning    TuningConfig    `yaml:"tuning"`
	Brew      BrewConfig      `yaml:"brew"`
	Backflush BackflushConfig `yaml:"backflush"`
	Detection DetectionConfig `yaml:"detection"`
	Safety    SafetyConfig    `yaml:"safety"`
	GPIO      GPIOConfig      `yaml:"gpio"`
	Serial    SerialConfig    `yaml:"serial"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	HTTP      HTTPConfig      `yaml:"http"`
}

// ControlConfig contains the temperature loop settings.
type ControlConfig struct {
	Setpoint            float64       `yaml:"setpoint"`
	PIDEnabled          bool          `yaml:"pid_enabled"`
	PIDOnly             bool          `yaml:"pid_only"` // no valve/pump control
	ProportionalOnError bool          `yaml:"proportional_on_error"`
	SampleTime          time.Duration `yaml:"sample_time"` // PID compute interval
	Tick                time.Duration `yaml:"tick"`        // heater time-proportioning step
	Poll                time.Duration `yaml:"poll"`        // control loop interval
}

// GainsConfig is one tuning profile. Tn and Tv are in seconds.
type GainsConfig struct {
	Kp float64 `yaml:"kp"`
	Tn float64 `yaml:"tn"`
	Tv float64 `yaml:"tv"`
}

// TuningConfig contains the three tuning profiles.
type TuningConfig struct {
	Startup GainsConfig `yaml:"startup"`
	Steady  GainsConfig `yaml:"steady"`
	Brew    GainsConfig `yaml:"brew"`
}

// BrewConfig contains shot timing.
type BrewConfig struct {
	PreInfusion  time.Duration `yaml:"preinfusion"`
	Pause        time.Duration `yaml:"pause"`
	Brew         time.Duration `yaml:"brew"`
	TargetWeight float64       `yaml:"target_weight"` // grams, 0 disables
}

// BackflushConfig contains cleaning cycle settings.
type BackflushConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Fill      time.Duration `yaml:"fill"`
	Flush     time.Duration `yaml:"flush"`
	MaxCycles int           `yaml:"max_cycles"`
}

// DetectionConfig contains brew detection settings.
type DetectionConfig struct {
	Mode      string        `yaml:"mode"` // off, software, hardware
	Threshold float64       `yaml:"threshold"`
	Window    time.Duration `yaml:"window"`
}

// SafetyConfig contains the sensor fault and over-temperature limits.
type SafetyConfig struct {
	SensorFaultThreshold int     `yaml:"sensor_fault_threshold"`
	EmergencyTrip        float64 `yaml:"emergency_trip"`
	EmergencyClear       float64 `yaml:"emergency_clear"`
}

// GPIOConfig contains pin assignments.
type GPIOConfig struct {
	Chip            string        `yaml:"chip"`
	Switch          int           `yaml:"switch"`
	Valve           int           `yaml:"valve"`
	Pump            int           `yaml:"pump"`
	Heater          int           `yaml:"heater"`
	RelayActiveHigh bool          `yaml:"relay_active_high"`
	Debounce        time.Duration `yaml:"debounce"`
}

// SerialConfig contains the sensor bridge port.
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// MQTTConfig contains broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker    string        `yaml:"broker"`
	ClientID  string        `yaml:"client_id"`
	Heartbeat time.Duration `yaml:"heartbeat"`
	Telemetry time.Duration `yaml:"telemetry"`
}

// HTTPConfig contains the status server settings.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	lc := logic.DefaultConfig()
	pins := gpio.DefaultPins()
	return &Config{
		Control: ControlConfig{
			Setpoint:            lc.Setpoint,
			PIDEnabled:          lc.PIDEnabled,
			ProportionalOnError: lc.SteadyPOn == logic.ProportionalOnError,
			SampleTime:          time.Second,
			Tick:                10 * time.Millisecond,
			Poll:                100 * time.Millisecond,
		},
		Tuning: TuningConfig{
			Startup: GainsConfig(lc.Startup),
			Steady:  GainsConfig(lc.Steady),
			Brew:    GainsConfig(lc.BrewGains),
		},
		Brew: BrewConfig{
			PreInfusion:  lc.Brew.PreInfusion,
			Pause:        lc.Brew.Pause,
			Brew:         lc.Brew.Brew,
			TargetWeight: lc.Brew.TargetWeight,
		},
		Backflush: BackflushConfig{
			Enabled:   lc.BackflushEnabled,
			Fill:      lc.Backflush.Fill,
			Flush:     lc.Backflush.Flush,
			MaxCycles: lc.Backflush.MaxCycles,
		},
		Detection: DetectionConfig{
			Mode:      lc.Detection.String(),
			Threshold: lc.DetectionThreshold,
			Window:    lc.DetectionWindow,
		},
		Safety: SafetyConfig{
			SensorFaultThreshold: lc.SensorFaultThreshold,
			EmergencyTrip:        lc.EmergencyTrip,
			EmergencyClear:       lc.EmergencyClear,
		},
		GPIO: GPIOConfig{
			Chip:            "gpiochip0",
			Switch:          pins.Switch,
			Valve:           pins.Valve,
			Pump:            pins.Pump,
			Heater:          pins.Heater,
			RelayActiveHigh: false,
			Debounce:        logic.DefaultSwitchDebounce,
		},
		Serial: SerialConfig{
			Port:     "/dev/ttyACM0",
			BaudRate: 115200,
		},
		MQTT: MQTTConfig{
			ClientID:  "espresso-pid",
			Heartbeat: 15 * time.Minute,
			Telemetry: 5 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr: ":80",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist the
// defaults are returned. If it cannot be read or parsed the defaults are
// returned together with the error, so a broken file never stops the
// machine from heating.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, return defaults
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return Default(), fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate resets out-of-range fields to their defaults and returns one
// warning per field it changed.
func (c *Config) Validate() []string {
	def := Default()
	var warnings []string
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	if c.Control.Setpoint <= 0 || c.Control.Setpoint >= logic.SensorMaxC {
		warn("setpoint %.1f out of range, using %.1f", c.Control.Setpoint, def.Control.Setpoint)
		c.Control.Setpoint = def.Control.Setpoint
	}
	if c.Control.SampleTime <= 0 {
		warn("sample_time %v invalid, using %v", c.Control.SampleTime, def.Control.SampleTime)
		c.Control.SampleTime = def.Control.SampleTime
	}
	if !logic.ValidTick(c.Control.Tick) {
		warn("tick %v must be whole milliseconds dividing %d ms, using %v", c.Control.Tick, logic.DefaultWindowSize, def.Control.Tick)
		c.Control.Tick = def.Control.Tick
	}
	if c.Control.Poll <= 0 {
		warn("poll %v invalid, using %v", c.Control.Poll, def.Control.Poll)
		c.Control.Poll = def.Control.Poll
	}

	gains := []struct {
		name string
		g    *GainsConfig
		def  GainsConfig
	}{
		{"startup", &c.Tuning.Startup, def.Tuning.Startup},
		{"steady", &c.Tuning.Steady, def.Tuning.Steady},
		{"brew", &c.Tuning.Brew, def.Tuning.Brew},
	}
	for _, g := range gains {
		if g.g.Kp < 0 || g.g.Tn < 0 || g.g.Tv < 0 {
			warn("%s tuning has negative values, using defaults", g.name)
			*g.g = g.def
		}
	}

	if c.Brew.PreInfusion < 0 || c.Brew.Pause < 0 || c.Brew.Brew < 0 {
		warn("brew durations must not be negative, using defaults")
		c.Brew.PreInfusion, c.Brew.Pause, c.Brew.Brew = def.Brew.PreInfusion, def.Brew.Pause, def.Brew.Brew
	}
	if c.Brew.TargetWeight < 0 {
		warn("target_weight %.1f invalid, disabling", c.Brew.TargetWeight)
		c.Brew.TargetWeight = 0
	}

	if c.Backflush.Fill < 0 || c.Backflush.Flush < 0 || c.Backflush.MaxCycles < 0 {
		warn("backflush settings must not be negative, using defaults")
		c.Backflush.Fill, c.Backflush.Flush, c.Backflush.MaxCycles = def.Backflush.Fill, def.Backflush.Flush, def.Backflush.MaxCycles
	}

	mode, err := logic.ParseDetectionMode(c.Detection.Mode)
	if err != nil {
		warn("%v, using %s", err, def.Detection.Mode)
		c.Detection.Mode = def.Detection.Mode
		mode, _ = logic.ParseDetectionMode(c.Detection.Mode)
	}
	if c.Control.PIDOnly && mode == logic.DetectHardware {
		warn("hardware brew detection needs valve/pump control, using software detection in pid_only mode")
		c.Detection.Mode = logic.DetectSoftware.String()
	}
	if c.Detection.Threshold < 0 {
		warn("detection threshold %.1f invalid, using %.1f", c.Detection.Threshold, def.Detection.Threshold)
		c.Detection.Threshold = def.Detection.Threshold
	}
	if c.Detection.Window <= 0 {
		warn("detection window %v invalid, using %v", c.Detection.Window, def.Detection.Window)
		c.Detection.Window = def.Detection.Window
	}

	if c.Safety.SensorFaultThreshold <= 0 {
		warn("sensor_fault_threshold %d invalid, using %d", c.Safety.SensorFaultThreshold, def.Safety.SensorFaultThreshold)
		c.Safety.SensorFaultThreshold = def.Safety.SensorFaultThreshold
	}
	if c.Safety.EmergencyTrip <= 0 || c.Safety.EmergencyClear <= 0 || c.Safety.EmergencyClear >= c.Safety.EmergencyTrip {
		warn("emergency thresholds %.1f/%.1f invalid, using %.1f/%.1f",
			c.Safety.EmergencyTrip, c.Safety.EmergencyClear, def.Safety.EmergencyTrip, def.Safety.EmergencyClear)
		c.Safety.EmergencyTrip, c.Safety.EmergencyClear = def.Safety.EmergencyTrip, def.Safety.EmergencyClear
	}

	if c.GPIO.Debounce < 0 {
		warn("debounce %v invalid, using %v", c.GPIO.Debounce, def.GPIO.Debounce)
		c.GPIO.Debounce = def.GPIO.Debounce
	}
	if c.GPIO.Chip == "" {
		c.GPIO.Chip = def.GPIO.Chip
	}
	if c.Serial.BaudRate <= 0 {
		c.Serial.BaudRate = def.Serial.BaudRate
	}

	return warnings
}

// Logic converts the file configuration into the control core
// configuration. Call Validate first.
func (c *Config) Logic() logic.Config {
	mode, _ := logic.ParseDetectionMode(c.Detection.Mode)
	pOn := logic.ProportionalOnMeasurement
	if c.Control.ProportionalOnError {
		pOn = logic.ProportionalOnError
	}
	return logic.Config{
		Setpoint:   c.Control.Setpoint,
		PIDEnabled: c.Control.PIDEnabled,
		PIDOnly:    c.Control.PIDOnly,
		Startup:    logic.Gains(c.Tuning.Startup),
		Steady:     logic.Gains(c.Tuning.Steady),
		BrewGains:  logic.Gains(c.Tuning.Brew),
		SteadyPOn:  pOn,
		Brew: logic.BrewTimings{
			PreInfusion:  c.Brew.PreInfusion,
			Pause:        c.Brew.Pause,
			Brew:         c.Brew.Brew,
			TargetWeight: c.Brew.TargetWeight,
		},
		Backflush: logic.BackflushTimings{
			Fill:      c.Backflush.Fill,
			Flush:     c.Backflush.Flush,
			MaxCycles: c.Backflush.MaxCycles,
		},
		BackflushEnabled:     c.Backflush.Enabled,
		Detection:            mode,
		DetectionThreshold:   c.Detection.Threshold,
		DetectionWindow:      c.Detection.Window,
		SensorFaultThreshold: c.Safety.SensorFaultThreshold,
		EmergencyTrip:        c.Safety.EmergencyTrip,
		EmergencyClear:       c.Safety.EmergencyClear,
	}
}

// Pins returns the GPIO pin assignment.
func (c *Config) Pins() gpio.Pins {
	return gpio.Pins{
		Switch: c.GPIO.Switch,
		Valve:  c.GPIO.Valve,
		Pump:   c.GPIO.Pump,
		Heater: c.GPIO.Heater,
	}
}

// ErrUnknownParam is returned by ApplyParam for names it does not handle.
var ErrUnknownParam = errors.New("unknown parameter")

// Params lists the names accepted by ApplyParam.
var Params = []string{
	"setpoint",
	"steady_kp", "steady_tn", "steady_tv",
	"brew_kp", "brew_tn", "brew_tv",
	"startup_kp", "startup_tn",
	"preinfusion_seconds", "pause_seconds", "brew_seconds",
	"detection_seconds", "detection_threshold",
	"target_weight",
	"pid_on", "backflush_on",
}

// ApplyParam sets one remotely synced parameter. Durations are given in
// seconds and switches as 0 or 1. Negative or non-finite values are
// rejected.
func (c *Config) ApplyParam(name string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%s: not a finite number", name)
	}
	if value < 0 {
		return fmt.Errorf("%s: negative value %v", name, value)
	}
	seconds := time.Duration(value * float64(time.Second))

	switch name {
	case "setpoint":
		if value == 0 || value >= logic.SensorMaxC {
			return fmt.Errorf("setpoint %v out of range", value)
		}
		c.Control.Setpoint = value
	case "steady_kp":
		c.Tuning.Steady.Kp = value
	case "steady_tn":
		c.Tuning.Steady.Tn = value
	case "steady_tv":
		c.Tuning.Steady.Tv = value
	case "brew_kp":
		c.Tuning.Brew.Kp = value
	case "brew_tn":
		c.Tuning.Brew.Tn = value
	case "brew_tv":
		c.Tuning.Brew.Tv = value
	case "startup_kp":
		c.Tuning.Startup.Kp = value
	case "startup_tn":
		c.Tuning.Startup.Tn = value
	case "preinfusion_seconds":
		c.Brew.PreInfusion = seconds
	case "pause_seconds":
		c.Brew.Pause = seconds
	case "brew_seconds":
		c.Brew.Brew = seconds
	case "detection_seconds":
		if seconds == 0 {
			return fmt.Errorf("detection_seconds must be positive")
		}
		c.Detection.Window = seconds
	case "detection_threshold":
		c.Detection.Threshold = value
	case "target_weight":
		c.Brew.TargetWeight = value
	case "pid_on":
		c.Control.PIDEnabled = value != 0
	case "backflush_on":
		c.Backflush.Enabled = value != 0
	default:
		return fmt.Errorf("%w: %s", ErrUnknownParam, name)
	}
	return nil
}
