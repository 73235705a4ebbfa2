// Command espresso-pid regulates an espresso machine boiler with a PID loop,
// sequences shots and backflush cycles, and publishes state to MQTT.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/sweeney/espresso-pid/internal/config"
	"github.com/sweeney/espresso-pid/internal/gpio"
	"github.com/sweeney/espresso-pid/internal/history"
	"github.com/sweeney/espresso-pid/internal/logic"
	"github.com/sweeney/espresso-pid/internal/metrics"
	"github.com/sweeney/espresso-pid/internal/mqtt"
	"github.com/sweeney/espresso-pid/internal/sensor"
	"github.com/sweeney/espresso-pid/internal/status"
	"github.com/sweeney/espresso-pid/internal/web"
)

// paramQueueSize bounds pending remote parameter updates.
const paramQueueSize = 16

var (
	app        = kingpin.New("espresso-pid", "Espresso machine boiler controller")
	configPath = app.Flag("config", "Configuration file (YAML)").Short('c').Default("/etc/espresso-pid/config.yaml").String()
	poll       = app.Flag("poll", "Control loop interval (overrides config)").Duration()
	tick       = app.Flag("tick", "Heater time-proportioning tick (overrides config)").Duration()
	debounce   = app.Flag("debounce", "Brew switch debounce (overrides config)").Duration()
	broker     = app.Flag("broker", "MQTT broker address (overrides config)").String()
	heartbeat  = app.Flag("heartbeat", "Heartbeat interval (overrides config)").Duration()
	telemetry  = app.Flag("telemetry", "Telemetry interval (overrides config)").Duration()
	httpAddr   = app.Flag("http", "HTTP status address (overrides config)").String()
	wsBroker   = app.Flag("ws-broker", `MQTT websocket URL for live UI ("=broker" derives from the broker, "off" disables)`).Default("=broker").String()
	serialPort = app.Flag("serial", "Sensor bridge serial port (overrides config)").String()
	shotsDB    = app.Flag("shots-db", "Shot history database (empty disables)").Default("/var/lib/espresso-pid/shots.db").String()
	simulate   = app.Flag("simulate", "Run against a simulated machine instead of GPIO and serial").Bool()
	printState = app.Flag("print-state", "Print switch and sensor readings and exit").Bool()
	persist    = app.Flag("persist", "Write remotely set parameters back to the config file").Bool()
	verbose    = app.Flag("verbose", "Verbose logging").Short('v').Bool()
	pinSwitch  = app.Flag("pin-switch", "BCM pin of the brew switch (overrides config)").Default("-1").Int()
	pinValve   = app.Flag("pin-valve", "BCM pin of the valve relay (overrides config)").Default("-1").Int()
	pinPump    = app.Flag("pin-pump", "BCM pin of the pump relay (overrides config)").Default("-1").Int()
	pinHeater  = app.Flag("pin-heater", "BCM pin of the heater relay (overrides config)").Default("-1").Int()
)

func main() {
	kingpin.MustParse(app.Parse(os.Args[1:]))
	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Warnf("config %s: %v, using defaults", *configPath, err)
	}
	applyFlags(cfg)
	for _, w := range cfg.Validate() {
		log.Warnf("config: %s", w)
	}

	opts := options{
		configPath: *configPath,
		persist:    *persist,
		printState: *printState,
		simulate:   *simulate,
		wsBroker:   resolveWSBroker(*wsBroker, cfg.MQTT.Broker),
		shotsDB:    *shotsDB,
	}
	if err := run(cfg, opts); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// applyFlags overrides config values with the flags that were given.
func applyFlags(cfg *config.Config) {
	if *poll > 0 {
		cfg.Control.Poll = *poll
	}
	if *tick > 0 {
		cfg.Control.Tick = *tick
	}
	if *debounce > 0 {
		cfg.GPIO.Debounce = *debounce
	}
	if *broker != "" {
		cfg.MQTT.Broker = *broker
	}
	if *heartbeat > 0 {
		cfg.MQTT.Heartbeat = *heartbeat
	}
	if *telemetry > 0 {
		cfg.MQTT.Telemetry = *telemetry
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}
	if *serialPort != "" {
		cfg.Serial.Port = *serialPort
	}
	if *pinSwitch >= 0 {
		cfg.GPIO.Switch = *pinSwitch
	}
	if *pinValve >= 0 {
		cfg.GPIO.Valve = *pinValve
	}
	if *pinPump >= 0 {
		cfg.GPIO.Pump = *pinPump
	}
	if *pinHeater >= 0 {
		cfg.GPIO.Heater = *pinHeater
	}
}

type options struct {
	configPath string
	persist    bool
	printState bool
	simulate   bool
	wsBroker   string
	shotsDB    string
}

// hardware groups the machine I/O.
type hardware struct {
	sw     gpio.SwitchReader
	relays gpio.RelayWriter
	temp   sensor.TemperatureSource
	weight sensor.WeightSource
	close  func() error
}

func openHardware(cfg *config.Config, simulate bool) (*hardware, error) {
	if simulate {
		sim := sensor.NewSim(sensor.DefaultSimConfig(), time.Now)
		log.Infof("running against the simulated machine")
		return &hardware{sw: sim, relays: sim, temp: sim, weight: sim, close: sim.Close}, nil
	}

	board, err := gpio.NewRealBoard(cfg.GPIO.Chip, cfg.Pins(), cfg.GPIO.RelayActiveHigh)
	if err != nil {
		return nil, fmt.Errorf("init gpio: %w", err)
	}
	bridge := sensor.NewSerial(cfg.Serial.Port, cfg.Serial.BaudRate)
	if err := bridge.Connect(); err != nil {
		board.Close()
		return nil, fmt.Errorf("init sensor bridge: %w", err)
	}
	return &hardware{
		sw:     board,
		relays: board,
		temp:   bridge,
		weight: bridge,
		close: func() error {
			return errors.Join(bridge.Close(), board.Close())
		},
	}, nil
}

func run(cfg *config.Config, o options) error {
	hw, err := openHardware(cfg, o.simulate)
	if err != nil {
		return err
	}
	defer func() {
		if err := hw.close(); err != nil {
			log.Errorf("close hardware: %v", err)
		}
	}()

	if o.printState {
		return printReadings(os.Stdout, hw, 2*time.Second)
	}

	lc := cfg.Logic()
	if err := lc.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	cell := logic.NewControlCell(
		logic.NewPID(lc.Setpoint, 0, logic.DefaultWindowSize, cfg.Control.SampleTime),
		logic.NewProportioner(logic.DefaultWindowSize, logic.WindowStep(cfg.Control.Tick)),
		hw.relays,
	)
	startTime := time.Now()
	sup := logic.NewSupervisor(lc, cell, startTime)

	params := make(chan mqtt.ParamUpdate, paramQueueSize)

	// Initialize MQTT
	var publisher mqtt.Publisher = nopPublisher{}
	var mqttStatus mqtt.ConnectionStatus
	if cfg.MQTT.Broker != "" {
		rp, err := mqtt.NewRealPublisher(cfg.MQTT.Broker, cfg.MQTT.ClientID, params)
		if err != nil {
			log.Warnf("MQTT disabled: %v", err)
		} else {
			publisher, mqttStatus = rp, rp
		}
	}
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(startTime, status.Config{
		PollMs:      cfg.Control.Poll.Milliseconds(),
		TickMs:      cfg.Control.Tick.Milliseconds(),
		DebounceMs:  cfg.GPIO.Debounce.Milliseconds(),
		HeartbeatMs: cfg.MQTT.Heartbeat.Milliseconds(),
		TelemetryMs: cfg.MQTT.Telemetry.Milliseconds(),
		Broker:      cfg.MQTT.Broker,
		HTTPPort:    cfg.HTTP.Addr,
		WSBroker:    o.wsBroker,
		Detection:   cfg.Detection.Mode,
		Simulated:   o.simulate,
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	tracker.SetSystem(readSystemInfo())

	m := metrics.New()

	var store history.Appender
	var lister web.ShotLister
	if o.shotsDB != "" {
		shots, err := history.Open(o.shotsDB, history.DefaultMaxShots)
		if err != nil {
			log.Warnf("shot history disabled: %v", err)
		} else {
			defer shots.Close()
			store, lister = shots, shots
		}
	}

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		log.Printf("failed to publish startup event: %v", err)
	} else {
		log.Printf("published startup event")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(cfg.Control.Tick)
		defer ticker.Stop()
		return runHeater(ctx, cell, time.Now, ticker.C, m.HeaterError)
	})

	// Start HTTP status server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, web.Options{
			Metrics:  m.Handler(),
			Shots:    lister,
			SetParam: queueParam(params),
		})
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.Background())
		})
		log.Printf("http status server listening on %s", cfg.HTTP.Addr)
	}

	log.Printf("started: setpoint=%.1f poll=%v tick=%v debounce=%v broker=%s heartbeat=%v telemetry=%v detection=%s",
		cfg.Control.Setpoint, cfg.Control.Poll, cfg.Control.Tick, cfg.GPIO.Debounce,
		cfg.MQTT.Broker, cfg.MQTT.Heartbeat, cfg.MQTT.Telemetry, cfg.Detection.Mode)

	l := &loop{
		sup:        sup,
		cfg:        cfg,
		configPath: o.configPath,
		persist:    o.persist,
		sw:         hw.sw,
		relays:     hw.relays,
		temp:       hw.temp,
		weight:     hw.weight,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		tracker:    tracker,
		metrics:    m,
		recorder:   history.NewRecorder(store, uuid.NewString),
		params:     params,
	}

	g.Go(func() error {
		defer cancel()
		ticker := time.NewTicker(cfg.Control.Poll)
		defer ticker.Stop()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		return runLoop(ctx, l, time.Now, ticker.C, sigCh)
	})

	return g.Wait()
}

// runHeater drives the fixed-period heater tick until ctx is done, then
// forces the heater off. Relay errors are reported on the first failure
// and every 1000th after that.
func runHeater(ctx context.Context, cell *logic.ControlCell, now func() time.Time, tick <-chan time.Time, onError func()) error {
	defer func() {
		if err := cell.ForceOff(); err != nil {
			log.Errorf("heater off on exit: %v", err)
		}
	}()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			err := cell.Tick(now())
			if err == nil {
				if failures > 0 {
					log.Infof("heater relay recovered after %d failed writes", failures)
				}
				failures = 0
				continue
			}
			if onError != nil {
				onError()
			}
			if failures%1000 == 0 {
				log.Errorf("heater relay write failed (%d consecutive): %v", failures+1, err)
			}
			failures++
		}
	}
}

// loop holds the control-loop dependencies.
type loop struct {
	sup        *logic.Supervisor
	cfg        *config.Config
	configPath string
	persist    bool

	sw     gpio.SwitchReader
	relays gpio.RelayWriter
	temp   sensor.TemperatureSource
	weight sensor.WeightSource

	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus
	tracker    *status.Tracker
	metrics    *metrics.Metrics
	recorder   *history.Recorder
	params     <-chan mqtt.ParamUpdate
}

func runLoop(ctx context.Context, l *loop, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	debouncer := logic.NewSwitchDebouncer(l.cfg.GPIO.Debounce)
	var (
		lastRaw       bool
		applied       *logic.Relays
		lastTelemetry time.Time
		sensorFailing bool
	)

	for {
		select {
		case <-ctx.Done():
			l.relaysOff()
			return nil

		case s := <-sig:
			log.Printf("received %v, shutting down", s)
			l.relaysOff()
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    signalName,
				Retained:  true,
			}
			l.refreshConnection()
			snap := l.tracker.Snapshot()
			event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", signalName)
			if err := l.publisher.PublishSystem(event); err != nil {
				log.Printf("failed to publish shutdown event: %v", err)
			} else {
				log.Printf("published shutdown event")
			}
			return nil

		case u := <-l.params:
			l.applyParam(u)

		case <-tick:
			t := now()

			raw, err := l.sw.Read()
			if err != nil {
				log.Warnf("switch read error: %v", err)
				raw = lastRaw
			}
			lastRaw = raw

			temp, fresh, err := l.temp.ReadTemperature()
			if err != nil {
				if !sensorFailing && !errors.Is(err, sensor.ErrNoData) {
					log.Warnf("temperature read error: %v", err)
				}
				sensorFailing = true
				fresh = false
			} else if sensorFailing {
				log.Infof("temperature readings resumed")
				sensorFailing = false
			}

			left, right, werr := l.weight.ReadWeight()

			st := l.sup.Step(logic.LoopInput{
				Now:         t,
				Temperature: logic.TemperatureReading{Value: temp, Fresh: fresh},
				Weight:      logic.WeightReading{Left: left, Right: right, Valid: werr == nil},
				Switch:      debouncer.Process(raw, t),
			})
			if st.HeaterErr != nil {
				log.Errorf("heater off failed: %v", st.HeaterErr)
			}

			if applied == nil || *applied != st.Relays {
				if err := applyRelays(l.relays, st.Relays); err != nil {
					log.Errorf("relay write failed: %v", err)
					applied = nil
				} else {
					r := st.Relays
					applied = &r
				}
			}

			shot, err := l.recorder.Observe(st)
			if err != nil {
				log.Errorf("record shot: %v", err)
			}
			if shot != nil {
				log.Infof("shot %s: %.1fs %.1fg aborted=%v", shot.ID, shot.Duration, shot.Weight, shot.Aborted)
			}

			for _, event := range st.Events {
				log.Printf("event: %s input=%.2f %s", event.Type, event.Input, event.Detail)
				if err := l.publisher.PublishEvent(event, l.shotIDFor(event)); err != nil {
					log.Printf("publish error: %v", err)
					// Don't stop the loop on publish failure
				}
			}

			// Update status tracker for HTTP and metrics consumers
			l.tracker.Update(st)
			l.metrics.Update(st)
			l.refreshConnection()

			if tel := l.cfg.MQTT.Telemetry; tel > 0 && (lastTelemetry.IsZero() || t.Sub(lastTelemetry) >= tel) {
				lastTelemetry = t
				if err := l.publisher.PublishTelemetry(mqtt.NewTelemetry(st)); err != nil {
					log.Debugf("telemetry publish error: %v", err)
				}
			}

			// Check for heartbeat
			if hb := l.sup.CheckHeartbeat(t, l.cfg.MQTT.Heartbeat); hb != nil {
				log.Printf("heartbeat: uptime=%v shots=%d aborts=%d backflushes=%d faults=%d estops=%d",
					hb.Uptime, hb.Counts.Shots, hb.Counts.Aborts, hb.Counts.Backflushes,
					hb.Counts.SensorFaults, hb.Counts.EmergencyStops)

				// Refresh network and load info for heartbeat
				if net := readNetworkInfo(); net != nil {
					l.tracker.SetNetwork(net)
				}
				l.tracker.SetSystem(readSystemInfo())
				snap := l.tracker.Snapshot()
				hbEvent := mqtt.SystemEvent{
					Timestamp:  hb.Timestamp,
					Event:      "HEARTBEAT",
					RawPayload: status.FormatStatusEvent(snap, "HEARTBEAT", ""),
				}
				if err := l.publisher.PublishSystem(hbEvent); err != nil {
					log.Printf("heartbeat publish error: %v", err)
				}
			}
		}
	}
}

// shotIDFor returns the shot ID to attach to an event: brew events always
// carry it, detection and profile events only while a shot is running.
func (l *loop) shotIDFor(e logic.Event) string {
	switch e.Type {
	case logic.EventBrewStart, logic.EventBrewEnd, logic.EventBrewAbort:
		return l.recorder.ShotID()
	case logic.EventDetectionWindow, logic.EventProfileChange:
		if l.recorder.Running() {
			return l.recorder.ShotID()
		}
	}
	return ""
}

func (l *loop) refreshConnection() {
	connected := l.mqttStatus != nil && l.mqttStatus.IsConnected()
	l.tracker.SetMQTTConnected(connected)
	l.metrics.SetMQTTConnected(connected)
}

func (l *loop) relaysOff() {
	if err := applyRelays(l.relays, logic.Relays{}); err != nil {
		log.Errorf("relays off: %v", err)
	}
}

// applyParam applies a remote parameter to a copy of the config and swaps
// it in only if the result is valid.
func (l *loop) applyParam(u mqtt.ParamUpdate) {
	next := *l.cfg
	if err := next.ApplyParam(u.Name, u.Value); err != nil {
		log.Warnf("param %s=%v rejected: %v", u.Name, u.Value, err)
		return
	}
	for _, w := range next.Validate() {
		log.Warnf("config: %s", w)
	}
	lc := next.Logic()
	if err := lc.Validate(); err != nil {
		log.Warnf("param %s=%v rejected: %v", u.Name, u.Value, err)
		return
	}

	*l.cfg = next
	l.sup.SetConfig(lc)
	l.tracker.SetDetection(next.Detection.Mode)
	log.Infof("param %s=%v applied", u.Name, u.Value)

	if l.persist && l.configPath != "" {
		if err := next.Save(l.configPath); err != nil {
			log.Errorf("persist config: %v", err)
		}
	}
}

func applyRelays(w gpio.RelayWriter, r logic.Relays) error {
	return errors.Join(w.SetValve(r.Valve), w.SetPump(r.Pump))
}

// queueParam returns a web.ParamSetter that feeds the control loop.
func queueParam(params chan<- mqtt.ParamUpdate) web.ParamSetter {
	return func(name string, value float64) error {
		if !slices.Contains(config.Params, name) {
			return fmt.Errorf("%w: %s", config.ErrUnknownParam, name)
		}
		select {
		case params <- mqtt.ParamUpdate{Name: name, Value: value}:
			return nil
		default:
			return fmt.Errorf("%s: %w", name, web.ErrParamQueueFull)
		}
	}
}

// printReadings waits up to wait for the first temperature and prints the
// current inputs.
func printReadings(w io.Writer, hw *hardware, wait time.Duration) error {
	sw, err := hw.sw.Read()
	if err != nil {
		return fmt.Errorf("read switch: %w", err)
	}

	deadline := time.Now().Add(wait)
	temp, _, err := hw.temp.ReadTemperature()
	for errors.Is(err, sensor.ErrNoData) && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		temp, _, err = hw.temp.ReadTemperature()
	}
	if err != nil {
		return fmt.Errorf("read temperature: %w", err)
	}

	fmt.Fprintf(w, "Switch: %s, Temperature: %.2f °C", onOff(sw), temp)
	if left, right, err := hw.weight.ReadWeight(); err == nil {
		fmt.Fprintf(w, ", Weight: %.1f g (%.1f + %.1f)", left+right, left, right)
	}
	fmt.Fprintln(w)
	return nil
}

// nopPublisher stands in when MQTT is disabled.
type nopPublisher struct{}

func (nopPublisher) PublishEvent(logic.Event, string) error { return nil }
func (nopPublisher) PublishTelemetry(mqtt.Telemetry) error  { return nil }
func (nopPublisher) PublishSystem(mqtt.SystemEvent) error   { return nil }
func (nopPublisher) Close() error                           { return nil }

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}

// readSystemInfo samples host load. It returns nil when neither figure is
// available.
func readSystemInfo() *status.SystemInfo {
	info := &status.SystemInfo{}
	ok := false
	if avg, err := load.Avg(); err == nil {
		info.Load1, info.Load5, info.Load15 = avg.Load1, avg.Load5, avg.Load15
		ok = true
	} else {
		log.Debugf("load average: %v", err)
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.MemUsedPercent = vm.UsedPercent
		ok = true
	} else {
		log.Debugf("memory stats: %v", err)
	}
	if !ok {
		return nil
	}
	return info
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

// resolveWSBroker converts the --ws-broker flag value into a concrete URL.
// "=broker" derives ws://host:9001 from the TCP broker address; empty disables.
func resolveWSBroker(ws, broker string) string {
	if ws == "off" {
		return ""
	}
	if ws != "=broker" {
		return ws
	}
	if broker == "" {
		return ""
	}
	u, err := url.Parse(broker)
	if err != nil {
		log.Printf("ws-broker: cannot parse broker %q: %v", broker, err)
		return ""
	}
	u.Scheme = "ws"
	u.Host = u.Hostname() + ":9001"
	return u.String()
}
