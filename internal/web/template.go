package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sweeney/espresso-pid/internal/history"
	"github.com/sweeney/espresso-pid/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"ago":     humanize.Time,
	"comma":   func(n int) string { return humanize.Comma(int64(n)) },
	"num":     func(v float64) string { return humanize.FormatFloat("#,###.#", v) },
	"onoff":   onOff,
	"ms":      func(ms int64) string { return (time.Duration(ms) * time.Millisecond).String() },
	"stateOf": stateOf,
}).Parse(indexHTML))

func stateOf(ready bool, s fmt.Stringer) string {
	if !ready {
		return "UNKNOWN"
	}
	return s.String()
}

func onOff(b bool) string {
	if b {
		return "ON"
	}
	return "OFF"
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Espresso PID</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.unknown { color: orange; }
.alarm { color: red; font-weight: bold; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Espresso PID{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>
{{with .Controller}}
<h2>Boiler</h2>
<table>
<tr><th>Temperature</th><td id="input">{{if $.Ready}}{{num .Cell.Input}} °C{{else}}UNKNOWN{{end}}</td></tr>
<tr><th>Setpoint</th><td id="setpoint">{{num .Cell.Setpoint}} °C</td></tr>
<tr><th>Output</th><td id="output">{{num .Cell.Output}}</td></tr>
<tr><th>Heater</th><td id="heater" class="{{if .Cell.HeaterOn}}on{{else}}off{{end}}">{{onoff .Cell.HeaterOn}}</td></tr>
<tr><th>PID</th><td id="mode">{{.Cell.Mode}}{{if .PIDOnly}} (PID only){{end}}</td></tr>
<tr><th>Profile</th><td id="profile">{{if .Profile}}{{.Profile}}{{else}}UNKNOWN{{end}}{{if .ColdStart}} (cold start){{end}}</td></tr>
<tr><th>Gains</th><td>Kp {{.Cell.Tunings.Kp}} / Ki {{.Cell.Tunings.Ki}} / Kd {{.Cell.Tunings.Kd}}</td></tr>
</table>

<h2>Brew</h2>
<table>
<tr><th>State</th><td id="brew-state">{{stateOf $.Ready .BrewState}}</td></tr>
<tr><th>Elapsed</th><td id="brew-elapsed">{{printf "%.1f" .BrewElapsed.Seconds}}s</td></tr>
<tr><th>Weight</th><td>{{num .Weight}} g</td></tr>
<tr><th>Valve / Pump</th><td>{{onoff .Relays.Valve}} / {{onoff .Relays.Pump}}</td></tr>
<tr><th>Detection</th><td>{{$.Config.Detection}}{{if .Detecting}} <span class="on">window open</span>{{end}}</td></tr>
<tr><th>Heat rate avg</th><td id="heat-rate">{{num .HeatRateAverage}} (min {{num .HeatRateAverageMin}})</td></tr>
</table>

<h2>Backflush</h2>
<table>
<tr><th>Enabled</th><td class="{{if .BackflushEnabled}}on{{else}}off{{end}}">{{onoff .BackflushEnabled}}</td></tr>
<tr><th>State</th><td>{{stateOf $.Ready .BackflushState}}</td></tr>
<tr><th>Cycles</th><td>{{.FlushCycles}} / {{.MaxFlushCycles}}</td></tr>
</table>

<h2>Safety</h2>
<table>
<tr><th>Sensor</th><td class="{{if .SensorFault}}alarm{{end}}">{{if .SensorFault}}FAULT{{else}}ok{{end}} ({{.SensorErrors}} errors)</td></tr>
<tr><th>Emergency stop</th><td class="{{if .EmergencyStop}}alarm{{end}}">{{if .EmergencyStop}}TRIPPED{{else}}clear{{end}}</td></tr>
</table>

<h2>Event Counts</h2>
<table>
<tr><th>Shots</th><td>{{comma .Counts.Shots}}</td></tr>
<tr><th>Aborts</th><td>{{comma .Counts.Aborts}}</td></tr>
<tr><th>Backflushes</th><td>{{comma .Counts.Backflushes}}</td></tr>
<tr><th>Sensor faults</th><td>{{comma .Counts.SensorFaults}}</td></tr>
<tr><th>Emergency stops</th><td>{{comma .Counts.EmergencyStops}}</td></tr>
<tr><th>Detections</th><td>{{comma .Counts.Detections}}</td></tr>
</table>
{{end}}
{{if .Shots}}
<h2>Recent Shots</h2>
<table>
<tr><th>When</th><th>Time</th><th>Weight</th></tr>
{{range .Shots}}<tr><td>{{ago .Start}}</td><td>{{printf "%.1f" .Duration}}s{{if .Aborted}} (aborted){{end}}</td><td>{{num .Weight}} g</td></tr>
{{end}}</table>
{{end}}
<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}} ({{ago .StartTime}})</td></tr>
{{if .System}}<tr><th>Load</th><td>{{printf "%.2f %.2f %.2f" .System.Load1 .System.Load5 .System.Load15}}</td></tr>
<tr><th>Memory</th><td>{{printf "%.0f" .System.MemUsedPercent}}%</td></tr>{{end}}
<tr><th>Poll / Tick</th><td>{{ms .Config.PollMs}} / {{ms .Config.TickMs}}</td></tr>
<tr><th>Debounce</th><td>{{ms .Config.DebounceMs}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{ms .Config.HeartbeatMs}}{{end}}</td></tr>
<tr><th>Telemetry</th><td>{{if eq .Config.TelemetryMs 0}}disabled{{else}}{{ms .Config.TelemetryMs}}{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
{{if .Config.Simulated}}<tr><th>Mode</th><td class="unknown">simulated</td></tr>{{end}}
</table>

<p><a href="/index.json">JSON</a> | <a href="/shots.json">Shots</a> | <a href="/metrics">Metrics</a></p>
{{if .Config.WSBroker}}
<script src="/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var topic = "espresso/pid/telemetry";
  var dot = document.getElementById("live-dot");

  function set(id, text) {
    var el = document.getElementById(id);
    if (el) { el.textContent = text; }
  }

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });

  client.on("reconnect", function() {
    setDot("pending", "reconnecting");
  });

  client.on("offline", function() {
    setDot("err", "offline");
  });

  client.on("error", function() {
    setDot("err", "error");
  });

  client.on("message", function(t, payload) {
    try {
      var msg = JSON.parse(payload.toString());
      set("input", msg.input.toFixed(1) + " °C");
      set("setpoint", msg.setpoint.toFixed(1) + " °C");
      set("output", msg.output.toFixed(1));
      set("heater", msg.heater ? "ON" : "OFF");
      document.getElementById("heater").className = msg.heater ? "on" : "off";
      set("mode", msg.mode);
      set("profile", msg.profile);
      set("brew-elapsed", msg.brew_elapsed.toFixed(1) + "s");
      set("heat-rate", msg.heat_rate_avg.toFixed(1) + " (min " + msg.heat_rate_avg_min.toFixed(1) + ")");
    } catch (e) {}
  });
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot, shots []history.Shot) error {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Shots  []history.Shot
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Shots:    shots,
	}
	return indexTmpl.Execute(w, data)
}
