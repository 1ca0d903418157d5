package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/home-dashboard/internal/device"
	"github.com/sweeney/home-dashboard/internal/status"
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
	"onOff": func(on bool) string {
		if on {
			return "ON"
		}
		return "OFF"
	},
	"signal":       device.SignalStrength,
	"deviceUptime": device.FormatUptime,
	"clock": func(t time.Time, loc *time.Location) string {
		if t.IsZero() {
			return "never"
		}
		return t.In(loc).Format("15:04:05")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Home Dashboard</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.online { color: green; font-weight: bold; }
.offline, .error { color: red; font-weight: bold; }
.unknown { color: orange; }
.fallback { color: #888; font-size: 0.9em; }
.warn { color: #c60; }
.banner { background: #fee; border: 1px solid #c00; padding: 6px 8px; }
.msg-error { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; background: orange; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
</style>
</head>
<body>
<h1>Home Dashboard<span id="live-dot" class="live-dot" title="connecting"></span></h1>

{{if .Banner}}<p class="banner" id="banner">{{.Banner}}</p>{{end}}

<h2>Device</h2>
<table>
<tr><th>Connection</th><td id="conn" class="{{.Connection.Status}}">{{.Connection.Status}}{{if eq (printf "%s" .Connection.Status) "offline"}} ({{.Connection.SecondsOffline}}s){{end}}</td></tr>
<tr><th>Last seen</th><td id="last-seen">{{.Connection.LastSeenFormatted}}</td></tr>
<tr><th>Address</th><td>{{.Config.DeviceAddr}} ({{.Config.Source}})</td></tr>
</table>

<h2>Sensors</h2>
{{if .HasReading}}
<table>
<tr><th>Temperature</th><td id="temperature">{{printf "%.1f" .Reading.Temperature}} °C{{if .Reading.FromFallback}} <span class="fallback">(weather)</span>{{end}}</td></tr>
<tr><th>Humidity</th><td id="humidity">{{printf "%.1f" .Reading.Humidity}} %{{if .Reading.FromFallback}} <span class="fallback">(weather)</span>{{end}}</td></tr>
<tr><th>Light</th><td>{{.Reading.LightLevel}}{{if .Reading.IsDark}} (dark){{end}}</td></tr>
<tr><th>Distance</th><td>{{printf "%.1f" .Reading.Distance}} cm</td></tr>
<tr><th>Motion</th><td>{{if .Reading.MotionDetected}}detected{{else}}none{{end}}</td></tr>
<tr><th>Joystick</th><td>{{.Reading.JoyX}}, {{.Reading.JoyY}}{{if .Reading.JoystickPressed}} (pressed){{end}}</td></tr>
</table>
{{range .Warnings}}<p class="warn">{{.}}</p>{{end}}
{{else}}<p>No reading yet.</p>{{end}}

{{with .Device}}
<h2>Actuators</h2>
<table>
<tr><th>LED</th><td>{{onOff .LED.On}}</td></tr>
<tr><th>Door</th><td>{{if .Servo.Open}}OPEN{{else}}CLOSED{{end}}{{if .Servo.Moving}} (moving){{end}}</td></tr>
<tr><th>RGB</th><td>{{.RGB.Mode}}{{if .RGB.ManualOverride}} (manual, {{.RGB.ManualOverrideRemaining}}s left){{end}}</td></tr>
<tr><th>Buzzer</th><td>{{onOff .Buzzer.Active}}</td></tr>
</table>

<h2>Board</h2>
<table>
<tr><th>Uptime</th><td>{{deviceUptime .System.UptimeMs}}</td></tr>
<tr><th>Wi-Fi</th><td>{{.Network.State}} {{.Network.Address}} ({{.Network.Signal}} dBm, {{signal .Network.Signal}})</td></tr>
</table>
{{end}}

<h2>Weather fallback</h2>
<table>
<tr><th>City</th><td>{{.Config.City}}</td></tr>
<tr><th>Current</th><td>{{printf "%.1f" .Weather.Temperature}} °C, {{printf "%.1f" .Weather.Humidity}} %</td></tr>
<tr><th>Fetched</th><td>{{clock .Weather.FetchedAt .Location}}</td></tr>
{{if .Weather.Error}}<tr><th>Error</th><td class="msg-error">{{.Weather.Error}}</td></tr>{{end}}
</table>

{{if .Messages}}
<h2>Messages</h2>
<ul>
{{range .Messages}}<li{{if .Error}} class="msg-error"{{end}}>{{.Format $.Location}}</li>
{{end}}</ul>
{{end}}

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Poll</th><td>{{.Config.PollMs}}ms</td></tr>
<tr><th>Online threshold</th><td>{{.Config.ThresholdMs}}ms</td></tr>
<tr><th>Weather TTL</th><td>{{.Config.CacheTTLMs}}ms</td></tr>
{{if .Config.Broker}}<tr><th>MQTT</th><td>{{if .BrokerConnected}}connected{{else}}disconnected{{end}} ({{.Config.Broker}})</td></tr>{{end}}
</table>

<p><a href="/index.json">JSON</a> · <a href="/api/history/presence">History</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  var scheme = location.protocol === "https:" ? "wss://" : "ws://";
  var ws = new WebSocket(scheme + location.host + "/ws");
  var first = true;
  ws.onopen = function() { dot.className = "live-dot ok"; dot.title = "live"; };
  ws.onclose = function() { dot.className = "live-dot err"; dot.title = "offline"; };
  ws.onmessage = function() {
    if (first) { first = false; return; }
    location.reload();
  };
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() and Warnings() methods but the template wants fields.
	data := struct {
		status.Snapshot
		Uptime   time.Duration
		Warnings []string
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Warnings: snap.Warnings(),
	}
	return indexTmpl.Execute(w, data)
}
