package web

import (
	"fmt"
	"html/template"
	"io"
	"math"
	"time"

	"github.com/sweeney/centrifuge/internal/status"
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
	"countdown": func(d time.Duration) string {
		secs := int(math.Ceil(d.Seconds()))
		return fmt.Sprintf("%d:%02d", secs/60, secs%60)
	},
	"rpm": func(v float64) string {
		return fmt.Sprintf("%.2f", v)
	},
	"clock": func(t time.Time) string {
		return t.UTC().Format("2006-01-02 15:04:05")
	},
	"since": func(a, b time.Time) string {
		return b.Sub(a).Truncate(time.Second).String()
	},
}).Parse(indexHTML))

type indexData struct {
	status.Snapshot
	Commands bool
}

func renderHTML(w io.Writer, snap status.Snapshot, commands bool) error {
	return indexTmpl.Execute(w, indexData{Snapshot: snap, Commands: commands})
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Centrifuge</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.running { color: green; font-weight: bold; }
.idle { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
canvas { width: 100%; height: 160px; border: 1px solid #ddd; }
</style>
</head>
<body>
<h1>Centrifuge</h1>

<h2>Session</h2>
<table>
<tr><th>State</th><td id="state" class="{{if .Running}}running{{else}}idle{{end}}">{{.State}}</td></tr>
<tr><th>Filtered RPM</th><td id="filtered">{{rpm .Filtered}}</td></tr>
{{if .Running}}<tr><th>Session</th><td>{{.SessionID}}</td></tr>
<tr><th>Target RPM</th><td>{{rpm .Target}}</td></tr>
<tr><th>Measured RPM</th><td>{{rpm .Sample.RawRPM}}</td></tr>
<tr><th>Output</th><td>{{.Sample.Output}} / {{.Config.OutputMax}}</td></tr>
<tr><th>Error</th><td>{{rpm .Sample.ErrorPct}}%</td></tr>
<tr><th>Remaining</th><td id="remaining">{{if .Deadline.IsZero}}until stopped{{else}}{{countdown .Remaining}}{{end}}</td></tr>{{end}}
</table>

<canvas id="plot" width="600" height="160"></canvas>

{{if .Commands}}<form id="cmd">
<input name="rpm" type="number" min="0" step="1" placeholder="rpm" required>
<input name="seconds" type="number" min="1" step="1" placeholder="seconds (optional)">
<button type="submit">Set</button>
<button type="button" id="stop">Stop</button>
<span id="cmd-result"></span>
</form>{{end}}

<h2>Recent Sessions</h2>
<table>
{{range .Sessions}}<tr><td>{{clock .StartedAt}}</td><td>{{rpm .Target}} rpm</td><td>{{since .StartedAt .EndedAt}}</td><td>{{.Reason}}</td></tr>
{{else}}<tr><td>none</td></tr>
{{end}}</table>

<h2>Counts</h2>
<table>
<tr><th>Started</th><td>{{.Counts.Started}}</td></tr>
<tr><th>Stopped</th><td>{{.Counts.Stopped}}</td></tr>
<tr><th>Completed</th><td>{{.Counts.Completed}}</td></tr>
<tr><th>Rejected</th><td>{{.Counts.Rejected}}</td></tr>
<tr><th>Pulses</th><td>{{.PulsesTotal}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Serial</th><td>{{if .Config.Serial}}{{.Config.Serial}}{{else}}disabled{{end}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Period</th><td>{{.Config.PeriodMs}}ms</td></tr>
<tr><th>Gains</th><td>Kp={{.Config.Kp}} Ki={{.Config.Ki}} Kd={{.Config.Kd}}</td></tr>
<tr><th>Pulses/rev</th><td>{{.Config.PulsesPerRev}}</td></tr>
<tr><th>Filter</th><td>{{.Config.FilterWindow}} samples</td></tr>
<tr><th>Actuator</th><td>{{.Config.Actuator}}</td></tr>
{{if .Process}}<tr><th>CPU</th><td>{{printf "%.1f" .Process.CPUPercent}}%</td></tr>
<tr><th>RSS</th><td>{{.Process.RSSBytes}} bytes</td></tr>{{end}}
</table>

<p><a href="/index.json">JSON</a> <a href="/history.json">History</a></p>
<script>
(function() {
  var canvas = document.getElementById("plot");
  var ctx = canvas.getContext("2d");

  function draw(h) {
    var w = canvas.width, ht = canvas.height;
    ctx.clearRect(0, 0, w, ht);
    if (!h.samples.length) return;
    var max = 1;
    h.samples.forEach(function(s) { max = Math.max(max, s.rpm, s.ma, s.set); });
    function line(key, color) {
      ctx.strokeStyle = color;
      ctx.beginPath();
      h.samples.forEach(function(s, i) {
        var x = w + (s.t / h.window_seconds) * w;
        var y = ht - (s[key] / max) * ht;
        if (i === 0) ctx.moveTo(x, y); else ctx.lineTo(x, y);
      });
      ctx.stroke();
    }
    line("set", "#c33");
    line("rpm", "#bbb");
    line("ma", "#36c");
  }

  function refresh() {
    fetch("/history.json").then(function(r) { return r.json(); }).then(draw).catch(function() {});
    fetch("/index.json").then(function(r) { return r.json(); }).then(function(j) {
      var st = document.getElementById("state");
      st.textContent = j.status.state;
      st.className = j.status.state === "RUNNING" ? "running" : "idle";
      document.getElementById("filtered").textContent = j.status.filtered_rpm.toFixed(2);
      var rem = document.getElementById("remaining");
      if (rem && j.status.session && j.status.session.remaining_seconds !== undefined) {
        var s = j.status.session.remaining_seconds;
        rem.textContent = Math.floor(s / 60) + ":" + ("0" + (s % 60)).slice(-2);
      }
    }).catch(function() {});
  }
  setInterval(refresh, 1000);
  refresh();

  var form = document.getElementById("cmd");
  if (!form) return;
  function send(body) {
    fetch("/api/command", {method: "POST", headers: {"Content-Type": "application/json"}, body: JSON.stringify(body)})
      .then(function(r) { return r.json(); })
      .then(function(j) { document.getElementById("cmd-result").textContent = j.error || ("sent " + j.queued); });
  }
  form.addEventListener("submit", function(e) {
    e.preventDefault();
    var body = {rpm: Number(form.rpm.value)};
    if (form.seconds.value) body.seconds = Number(form.seconds.value);
    send(body);
  });
  document.getElementById("stop").addEventListener("click", function() { send({rpm: 0}); });
})();
</script>
</body>
</html>
`
