package web

import (
	"html/template"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/dschuurman/duskd/internal/state"
)

var indexTmpl = template.Must(template.New("index").Parse(indexHTML))

// eventRow is one pending event for the schedule table
type eventRow struct {
	Time   string
	Group  string
	Action string
}

// indexData is the template payload for the control page
type indexData struct {
	Snap    state.Snapshot
	OffTime string
	Events  []eventRow
	Message string
	LogPage bool
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>duskd</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.msg { color: #06c; }
form { display: inline; }
input[type=submit], button { margin-right: 4px; }
</style>
</head>
<body>
<h1>duskd</h1>
{{if .Message}}<p class="msg">{{.Message}}</p>{{end}}

<h2>State</h2>
<table>
<tr><th>Lights</th>
  <td class="{{if .Snap.LightsOn}}on{{else}}off{{end}}">{{if .Snap.LightsOn}}ON{{else}}OFF{{end}}</td>
  <td>
    <form method="post" action="/"><button name="lights" value="on">On</button></form>
    <form method="post" action="/"><button name="lights" value="off">Off</button></form>
  </td></tr>
<tr><th>Outlets</th>
  <td class="{{if .Snap.OutletsOn}}on{{else}}off{{end}}">{{if .Snap.OutletsOn}}ON{{else}}OFF{{end}}</td>
  <td>
    <form method="post" action="/"><button name="outlets" value="on">On</button></form>
    <form method="post" action="/"><button name="outlets" value="off">Off</button></form>
  </td></tr>
</table>

<h2>Timers</h2>
<table>
<tr><th>Lights timer</th>
  <td>{{if .Snap.LightsTimer}}enabled{{else}}disabled{{end}}</td>
  <td>
    <form method="post" action="/"><button name="lights_timer" value="on">Enable</button></form>
    <form method="post" action="/"><button name="lights_timer" value="off">Disable</button></form>
  </td></tr>
<tr><th>Outlets timer</th>
  <td>{{if .Snap.OutletsTimer}}enabled{{else}}disabled{{end}}</td>
  <td>
    <form method="post" action="/"><button name="outlets_timer" value="on">Enable</button></form>
    <form method="post" action="/"><button name="outlets_timer" value="off">Disable</button></form>
  </td></tr>
<tr><th>Off-time</th>
  <td>{{.OffTime}}</td>
  <td>
    <form method="post" action="/off-time">
      <input type="time" name="off_time" value="{{.OffTime}}">
      <input type="submit" value="Set">
    </form>
  </td></tr>
<tr><th>Brightness</th>
  <td>{{.Snap.Brightness}}</td>
  <td>
    <form method="post" action="/">
      <input type="number" name="brightness" min="0" max="254" value="{{.Snap.Brightness}}">
      <input type="submit" value="Set">
    </form>
  </td></tr>
</table>

<h2>Schedule</h2>
<table>
<tr><th>Time</th><th>Group</th><th>Action</th></tr>
{{range .Events}}<tr><td>{{.Time}}</td><td>{{.Group}}</td><td>{{.Action}}</td></tr>
{{else}}<tr><td colspan="3">no pending events</td></tr>
{{end}}
</table>

<p><a href="/index.json">JSON</a>{{if .LogPage}} | <a href="/log">Log</a>{{end}}</p>
</body>
</html>
`

// renderIndex writes the control page with an optional status message
func (s *Server) renderIndex(w io.Writer, message string) {
	snap := s.store.Snapshot()

	var events []eventRow
	for _, ev := range s.sched.PendingEvents() {
		events = append(events, eventRow{
			Time:   ev.Time.In(s.tz).Format("Mon 15:04"),
			Group:  ev.Group.String(),
			Action: ev.Action.String(),
		})
	}

	data := indexData{
		Snap:    snap,
		OffTime: snap.OffTime.String(),
		Events:  events,
		Message: message,
		LogPage: s.logPath != "",
	}

	if err := indexTmpl.Execute(w, data); err != nil {
		log.Warn().Err(err).Msg("Failed to render control page")
	}
}
