// Package render maps a notification type and its task context to a
// channel payload. Rendering is pure: unknown types fall back to a
// generic payload instead of failing.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/educapro/notifier/internal/domain/notification"
)

type Data struct {
	Student     string
	Title       string
	Description string
	Subject     string
	DueAt       time.Time
	Teacher     string
	Grade       *float64
	Comments    string
	Changes     string
}

type Message struct {
	Subject string
	Body    string
}

type Engine struct {
	tmpl *template.Template
}

func New() *Engine {
	t := template.New("notification").Funcs(template.FuncMap{
		"date": func(ts time.Time) string {
			if ts.IsZero() {
				return "—"
			}
			return ts.Format("Monday, 2 January 2006 15:04")
		},
	})
	return &Engine{tmpl: template.Must(t.Parse(templates))}
}

// Render builds the channel payload for a notification type.
func (e *Engine) Render(typ notification.Type, d Data) Message {
	name := string(typ)
	if e.tmpl.Lookup(name) == nil {
		name = "fallback"
	}
	var buf bytes.Buffer
	if err := e.tmpl.ExecuteTemplate(&buf, name, d); err != nil {
		return Message{
			Subject: "Task notification: " + d.Title,
			Body:    fmt.Sprintf("<p>Hello %s, there is an update on the task %q.</p>", d.Student, d.Title),
		}
	}
	return Message{
		Subject: "Task notification: " + d.Title,
		Body:    buf.String(),
	}
}

const templates = `
{{define "header"}}<html><body style="font-family:sans-serif"><h2>EducaPro</h2>{{end}}
{{define "footer"}}<p style="color:#888;font-size:12px">Automated message from the academic notification service.</p></body></html>{{end}}

{{define "task_table"}}<table>
<tr><td><b>Subject</b></td><td>{{.Subject}}</td></tr>
<tr><td><b>Due</b></td><td>{{date .DueAt}}</td></tr>
{{if .Teacher}}<tr><td><b>Teacher</b></td><td>{{.Teacher}}</td></tr>{{end}}
</table>{{end}}

{{define "new_task"}}{{template "header" .}}
<h3>New task assigned</h3>
<p>Hello {{.Student}}, you have been assigned a new task.</p>
<p><b>{{.Title}}</b></p>
<p>{{if .Description}}{{.Description}}{{else}}No additional description{{end}}</p>
{{template "task_table" .}}
{{template "footer" .}}{{end}}

{{define "reminder"}}{{template "header" .}}
<h3>Task reminder</h3>
<p>Hello {{.Student}}, the task <b>{{.Title}}</b> is still open and its deadline is approaching.</p>
{{template "task_table" .}}
{{template "footer" .}}{{end}}

{{define "graded"}}{{template "header" .}}
<h3>Task graded</h3>
<p>Hello {{.Student}}, your submission for <b>{{.Title}}</b> has been graded.</p>
{{if .Grade}}<p style="font-size:20px">Grade: <b>{{.Grade}}</b></p>{{end}}
{{if .Comments}}<p>Comments: {{.Comments}}</p>{{end}}
{{template "task_table" .}}
{{template "footer" .}}{{end}}

{{define "updated"}}{{template "header" .}}
<h3>Task updated</h3>
<p>Hello {{.Student}}, the task <b>{{.Title}}</b> has changed.</p>
{{if .Changes}}<p>Changes: {{.Changes}}</p>{{end}}
{{template "task_table" .}}
{{template "footer" .}}{{end}}

{{define "overdue"}}{{template "header" .}}
<h3>Task overdue</h3>
<p>Hello {{.Student}}, the deadline for <b>{{.Title}}</b> has passed without a submission.</p>
{{template "task_table" .}}
{{template "footer" .}}{{end}}

{{define "fallback"}}{{template "header" .}}
<h3>Task notification</h3>
<p>Hello {{.Student}}, there is an update on the task <b>{{.Title}}</b>.</p>
{{template "task_table" .}}
{{template "footer" .}}{{end}}
`
