// Package notify delivers HTML e-mail alerts for failed tasks.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/sprig/v3"

	"taskweaver/internal/core"
	"taskweaver/internal/dag"
)

// Sender delivers an already formatted RFC 5322 message.
type Sender interface {
	Send(ctx context.Context, from string, to []string, msg []byte) error
}

// Mailer is a core.Notifier that e-mails one HTML report per failure.
// It is safe for concurrent use.
type Mailer struct {
	From   string
	To     []string
	Sender Sender

	// Now is used for the Date header; defaults to time.Now.
	Now func() time.Time

	sent sync.WaitGroup
}

var _ core.Notifier = (*Mailer)(nil)

// NewMailer returns a Mailer delivering through sender.
func NewMailer(from string, to []string, sender Sender) (*Mailer, error) {
	if from == "" {
		return nil, errors.New("notify: sender address is required")
	}
	if len(to) == 0 {
		return nil, errors.New("notify: at least one recipient is required")
	}
	if sender == nil {
		return nil, errors.New("notify: sender is nil")
	}
	return &Mailer{From: from, To: append([]string(nil), to...), Sender: sender}, nil
}

// Notify renders f and hands it to the Sender.
func (m *Mailer) Notify(ctx context.Context, f core.Failure) error {
	m.sent.Add(1)
	defer m.sent.Done()

	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	msg, err := m.compose(f, now())
	if err != nil {
		return err
	}
	if err := m.Sender.Send(ctx, m.From, m.To, msg); err != nil {
		return fmt.Errorf("notify: send alert for task %q: %w", f.Task, err)
	}
	return nil
}

// Close waits for in-flight notifications.
func (m *Mailer) Close() error {
	m.sent.Wait()
	return nil
}

// Subject returns the subject line used for f.
func Subject(f core.Failure) string {
	return "Error in task " + f.Task
}

func (m *Mailer) compose(f core.Failure, date time.Time) ([]byte, error) {
	body, err := RenderHTML(f)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writeHeader := func(k, v string) {
		buf.WriteString(k)
		buf.WriteString(": ")
		buf.WriteString(v)
		buf.WriteString("\r\n")
	}
	writeHeader("From", m.From)
	writeHeader("To", strings.Join(m.To, ", "))
	writeHeader("Subject", mime.QEncoding.Encode("utf-8", Subject(f)))
	writeHeader("Date", date.Format(time.RFC1123Z))
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", `text/html; charset="utf-8"`)
	buf.WriteString("\r\n")
	buf.Write(body)
	return buf.Bytes(), nil
}

type reportData struct {
	Task       string
	Exception  string
	Chain      []string
	Traceback  string
	Downstream []string
	Args       []string
	Kwargs     map[string]any
	When       time.Time
}

var reportTmpl = template.Must(template.New("failure").Funcs(sprig.FuncMap()).Parse(reportHTML))

// RenderHTML renders the report body for f.
func RenderHTML(f core.Failure) ([]byte, error) {
	data := reportData{
		Task:       f.Task,
		Exception:  "unknown error",
		Downstream: f.Downstream,
		Kwargs:     f.Call.Kwargs,
		When:       f.Time,
	}
	if f.Err != nil {
		data.Exception = f.Err.Error()
		for e := errors.Unwrap(f.Err); e != nil; e = errors.Unwrap(e) {
			data.Chain = append(data.Chain, e.Error())
		}
		var te *dag.TaskError
		if errors.As(f.Err, &te) && te.Panicked() {
			data.Traceback = string(te.Stack)
		}
	}
	for _, a := range f.Call.Args {
		data.Args = append(data.Args, fmt.Sprint(a))
	}

	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("notify: render report: %w", err)
	}
	return buf.Bytes(), nil
}

const reportHTML = `<html>
<head>
<style>
body { font-family: Arial, sans-serif; margin: 20px; color: #333; }
h2 { color: #d9534f; }
.exception { font-weight: bold; color: #d9534f; }
.traceback { background-color: #f9f2f4; border: 1px solid #d9534f; padding: 10px; font-family: 'Courier New', Courier, monospace; white-space: pre-wrap; border-radius: 4px; }
</style>
</head>
<body>
<h2>Error in task {{ .Task }}</h2>
<p class="exception">{{ .Exception }}</p>
{{- if .Chain }}
<h3>Caused by</h3>
<ul>{{ range .Chain }}<li>{{ . }}</li>{{ end }}</ul>
{{- end }}
{{- if .Traceback }}
<div class="traceback">{{ .Traceback | trim }}</div>
{{- end }}
{{- if .Downstream }}
<h3>Downstream Impact</h3>
<p>The following {{ len .Downstream }} {{ if eq (len .Downstream) 1 }}task{{ else }}tasks{{ end }} will be skipped:</p>
<ul>{{ range .Downstream }}<li>{{ . }}</li>{{ end }}</ul>
{{- end }}
<p><b>Context:</b><br>
Args: [{{ join ", " .Args }}]<br>
Kwargs: { {{- range $i, $k := keys .Kwargs | sortAlpha }}{{ if $i }}, {{ end }}{{ $k }}={{ index $.Kwargs $k | toString | trunc 200 }}{{ end -}} }</p>
{{- if not .When.IsZero }}
<p><small>{{ dateInZone "2006-01-02 15:04:05 MST" .When "UTC" }}</small></p>
{{- end }}
</body>
</html>
`
