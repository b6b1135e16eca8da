package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"
)

var emailTemplates = template.Must(template.New("email").Parse(`
{{- define "invite" -}}
Hi {{.Name}},

{{.Inviter}} added you to {{.Org}} as {{.Role}}.
Sign in to see the projects you can access.
{{- end -}}

{{- define "decision" -}}
Hi {{.Name}},

{{.Actor}} {{if .Approved}}approved{{else}}sent back{{end}} "{{.Task}}".
{{- if .Reason}}
Reason: {{.Reason}}
{{- end}}
{{- end -}}

{{- define "pin" -}}
Hi {{.Name}},

Your password reset PIN is {{.Code}}.
It expires at {{.Expires}} and can be tried {{.Attempts}} times.
If you did not ask for a reset you can ignore this message.
{{- end -}}
`))

type Invitation struct {
	To      string
	Name    string
	Inviter string
	Org     string
	Role    string
}

func InvitationEmail(in Invitation) (EmailMessage, error) {
	text, err := execute("invite", in)
	if err != nil {
		return EmailMessage{}, err
	}
	return EmailMessage{To: in.To, Subject: fmt.Sprintf("You were added to %s", in.Org), Text: text}, nil
}

// Decision tells the submitter of a task how its approval went.
type Decision struct {
	To       string
	Name     string
	Actor    string
	Task     string
	Approved bool
	Reason   string
}

func DecisionEmail(d Decision) (EmailMessage, error) {
	text, err := execute("decision", d)
	if err != nil {
		return EmailMessage{}, err
	}
	verb := "sent back"
	if d.Approved {
		verb = "approved"
	}
	return EmailMessage{To: d.To, Subject: fmt.Sprintf("%q was %s", d.Task, verb), Text: text}, nil
}

type PINNotice struct {
	To       string
	Name     string
	Code     string
	Expires  time.Time
	Attempts int
}

func PINEmail(p PINNotice) (EmailMessage, error) {
	text, err := execute("pin", struct {
		PINNotice
		Expires string
	}{p, p.Expires.UTC().Format("15:04 MST, 2 Jan 2006")})
	if err != nil {
		return EmailMessage{}, err
	}
	return EmailMessage{To: p.To, Subject: "Your password reset PIN", Text: text}, nil
}

func execute(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := emailTemplates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()) + "\n", nil
}
