// Package email sends run notifications via SMTP.
package email

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"net/smtp"
	"strings"
	texttemplate "text/template"
	"time"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) fromHeader() string {
	if s.config.FromName != "" {
		return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	return s.config.From
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		s.fromHeader(),
		subject,
		body,
	))
	return s.send(s.server, s.auth, s.config.From, to, msg)
}

// SendHTMLEmail sends a multipart email with a plain text alternative.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	boundary := "boundary-grantsmith"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", s.fromHeader())
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", textBody)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// RunSummary is what a notification says about one finished batch run.
type RunSummary struct {
	ProposalID    string
	ProposalTitle string
	RunID         string
	FinishedAt    time.Time
	Updated       []string
	Failed        []string
	Skipped       []string
	Cancelled     bool
	Completed     int
	Total         int
	Ask           string
}

func (r RunSummary) Outcome() string {
	switch {
	case r.Cancelled:
		return "cancelled"
	case len(r.Failed) > 0:
		return "finished with failures"
	default:
		return "finished"
	}
}

// SendRunSummary mails the outcome of a batch run.
func (s *Service) SendRunSummary(to []string, summary RunSummary) error {
	subject := fmt.Sprintf("[Grantsmith] %s: generation %s", summary.ProposalTitle, summary.Outcome())
	text, err := renderText(runSummaryTextTemplate, summary)
	if err != nil {
		return fmt.Errorf("render run summary text: %w", err)
	}
	html, err := renderHTML(runSummaryHTMLTemplate, summary)
	if err != nil {
		return fmt.Errorf("render run summary html: %w", err)
	}
	return s.SendHTMLEmail(to, subject, text, html)
}

var templateFuncs = map[string]any{
	"join": strings.Join,
	"date": func(t time.Time) string { return t.UTC().Format("2 January 2006 15:04 MST") },
}

func renderText(tmpl string, data any) (string, error) {
	t, err := texttemplate.New("email").Funcs(templateFuncs).Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func renderHTML(tmpl string, data any) (string, error) {
	t, err := htmltemplate.New("email").Funcs(templateFuncs).Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const runSummaryTextTemplate = `Proposal: {{.ProposalTitle}} ({{.ProposalID}})
Run: {{.RunID}}, {{.Outcome}} at {{date .FinishedAt}}
Sections complete: {{.Completed}} of {{.Total}}
{{- if .Updated}}
Updated: {{join .Updated ", "}}{{end}}
{{- if .Failed}}
Failed: {{join .Failed ", "}}{{end}}
{{- if .Skipped}}
Skipped (manually edited): {{join .Skipped ", "}}{{end}}
{{- if .Ask}}
Recommended ask: {{.Ask}}{{end}}
`

const runSummaryHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.ProposalTitle}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #2f6f4f; padding-bottom: 10px; margin-bottom: 20px; }
        .failed { color: #a33; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.ProposalTitle}}</h1>
    </div>

    <p>Generation {{.Outcome}} at {{date .FinishedAt}}. {{.Completed}} of {{.Total}} sections are complete.</p>

    {{if .Updated}}<p><strong>Updated:</strong> {{join .Updated ", "}}</p>{{end}}
    {{if .Failed}}<p class="failed"><strong>Failed:</strong> {{join .Failed ", "}}</p>{{end}}
    {{if .Skipped}}<p><strong>Skipped (manually edited):</strong> {{join .Skipped ", "}}</p>{{end}}
    {{if .Ask}}<p><strong>Recommended ask:</strong> {{.Ask}}</p>{{end}}

    <div class="footer">
        <p>Run {{.RunID}} for proposal {{.ProposalID}}.</p>
    </div>
</body>
</html>`
