// Package email sends transactional mail over SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"net/url"
	"strings"
)

var ErrNotConfigured = errors.New("email not configured")

type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// ResetURL is the page that accepts ?token=... for password resets.
	ResetURL string
}

type Message struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

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

func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) Send(msg Message) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if len(msg.To) == 0 {
		return errors.New("email has no recipients")
	}
	return s.send(s.server, s.auth, s.config.From, msg.To, s.build(msg))
}

func (s *Service) build(msg Message) []byte {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	if msg.HTML == "" {
		fmt.Fprintf(&buf, "Content-Type: text/plain; charset=UTF-8\r\n\r\n%s", msg.Text)
		return buf.Bytes()
	}

	const boundary = "leadflow-alt"
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary)
	fmt.Fprintf(&buf, "--%s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n", boundary, msg.Text)
	fmt.Fprintf(&buf, "--%s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s\r\n", boundary, msg.HTML)
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)
	return buf.Bytes()
}

type passwordResetData struct {
	UserName string
	ResetURL string
}

// SendPasswordReset mails a reset link carrying token.
func (s *Service) SendPasswordReset(to, userName, token string) error {
	link := s.resetLink(token)
	html, err := renderTemplate(passwordResetTemplate, passwordResetData{UserName: userName, ResetURL: link})
	if err != nil {
		return fmt.Errorf("render password reset template: %w", err)
	}
	return s.Send(Message{
		To:      []string{to},
		Subject: "Reset your Leadflow password",
		Text:    "Reset your password within the next hour: " + link,
		HTML:    html,
	})
}

func (s *Service) resetLink(token string) string {
	base := s.config.ResetURL
	if base == "" {
		base = "http://localhost:5173/reset-password"
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "token=" + url.QueryEscape(token)
}

func renderTemplate(tmpl string, data any) (string, error) {
	t, err := template.New("email").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const passwordResetTemplate = `<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><title>Reset your Leadflow password</title></head>
<body style="font-family: sans-serif; line-height: 1.6; color: #222; max-width: 560px; margin: 0 auto;">
    <h2>Password reset</h2>
    <p>Hi {{if .UserName}}{{.UserName}}{{else}}there{{end}},</p>
    <p>Someone asked to reset the password on your Leadflow account. The link below is valid for 1 hour.</p>
    <p><a href="{{.ResetURL}}">Choose a new password</a></p>
    <p style="word-break: break-all; color: #555;">{{.ResetURL}}</p>
    <p style="font-size: 12px; color: #777;">If this was not you, ignore this email and your password stays the same.</p>
</body>
</html>`
