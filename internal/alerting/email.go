package alerting

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// EmailConfig holds configuration for the SMTP alerter.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	Subject  string
}

// EmailAlerter sends alerts via SMTP.
type EmailAlerter struct {
	cfg EmailConfig

	// send is swapped out in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailAlerter creates a new SMTP alerter.
func NewEmailAlerter(cfg EmailConfig) *EmailAlerter {
	if cfg.Subject == "" {
		cfg.Subject = "trailbot alert"
	}
	return &EmailAlerter{
		cfg:  cfg,
		send: smtp.SendMail,
	}
}

// Name returns the name of the alerter.
func (e *EmailAlerter) Name() string {
	return "email"
}

// Alert sends an alert email. The context only gates entry; net/smtp does
// not support cancellation mid-send.
func (e *EmailAlerter) Alert(ctx context.Context, severity Severity, message string, fields ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body := e.formatMessage(severity, message, fields...)

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(e.cfg.To, ", "))
	fmt.Fprintf(&msg, "Subject: [%s] %s\r\n", severity.String(), e.cfg.Subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	if err := e.send(addr, auth, e.cfg.From, e.cfg.To, []byte(msg.String())); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// formatMessage formats the alert body.
func (e *EmailAlerter) formatMessage(severity Severity, message string, fields ...any) string {
	text := fmt.Sprintf("[%s] %s", severity.String(), message)

	if fieldsStr := FormatFields(fields...); fieldsStr != "" {
		text += "\n\nDetails:\n" + fieldsStr
	}

	text += fmt.Sprintf("\n\nSent %s", time.Now().Format("2006-01-02 15:04:05 MST"))
	return text
}
