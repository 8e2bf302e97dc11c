package mailer

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

type SMTPTransport struct {
	Host     string
	Port     int
	User     string
	Password string
}

func NewSMTPTransport(host string, port int, user, password string) *SMTPTransport {
	return &SMTPTransport{
		Host:     host,
		Port:     port,
		User:     user,
		Password: password,
	}
}

func (s *SMTPTransport) Send(ctx context.Context, msg OutgoingEmail) (*SendResult, error) {
	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(msg.FromEmail, msg.FromName))
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	if msg.CorrelationID != "" {
		m.SetHeader("X-Correlation-ID", msg.CorrelationID)
	}
	if len(msg.Tags) > 0 {
		m.SetHeader("X-Tags", strings.Join(msg.Tags, ","))
	}
	m.SetBody("text/html", msg.HTML)

	host, port, user, pass := s.Host, s.Port, s.User, s.Password
	if msg.SMTPOverride != nil && msg.SMTPOverride.Host != "" {
		host = msg.SMTPOverride.Host
		port = msg.SMTPOverride.Port
		user = msg.SMTPOverride.User
		pass = msg.SMTPOverride.Password
	}

	d := gomail.NewDialer(host, port, user, pass)

	if err := d.DialAndSend(m); err != nil {
		return nil, fmt.Errorf("smtp send failed: %w", err)
	}

	// SMTP gives no provider message id back; mint one so the send record
	// still has a stable reference.
	return &SendResult{ProviderID: "smtp-" + uuid.New().String()}, nil
}

var _ Transport = (*SMTPTransport)(nil)
