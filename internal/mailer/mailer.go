package mailer

import "context"

// SMTPConfig is a per-workspace override for the outgoing server. Empty Host
// means the transport's own dialer is used.
type SMTPConfig struct {
	Host     string
	Port     int
	User     string
	Password string
}

// OutgoingEmail is a fully rendered message ready for dispatch.
type OutgoingEmail struct {
	To            string
	FromName      string
	FromEmail     string
	Subject       string
	HTML          string
	Tags          []string
	CorrelationID string
	SMTPOverride  *SMTPConfig
}

// SendResult carries the provider's acknowledgement.
type SendResult struct {
	ProviderID string
}

// Transport accepts a rendered message and either delivers it or returns an
// error. A returned error is a bounce, not a run failure.
type Transport interface {
	Send(ctx context.Context, msg OutgoingEmail) (*SendResult, error)
}
