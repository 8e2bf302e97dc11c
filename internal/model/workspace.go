// internal/model/workspace.go
package model

type Workspace struct {
	ID          int    `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	SenderName  string `db:"sender_name" json:"sender_name"`
	SenderEmail string `db:"sender_email" json:"sender_email"`

	// Optional per-workspace SMTP override; empty host means use the global dialer.
	SMTPHost     string `db:"smtp_host" json:"smtp_host,omitempty"`
	SMTPPort     int    `db:"smtp_port" json:"smtp_port,omitempty"`
	SMTPUser     string `db:"smtp_user" json:"smtp_user,omitempty"`
	SMTPPassword string `db:"smtp_password" json:"-"`
}
