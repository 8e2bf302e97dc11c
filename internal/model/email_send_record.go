// internal/model/email_send_record.go
package model

import "time"

const (
	SendStatusPending = "pending"
	SendStatusSent    = "sent"
	SendStatusBounced = "bounced"
)

// EmailSendRecord is one dispatch attempt for an (enrollment, step) pair.
// Created as pending before the transport call so a crash mid-send still
// leaves an auditable row.
type EmailSendRecord struct {
	ID            int        `db:"id" json:"id"`
	EnrollmentID  int        `db:"enrollment_id" json:"enrollment_id"`
	CampaignID    int        `db:"campaign_id" json:"campaign_id"`
	LeadID        int        `db:"lead_id" json:"lead_id"`
	StepOrder     int        `db:"step_order" json:"step_order"`
	Status        string     `db:"status" json:"status"` // pending, sent, bounced
	Subject       string     `db:"subject" json:"subject"`
	ProviderID    string     `db:"provider_id" json:"provider_id,omitempty"`
	CorrelationID string     `db:"correlation_id" json:"correlation_id"`
	SentAt        *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	BouncedAt     *time.Time `db:"bounced_at" json:"bounced_at,omitempty"`
	BounceReason  string     `db:"bounce_reason" json:"bounce_reason,omitempty"`
	OpenedAt      *time.Time `db:"opened_at" json:"opened_at,omitempty"`
	ClickedAt     *time.Time `db:"clicked_at" json:"clicked_at,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

func (r *EmailSendRecord) Opened() bool  { return r.OpenedAt != nil }
func (r *EmailSendRecord) Clicked() bool { return r.ClickedAt != nil }
