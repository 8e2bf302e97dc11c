// internal/model/enrollment.go
package model

import "time"

const (
	EnrollmentActive    = "active"
	EnrollmentCompleted = "completed"
	EnrollmentStopped   = "stopped"
)

const (
	StopReasonConverted    = "lead_converted"
	StopReasonUnsubscribed = "unsubscribed"
)

// Enrollment is one lead's progress ticket through one campaign's step
// sequence. An active enrollment always carries a non-nil NextSendAt;
// terminal enrollments never do. CurrentStep only ever increases.
type Enrollment struct {
	ID          int        `db:"id" json:"id"`
	CampaignID  int        `db:"campaign_id" json:"campaign_id"`
	LeadID      int        `db:"lead_id" json:"lead_id"`
	Status      string     `db:"status" json:"status"`
	CurrentStep int        `db:"current_step" json:"current_step"`
	NextSendAt  *time.Time `db:"next_send_at" json:"next_send_at,omitempty"`
	StopReason  string     `db:"stop_reason" json:"stop_reason,omitempty"`
	CompletedAt *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	StoppedAt   *time.Time `db:"stopped_at" json:"stopped_at,omitempty"`
	ClaimedAt   *time.Time `db:"claimed_at" json:"-"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updated_at"`
}

// Due reports whether the enrollment should be picked up at now.
func (e *Enrollment) Due(now time.Time) bool {
	return e.Status == EnrollmentActive && e.NextSendAt != nil && !e.NextSendAt.After(now)
}
