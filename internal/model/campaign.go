// internal/model/campaign.go
package model

import "time"

// Step branch conditions, evaluated against the previous step's send record.
const (
	ConditionAlways     = "always"
	ConditionOpened     = "opened"
	ConditionNotOpened  = "not_opened"
	ConditionClicked    = "clicked"
	ConditionNotClicked = "not_clicked"
)

type Campaign struct {
	ID              int        `db:"id" json:"id"`
	WorkspaceID     int        `db:"workspace_id" json:"workspace_id"`
	Name            string     `db:"name" json:"name"`
	Status          string     `db:"status" json:"status"`
	StopOnConverted bool       `db:"stop_on_converted" json:"stop_on_converted"`
	TotalSent       int        `db:"total_sent" json:"total_sent"`
	TotalOpened     int        `db:"total_opened" json:"total_opened"`
	TotalClicked    int        `db:"total_clicked" json:"total_clicked"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       *time.Time `db:"updated_at" json:"updated_at,omitempty"`

	// Steps is loaded ordered by step_order ascending.
	Steps []CampaignStep `json:"steps,omitempty"`
}

type CampaignStep struct {
	ID         int    `db:"id" json:"id"`
	CampaignID int    `db:"campaign_id" json:"campaign_id"`
	StepOrder  int    `db:"step_order" json:"step_order"` // 1-based, unique, not necessarily contiguous
	Subject    string `db:"subject" json:"subject"`
	Content    string `db:"content" json:"content"`
	Condition  string `db:"condition" json:"condition"`
	DelayDays  int    `db:"delay_days" json:"delay_days"`
	DelayHours int    `db:"delay_hours" json:"delay_hours"`
}

// StepAt returns the step whose StepOrder equals order, or nil.
func (c *Campaign) StepAt(order int) *CampaignStep {
	for i := range c.Steps {
		if c.Steps[i].StepOrder == order {
			return &c.Steps[i]
		}
	}
	return nil
}

// NextStepAfter returns the defined step with the smallest StepOrder strictly
// greater than order, or nil when the sequence is exhausted.
func (c *Campaign) NextStepAfter(order int) *CampaignStep {
	var next *CampaignStep
	for i := range c.Steps {
		s := &c.Steps[i]
		if s.StepOrder <= order {
			continue
		}
		if next == nil || s.StepOrder < next.StepOrder {
			next = s
		}
	}
	return next
}
