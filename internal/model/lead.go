// internal/model/lead.go
package model

// Lead statuses the engine cares about. The CRM defines more (NEW, CONTACTED,
// QUALIFIED, ...) but only these two gate the sequencer.
const (
	LeadStatusConverted    = "CONVERTED"
	LeadStatusUnsubscribed = "UNSUBSCRIBED"
)

type Lead struct {
	ID          int    `db:"id" json:"id"`
	WorkspaceID int    `db:"workspace_id" json:"workspace_id"`
	Email       string `db:"email" json:"email"`
	FirstName   string `db:"first_name" json:"first_name"`
	LastName    string `db:"last_name" json:"last_name"`
	Company     string `db:"company" json:"company"`
	Phone       string `db:"phone" json:"phone"`
	Status      string `db:"status" json:"status"`
}
