// internal/errors/errors.go
package appErrors

import "fmt"

// ErrCampaignNotFound is a sentinel error
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

// Helper constructor
func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

type ErrEnrollmentNotFound struct {
	EnrollmentID int
}

func (e *ErrEnrollmentNotFound) Error() string {
	return fmt.Sprintf("enrollment with ID %d not found", e.EnrollmentID)
}

func NewEnrollmentNotFound(id int) error {
	return &ErrEnrollmentNotFound{EnrollmentID: id}
}

type ErrLeadNotFound struct {
	LeadID int
}

func (e *ErrLeadNotFound) Error() string {
	return fmt.Sprintf("lead with ID %d not found", e.LeadID)
}

func NewLeadNotFound(id int) error {
	return &ErrLeadNotFound{LeadID: id}
}

type ErrSendRecordNotFound struct {
	RecordID int
}

func (e *ErrSendRecordNotFound) Error() string {
	return fmt.Sprintf("send record with ID %d not found", e.RecordID)
}

func NewSendRecordNotFound(id int) error {
	return &ErrSendRecordNotFound{RecordID: id}
}
