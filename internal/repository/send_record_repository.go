package repository

import (
	"context"
	"database/sql"
	"time"

	appErrors "github.com/leadpipe/sequencer-backend/internal/errors"
	"github.com/leadpipe/sequencer-backend/internal/model"
)

type SendRecordRepositoryInterface interface {
	Create(ctx context.Context, rec *model.EmailSendRecord) error
	MarkSent(ctx context.Context, id int, providerID string, at time.Time) error
	MarkBounced(ctx context.Context, id int, reason string, at time.Time) error
	MarkOpened(ctx context.Context, id int, at time.Time) (bool, error)
	MarkClicked(ctx context.Context, id int, at time.Time) (bool, error)
	GetByID(ctx context.Context, id int) (*model.EmailSendRecord, error)
	LastSentBefore(ctx context.Context, enrollmentID, stepOrder int) (*model.EmailSendRecord, error)
}

type SendRecordRepository struct {
	DB *sql.DB
}

// Create inserts a pending send record before the transport is invoked.
func (r *SendRecordRepository) Create(ctx context.Context, rec *model.EmailSendRecord) error {
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = model.SendStatusPending
	}

	query := `
        INSERT INTO email_send_records
        (enrollment_id, campaign_id, lead_id, step_order, status, subject, correlation_id, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id
    `
	return r.DB.QueryRowContext(
		ctx,
		query,
		rec.EnrollmentID,
		rec.CampaignID,
		rec.LeadID,
		rec.StepOrder,
		rec.Status,
		rec.Subject,
		rec.CorrelationID,
		rec.CreatedAt,
		rec.UpdatedAt,
	).Scan(&rec.ID)
}

func (r *SendRecordRepository) MarkSent(ctx context.Context, id int, providerID string, at time.Time) error {
	query := `
        UPDATE email_send_records
        SET status='sent', provider_id=$1, sent_at=$2, updated_at=NOW()
        WHERE id=$3
    `
	res, err := r.DB.ExecContext(ctx, query, providerID, at, id)
	if err != nil {
		return err
	}
	return requireRecord(res, id)
}

func (r *SendRecordRepository) MarkBounced(ctx context.Context, id int, reason string, at time.Time) error {
	query := `
        UPDATE email_send_records
        SET status='bounced', bounce_reason=$1, bounced_at=$2, updated_at=NOW()
        WHERE id=$3
    `
	res, err := r.DB.ExecContext(ctx, query, reason, at, id)
	if err != nil {
		return err
	}
	return requireRecord(res, id)
}

// MarkOpened records the first open only. Returns true when this call was the
// transition from NULL, so the caller knows whether to bump campaign counters.
func (r *SendRecordRepository) MarkOpened(ctx context.Context, id int, at time.Time) (bool, error) {
	query := `
        UPDATE email_send_records
        SET opened_at=$1, updated_at=NOW()
        WHERE id=$2 AND opened_at IS NULL
    `
	res, err := r.DB.ExecContext(ctx, query, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkClicked records the first click only, and counts it as an open too since
// a click implies the mail was seen.
func (r *SendRecordRepository) MarkClicked(ctx context.Context, id int, at time.Time) (bool, error) {
	query := `
        UPDATE email_send_records
        SET clicked_at=$1, opened_at=COALESCE(opened_at, $1), updated_at=NOW()
        WHERE id=$2 AND clicked_at IS NULL
    `
	res, err := r.DB.ExecContext(ctx, query, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SendRecordRepository) GetByID(ctx context.Context, id int) (*model.EmailSendRecord, error) {
	query := `
        SELECT id, enrollment_id, campaign_id, lead_id, step_order, status, subject,
               COALESCE(provider_id, ''), correlation_id, sent_at, bounced_at,
               COALESCE(bounce_reason, ''), opened_at, clicked_at, created_at, updated_at
        FROM email_send_records
        WHERE id=$1
    `
	var rec model.EmailSendRecord
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&rec.ID, &rec.EnrollmentID, &rec.CampaignID, &rec.LeadID, &rec.StepOrder,
		&rec.Status, &rec.Subject, &rec.ProviderID, &rec.CorrelationID,
		&rec.SentAt, &rec.BouncedAt, &rec.BounceReason,
		&rec.OpenedAt, &rec.ClickedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewSendRecordNotFound(id)
		}
		return nil, err
	}
	return &rec, nil
}

// LastSentBefore returns the most recent sent record of this enrollment with a
// step order below stepOrder, or nil when no predecessor send exists. This is
// what step branch conditions are evaluated against.
func (r *SendRecordRepository) LastSentBefore(ctx context.Context, enrollmentID, stepOrder int) (*model.EmailSendRecord, error) {
	query := `
        SELECT id, enrollment_id, campaign_id, lead_id, step_order, status, subject,
               COALESCE(provider_id, ''), correlation_id, sent_at, bounced_at,
               COALESCE(bounce_reason, ''), opened_at, clicked_at, created_at, updated_at
        FROM email_send_records
        WHERE enrollment_id=$1 AND step_order < $2 AND status='sent'
        ORDER BY step_order DESC, id DESC
        LIMIT 1
    `
	var rec model.EmailSendRecord
	err := r.DB.QueryRowContext(ctx, query, enrollmentID, stepOrder).Scan(
		&rec.ID, &rec.EnrollmentID, &rec.CampaignID, &rec.LeadID, &rec.StepOrder,
		&rec.Status, &rec.Subject, &rec.ProviderID, &rec.CorrelationID,
		&rec.SentAt, &rec.BouncedAt, &rec.BounceReason,
		&rec.OpenedAt, &rec.ClickedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func requireRecord(res sql.Result, id int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.NewSendRecordNotFound(id)
	}
	return nil
}

var _ SendRecordRepositoryInterface = (*SendRecordRepository)(nil)
