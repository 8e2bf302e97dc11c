package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	appErrors "github.com/leadpipe/sequencer-backend/internal/errors"
	"github.com/leadpipe/sequencer-backend/internal/model"
)

// StaleClaimAfter is how long a claim is honored before another run may take
// the enrollment over. Matches the host's hard execution-time ceiling.
const StaleClaimAfter = 5 * time.Minute

// DueEnrollment is the batch selector's join row: an enrollment together with
// everything the engine needs to advance it.
type DueEnrollment struct {
	Enrollment model.Enrollment
	Campaign   model.Campaign
	Lead       model.Lead
	Workspace  model.Workspace
}

// EnrollmentFilter is a typed filter for enrollment listings.
type EnrollmentFilter struct {
	CampaignID int
	Status     string
	Offset     int
	Limit      int
}

type EnrollmentRepositoryInterface interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*DueEnrollment, error)
	Advance(ctx context.Context, id, nextStep int, nextSendAt time.Time) error
	Complete(ctx context.Context, id int, at time.Time) error
	Stop(ctx context.Context, id int, reason string, at time.Time) error
	ReleaseClaim(ctx context.Context, id int) error
	GetByID(ctx context.Context, id int) (*model.Enrollment, error)
	List(ctx context.Context, f EnrollmentFilter) ([]*model.Enrollment, int, error)
}

type EnrollmentRepository struct {
	DB *sql.DB
}

// ClaimDue atomically claims up to limit due enrollments and returns them
// joined with campaign, lead and workspace. SKIP LOCKED keeps overlapping
// trigger invocations from claiming the same row; claims older than
// StaleClaimAfter are taken over so a killed run cannot strand enrollments.
func (r *EnrollmentRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*DueEnrollment, error) {
	claimQuery := `
        UPDATE enrollments SET claimed_at=$1, updated_at=NOW()
        WHERE id IN (
            SELECT id FROM enrollments
            WHERE status='active'
              AND next_send_at <= $1
              AND (claimed_at IS NULL OR claimed_at < $2)
            ORDER BY next_send_at ASC, id ASC
            LIMIT $3
            FOR UPDATE SKIP LOCKED
        )
        RETURNING id
    `
	rows, err := r.DB.QueryContext(ctx, claimQuery, now, now.Add(-StaleClaimAfter), limit)
	if err != nil {
		return nil, fmt.Errorf("claim due enrollments: %w", err)
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*DueEnrollment{}, nil
	}

	return r.fetchClaimed(ctx, ids)
}

func (r *EnrollmentRepository) fetchClaimed(ctx context.Context, ids []int) ([]*DueEnrollment, error) {
	query := `
        SELECT e.id, e.campaign_id, e.lead_id, e.status, e.current_step, e.next_send_at,
               COALESCE(e.stop_reason, ''), e.completed_at, e.stopped_at, e.claimed_at, e.created_at, e.updated_at,
               c.id, c.workspace_id, c.name, c.status, c.stop_on_converted,
               c.total_sent, c.total_opened, c.total_clicked, c.created_at, c.updated_at,
               l.id, l.workspace_id, l.email, l.first_name, l.last_name, l.company, l.phone, l.status,
               w.id, w.name, w.sender_name, w.sender_email,
               COALESCE(w.smtp_host, ''), COALESCE(w.smtp_port, 0), COALESCE(w.smtp_user, ''), COALESCE(w.smtp_password, '')
        FROM enrollments e
        JOIN campaigns c ON c.id = e.campaign_id
        JOIN leads l ON l.id = e.lead_id
        JOIN workspaces w ON w.id = c.workspace_id
        WHERE e.id = ANY($1)
        ORDER BY e.next_send_at ASC, e.id ASC
    `
	rows, err := r.DB.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batch := []*DueEnrollment{}
	stepsByCampaign := map[int][]model.CampaignStep{}
	for rows.Next() {
		d := &DueEnrollment{}
		e, c, l, w := &d.Enrollment, &d.Campaign, &d.Lead, &d.Workspace
		err := rows.Scan(
			&e.ID, &e.CampaignID, &e.LeadID, &e.Status, &e.CurrentStep, &e.NextSendAt,
			&e.StopReason, &e.CompletedAt, &e.StoppedAt, &e.ClaimedAt, &e.CreatedAt, &e.UpdatedAt,
			&c.ID, &c.WorkspaceID, &c.Name, &c.Status, &c.StopOnConverted,
			&c.TotalSent, &c.TotalOpened, &c.TotalClicked, &c.CreatedAt, &c.UpdatedAt,
			&l.ID, &l.WorkspaceID, &l.Email, &l.FirstName, &l.LastName, &l.Company, &l.Phone, &l.Status,
			&w.ID, &w.Name, &w.SenderName, &w.SenderEmail,
			&w.SMTPHost, &w.SMTPPort, &w.SMTPUser, &w.SMTPPassword,
		)
		if err != nil {
			return nil, err
		}
		batch = append(batch, d)
		stepsByCampaign[c.ID] = nil
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// One steps query per distinct campaign in the batch.
	stepRepo := &CampaignRepository{DB: r.DB}
	for campaignID := range stepsByCampaign {
		steps, err := stepRepo.stepsFor(ctx, campaignID)
		if err != nil {
			return nil, err
		}
		stepsByCampaign[campaignID] = steps
	}
	for _, d := range batch {
		d.Campaign.Steps = stepsByCampaign[d.Campaign.ID]
	}

	return batch, nil
}

// Advance moves an active enrollment forward to nextStep, rescheduling it and
// releasing the claim. The status guard keeps a terminal row terminal.
func (r *EnrollmentRepository) Advance(ctx context.Context, id, nextStep int, nextSendAt time.Time) error {
	query := `
        UPDATE enrollments
        SET current_step=$1, next_send_at=$2, claimed_at=NULL, updated_at=NOW()
        WHERE id=$3 AND status='active'
    `
	res, err := r.DB.ExecContext(ctx, query, nextStep, nextSendAt, id)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

func (r *EnrollmentRepository) Complete(ctx context.Context, id int, at time.Time) error {
	query := `
        UPDATE enrollments
        SET status='completed', completed_at=$1, next_send_at=NULL, claimed_at=NULL, updated_at=NOW()
        WHERE id=$2 AND status='active'
    `
	res, err := r.DB.ExecContext(ctx, query, at, id)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

func (r *EnrollmentRepository) Stop(ctx context.Context, id int, reason string, at time.Time) error {
	query := `
        UPDATE enrollments
        SET status='stopped', stop_reason=$1, stopped_at=$2, next_send_at=NULL, claimed_at=NULL, updated_at=NOW()
        WHERE id=$3 AND status='active'
    `
	res, err := r.DB.ExecContext(ctx, query, reason, at, id)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

// ReleaseClaim hands a still-active enrollment back to the next pass without
// touching its schedule. Used on transport failure and per-enrollment errors.
func (r *EnrollmentRepository) ReleaseClaim(ctx context.Context, id int) error {
	query := `UPDATE enrollments SET claimed_at=NULL, updated_at=NOW() WHERE id=$1`
	_, err := r.DB.ExecContext(ctx, query, id)
	return err
}

func (r *EnrollmentRepository) GetByID(ctx context.Context, id int) (*model.Enrollment, error) {
	query := `
        SELECT id, campaign_id, lead_id, status, current_step, next_send_at,
               COALESCE(stop_reason, ''), completed_at, stopped_at, claimed_at, created_at, updated_at
        FROM enrollments WHERE id=$1
    `
	var e model.Enrollment
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &e.CampaignID, &e.LeadID, &e.Status, &e.CurrentStep, &e.NextSendAt,
		&e.StopReason, &e.CompletedAt, &e.StoppedAt, &e.ClaimedAt, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewEnrollmentNotFound(id)
		}
		return nil, err
	}
	return &e, nil
}

func (r *EnrollmentRepository) List(ctx context.Context, f EnrollmentFilter) ([]*model.Enrollment, int, error) {
	enrollments := []*model.Enrollment{}
	query := `
        SELECT id, campaign_id, lead_id, status, current_step, next_send_at,
               COALESCE(stop_reason, ''), completed_at, stopped_at, claimed_at, created_at, updated_at
        FROM enrollments WHERE campaign_id=$1
    `
	args := []interface{}{f.CampaignID}
	argPos := 2

	if f.Status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, f.Status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY id ASC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, f.Limit, f.Offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		e := &model.Enrollment{}
		if err := rows.Scan(
			&e.ID, &e.CampaignID, &e.LeadID, &e.Status, &e.CurrentStep, &e.NextSendAt,
			&e.StopReason, &e.CompletedAt, &e.StoppedAt, &e.ClaimedAt, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		enrollments = append(enrollments, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	countQuery := `SELECT COUNT(*) FROM enrollments WHERE campaign_id=$1`
	argsCount := []interface{}{f.CampaignID}
	if f.Status != "" {
		countQuery += " AND status=$2"
		argsCount = append(argsCount, f.Status)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return enrollments, total, nil
}

func requireRow(res sql.Result, id int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return appErrors.NewEnrollmentNotFound(id)
	}
	return nil
}

var _ EnrollmentRepositoryInterface = (*EnrollmentRepository)(nil)
