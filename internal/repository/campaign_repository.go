package repository

import (
	"context"
	"database/sql"
	"fmt"

	appErrors "github.com/leadpipe/sequencer-backend/internal/errors"
	"github.com/leadpipe/sequencer-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Campaign, error)
	ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error)
	IncrementTotalSent(ctx context.Context, campaignID int) error
	IncrementTotalOpened(ctx context.Context, campaignID int) error
	IncrementTotalClicked(ctx context.Context, campaignID int) error
	GetSendStats(ctx context.Context, campaignID int) (map[string]int, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

// GetByID fetches a campaign together with its steps ordered by step_order.
func (r *CampaignRepository) GetByID(ctx context.Context, id int) (*model.Campaign, error) {
	query := `
        SELECT id, workspace_id, name, status, stop_on_converted, total_sent, total_opened, total_clicked, created_at, updated_at
        FROM campaigns WHERE id=$1
    `
	var c model.Campaign
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.WorkspaceID, &c.Name, &c.Status, &c.StopOnConverted,
		&c.TotalSent, &c.TotalOpened, &c.TotalClicked, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewCampaignNotFound(id)
		}
		return nil, err
	}

	steps, err := r.stepsFor(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Steps = steps
	return &c, nil
}

func (r *CampaignRepository) stepsFor(ctx context.Context, campaignID int) ([]model.CampaignStep, error) {
	query := `
        SELECT id, campaign_id, step_order, subject, content, condition, delay_days, delay_hours
        FROM campaign_steps
        WHERE campaign_id=$1
        ORDER BY step_order ASC
    `
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	steps := []model.CampaignStep{}
	for rows.Next() {
		var s model.CampaignStep
		if err := rows.Scan(&s.ID, &s.CampaignID, &s.StepOrder, &s.Subject, &s.Content, &s.Condition, &s.DelayDays, &s.DelayHours); err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, rows.Err()
}

func (r *CampaignRepository) ListCampaigns(ctx context.Context, offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT id, workspace_id, name, status, stop_on_converted, total_sent, total_opened, total_clicked, created_at, updated_at FROM campaigns WHERE 1=1`
	args := []interface{}{}
	argPos := 1

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}

	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c := &model.Campaign{}
		if err := rows.Scan(&c.ID, &c.WorkspaceID, &c.Name, &c.Status, &c.StopOnConverted, &c.TotalSent, &c.TotalOpened, &c.TotalClicked, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	argsCount := []interface{}{}
	if status != "" {
		countQuery += " AND status=$1"
		argsCount = append(argsCount, status)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, countQuery, argsCount...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

func (r *CampaignRepository) IncrementTotalSent(ctx context.Context, campaignID int) error {
	query := `UPDATE campaigns SET total_sent=total_sent+1, updated_at=NOW() WHERE id=$1`
	_, err := r.DB.ExecContext(ctx, query, campaignID)
	return err
}

func (r *CampaignRepository) IncrementTotalOpened(ctx context.Context, campaignID int) error {
	query := `UPDATE campaigns SET total_opened=total_opened+1, updated_at=NOW() WHERE id=$1`
	_, err := r.DB.ExecContext(ctx, query, campaignID)
	return err
}

func (r *CampaignRepository) IncrementTotalClicked(ctx context.Context, campaignID int) error {
	query := `UPDATE campaigns SET total_clicked=total_clicked+1, updated_at=NOW() WHERE id=$1`
	_, err := r.DB.ExecContext(ctx, query, campaignID)
	return err
}

// GetSendStats returns send-record counts by status for a campaign.
func (r *CampaignRepository) GetSendStats(ctx context.Context, campaignID int) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM email_send_records WHERE campaign_id=$1 GROUP BY status`
	rows, err := r.DB.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{"pending": 0, "sent": 0, "bounced": 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)
