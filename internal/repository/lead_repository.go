package repository

import (
	"context"
	"database/sql"

	appErrors "github.com/leadpipe/sequencer-backend/internal/errors"
	"github.com/leadpipe/sequencer-backend/internal/model"
)

// LeadRepositoryInterface is read-only: the engine never writes leads.
type LeadRepositoryInterface interface {
	GetByID(ctx context.Context, id int) (*model.Lead, error)
}

type LeadRepository struct {
	DB *sql.DB
}

// GetByID fetches a lead by ID
func (r *LeadRepository) GetByID(ctx context.Context, id int) (*model.Lead, error) {
	query := `
        SELECT id, workspace_id, email, first_name, last_name, company, phone, status
        FROM leads
        WHERE id = $1
    `
	row := r.DB.QueryRowContext(ctx, query, id)

	var l model.Lead
	if err := row.Scan(&l.ID, &l.WorkspaceID, &l.Email, &l.FirstName, &l.LastName, &l.Company, &l.Phone, &l.Status); err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewLeadNotFound(id)
		}
		return nil, err
	}
	return &l, nil
}

var _ LeadRepositoryInterface = (*LeadRepository)(nil)
