package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-attendance-api/internal/models"
)

// PeriodRepository reads academic periods.
type PeriodRepository struct {
	db *sqlx.DB
}

// NewPeriodRepository constructs the repository.
func NewPeriodRepository(db *sqlx.DB) *PeriodRepository {
	return &PeriodRepository{db: db}
}

// FindByID loads a period owned by the institution.
func (r *PeriodRepository) FindByID(ctx context.Context, institutionID, id string) (*models.Period, error) {
	const query = `SELECT id, institution_id, name, start_date, end_date, is_active, created_at, updated_at FROM periods WHERE id = $1 AND institution_id = $2`
	var period models.Period
	if err := r.db.GetContext(ctx, &period, query, id, institutionID); err != nil {
		return nil, err
	}
	return &period, nil
}
