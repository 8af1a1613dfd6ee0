package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-attendance-api/internal/models"
)

// SubjectRepository reads subjects.
type SubjectRepository struct {
	db *sqlx.DB
}

// NewSubjectRepository creates a new subject repository.
func NewSubjectRepository(db *sqlx.DB) *SubjectRepository {
	return &SubjectRepository{db: db}
}

// FindByID loads a subject owned by the institution.
func (r *SubjectRepository) FindByID(ctx context.Context, institutionID, id string) (*models.Subject, error) {
	const query = `SELECT id, institution_id, code, name, created_at, updated_at FROM subjects WHERE id = $1 AND institution_id = $2`
	var subject models.Subject
	if err := r.db.GetContext(ctx, &subject, query, id, institutionID); err != nil {
		return nil, err
	}
	return &subject, nil
}
