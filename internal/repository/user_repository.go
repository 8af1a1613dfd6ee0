package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-attendance-api/internal/models"
)

const userColumns = "id, institution_id, email, full_name, role, student_code, guardian_name, guardian_email, guardian_phone, active, created_at, updated_at"

// UserRepository handles persistence for users.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new repository instance.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByID fetches a user by id.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	query := fmt.Sprintf("SELECT %s FROM users WHERE id = $1 LIMIT 1", userColumns)
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		return nil, err
	}
	return &user, nil
}

// FindStudentByCode resolves an active student of the institution by scan code.
func (r *UserRepository) FindStudentByCode(ctx context.Context, institutionID, code string) (*models.User, error) {
	var user models.User
	query := fmt.Sprintf("SELECT %s FROM users WHERE institution_id = $1 AND student_code = $2 AND role = $3 AND active = TRUE LIMIT 1", userColumns)
	if err := r.db.GetContext(ctx, &user, query, institutionID, code, models.RoleStudent); err != nil {
		return nil, err
	}
	return &user, nil
}

// HasActiveMembership reports whether the user holds an active membership with the given role.
func (r *UserRepository) HasActiveMembership(ctx context.Context, userID, institutionID string, role models.UserRole) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM institution_memberships WHERE user_id = $1 AND institution_id = $2 AND role = $3 AND active = TRUE)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, userID, institutionID, role); err != nil {
		return false, fmt.Errorf("check institution membership: %w", err)
	}
	return exists, nil
}
