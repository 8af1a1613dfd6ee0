package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-attendance-api/internal/models"
)

// GroupRepository reads groups and their memberships.
type GroupRepository struct {
	db *sqlx.DB
}

// NewGroupRepository constructs the repository.
func NewGroupRepository(db *sqlx.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

// FindByID loads a group owned by the institution.
func (r *GroupRepository) FindByID(ctx context.Context, institutionID, id string) (*models.Group, error) {
	const query = `SELECT id, institution_id, period_id, name, grade, created_at, updated_at FROM class_groups WHERE id = $1 AND institution_id = $2`
	var group models.Group
	if err := r.db.GetContext(ctx, &group, query, id, institutionID); err != nil {
		return nil, err
	}
	return &group, nil
}

// IsMember reports whether the student belongs to the group in the given period.
func (r *GroupRepository) IsMember(ctx context.Context, studentID, groupID, periodID string) (bool, error) {
	const query = `SELECT EXISTS (
	SELECT 1 FROM group_memberships gm
	JOIN class_groups g ON g.id = gm.group_id
	WHERE gm.student_id = $1 AND gm.group_id = $2 AND g.period_id = $3
)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, studentID, groupID, periodID); err != nil {
		return false, fmt.Errorf("check group membership: %w", err)
	}
	return exists, nil
}

// CountMembers returns the number of students enrolled in the group.
func (r *GroupRepository) CountMembers(ctx context.Context, groupID string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM group_memberships WHERE group_id = $1`, groupID); err != nil {
		return 0, fmt.Errorf("count group members: %w", err)
	}
	return count, nil
}
