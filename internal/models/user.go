package models

import "time"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin   UserRole = "ADMIN"
	RoleTeacher UserRole = "TEACHER"
	RoleStudent UserRole = "STUDENT"
)

// User represents an application user stored in the users table.
type User struct {
	ID            string    `db:"id" json:"id"`
	InstitutionID string    `db:"institution_id" json:"institution_id"`
	Email         string    `db:"email" json:"email"`
	FullName      string    `db:"full_name" json:"full_name"`
	Role          UserRole  `db:"role" json:"role"`
	StudentCode   *string   `db:"student_code" json:"student_code,omitempty"`
	GuardianName  *string   `db:"guardian_name" json:"guardian_name,omitempty"`
	GuardianEmail *string   `db:"guardian_email" json:"guardian_email,omitempty"`
	GuardianPhone *string   `db:"guardian_phone" json:"guardian_phone,omitempty"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// InstitutionMembership links a user to an institution they work for.
type InstitutionMembership struct {
	UserID        string   `db:"user_id" json:"user_id"`
	InstitutionID string   `db:"institution_id" json:"institution_id"`
	Role          UserRole `db:"role" json:"role"`
	Active        bool     `db:"active" json:"active"`
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
}
