package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-attendance-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

var userRowColumns = []string{"id", "institution_id", "email", "full_name", "role", "student_code", "guardian_name", "guardian_email", "guardian_phone", "active", "created_at", "updated_at"}

func TestFindStudentByCode(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(userRowColumns).
		AddRow("stu-1", "inst-1", "ana@example.com", "Ana", string(models.RoleStudent), "QR-001", "Rosa", "rosa@example.com", nil, true, now, now)
	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE institution_id = $1 AND student_code = $2 AND role = $3 AND active = TRUE LIMIT 1")).
		WithArgs("inst-1", "QR-001", models.RoleStudent).
		WillReturnRows(rows)

	user, err := repo.FindStudentByCode(context.Background(), "inst-1", "QR-001")
	require.NoError(t, err)
	assert.Equal(t, "stu-1", user.ID)
	require.NotNil(t, user.GuardianEmail)
	assert.Equal(t, "rosa@example.com", *user.GuardianEmail)
	assert.Nil(t, user.GuardianPhone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindStudentByCodeNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery("FROM users WHERE institution_id").WillReturnError(sql.ErrNoRows)

	_, err := repo.FindStudentByCode(context.Background(), "inst-1", "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHasActiveMembership(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM institution_memberships WHERE user_id = $1 AND institution_id = $2 AND role = $3 AND active = TRUE")).
		WithArgs("t-1", "inst-1", models.RoleTeacher).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.HasActiveMembership(context.Background(), "t-1", "inst-1", models.RoleTeacher)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}
