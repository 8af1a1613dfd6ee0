package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-attendance-api/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-api/pkg/errors"
)

func signTestToken(t *testing.T, secret string, claims *models.JWTClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func testClaims(issuer string, expires time.Time) *models.JWTClaims {
	return &models.JWTClaims{
		UserID:        "t-1",
		Role:          models.RoleTeacher,
		InstitutionID: "inst-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
}

func TestValidateTokenSuccess(t *testing.T) {
	svc := NewAuthService(AuthConfig{AccessTokenSecret: "secret", Issuer: "sma-attendance"})
	token := signTestToken(t, "secret", testClaims("sma-attendance", time.Now().Add(time.Hour)))

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, models.Principal{UserID: "t-1", Role: models.RoleTeacher, InstitutionID: "inst-1"}, claims.Principal())
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	svc := NewAuthService(AuthConfig{AccessTokenSecret: "secret"})
	token := signTestToken(t, "other", testClaims("", time.Now().Add(time.Hour)))

	_, err := svc.ValidateToken(token)
	require.Error(t, err)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc := NewAuthService(AuthConfig{AccessTokenSecret: "secret"})
	token := signTestToken(t, "secret", testClaims("", time.Now().Add(-time.Minute)))

	_, err := svc.ValidateToken(token)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestValidateTokenRejectsWrongIssuer(t *testing.T) {
	svc := NewAuthService(AuthConfig{AccessTokenSecret: "secret", Issuer: "sma-attendance"})
	token := signTestToken(t, "secret", testClaims("someone-else", time.Now().Add(time.Hour)))

	_, err := svc.ValidateToken(token)
	assert.ErrorIs(t, err, appErrors.ErrUnauthorized)
}

func TestValidateTokenRequiresInstitution(t *testing.T) {
	svc := NewAuthService(AuthConfig{AccessTokenSecret: "secret"})
	claims := testClaims("", time.Now().Add(time.Hour))
	claims.InstitutionID = ""
	token := signTestToken(t, "secret", claims)

	_, err := svc.ValidateToken(token)
	require.Error(t, err)
	assert.Equal(t, "token is missing user or institution", appErrors.FromError(err).Message)
}
