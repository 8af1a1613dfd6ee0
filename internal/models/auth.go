package models

import "github.com/golang-jwt/jwt/v5"

// JWTClaims represents the JWT payload for access tokens.
type JWTClaims struct {
	UserID        string   `json:"user_id"`
	Role          UserRole `json:"role"`
	InstitutionID string   `json:"institution_id"`
	Email         string   `json:"email"`
	FullName      string   `json:"full_name"`
	jwt.RegisteredClaims
}

// Principal is the authenticated caller every mutating operation acts on behalf of.
type Principal struct {
	UserID        string
	Role          UserRole
	InstitutionID string
}

// Principal extracts the authorization view of the claims.
func (c *JWTClaims) Principal() Principal {
	if c == nil {
		return Principal{}
	}
	return Principal{UserID: c.UserID, Role: c.Role, InstitutionID: c.InstitutionID}
}
