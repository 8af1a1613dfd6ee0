package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-attendance-api/internal/middleware"
	"github.com/noah-isme/sma-attendance-api/internal/models"
	appErrors "github.com/noah-isme/sma-attendance-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// principalFromContext returns the authenticated caller or an unauthorized error.
func principalFromContext(c *gin.Context) (models.Principal, error) {
	claims := claimsFromContext(c)
	if claims == nil || claims.InstitutionID == "" {
		return models.Principal{}, appErrors.ErrUnauthorized
	}
	return claims.Principal(), nil
}
