package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/noah-isme/sma-attendance-api/internal/models"
	"github.com/noah-isme/sma-attendance-api/internal/service"
	appErrors "github.com/noah-isme/sma-attendance-api/pkg/errors"
)

type stubValidator struct {
	claims *models.JWTClaims
}

func (s stubValidator) ValidateToken(token string) (*models.JWTClaims, error) {
	if token != "good" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")
	}
	return s.claims, nil
}

func newRouter(role models.UserRole, allowed ...models.UserRole) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	claims := &models.JWTClaims{UserID: "u-1", Role: role, InstitutionID: "inst-1"}
	r.GET("/protected", JWT(stubValidator{claims: claims}), RequireRoles(allowed...), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func doGet(r *gin.Engine, auth string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestJWTRequiresBearerToken(t *testing.T) {
	r := newRouter(models.RoleAdmin, models.RoleAdmin)

	assert.Equal(t, http.StatusUnauthorized, doGet(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(r, "Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, doGet(r, "Bearer nope").Code)
	assert.Equal(t, http.StatusOK, doGet(r, "Bearer good").Code)
}

func TestRequireRolesForbidsOtherRoles(t *testing.T) {
	r := newRouter(models.RoleStudent, models.RoleAdmin, models.RoleTeacher)
	assert.Equal(t, http.StatusForbidden, doGet(r, "Bearer good").Code)

	r = newRouter(models.RoleTeacher, models.RoleAdmin, models.RoleTeacher)
	assert.Equal(t, http.StatusOK, doGet(r, "Bearer good").Code)
}

func TestMetricsRecordsRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	r := gin.New()
	r.Use(Metrics(metrics))
	r.GET("/schedules/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/schedules/abc", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	count, err := testutil.GatherAndCount(metrics.Registry(), "http_requests_total")
	assert.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestAuditLogsSuccessfulMutations(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.InfoLevel)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(ContextUserKey, &models.JWTClaims{UserID: "u-1", Role: models.RoleAdmin, InstitutionID: "inst-1"})
	})
	r.DELETE("/schedules/:id", Audit(zap.New(core), "delete", "schedule"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	r.POST("/schedules", Audit(zap.New(core), "create", "schedule"), func(c *gin.Context) {
		c.Status(http.StatusConflict)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/schedules/sch-1", nil))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/schedules", nil))

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "delete", fields["action"])
		assert.Equal(t, "sch-1", fields["resource_id"])
		assert.Equal(t, "u-1", fields["user_id"])
	}
}
