package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/service"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims models.JWTClaims, secret string) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func newRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/students/:id/enrollments", handlers...)
	return r
}

func do(r http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/students/S1/enrollments", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTRejectsMissingAndInvalidTokens(t *testing.T) {
	verifier := NewTokenVerifier(testSecret, "campus-idp")
	r := newRouter(JWT(verifier))

	assert.Equal(t, http.StatusUnauthorized, do(r, "").Code)

	forged := signToken(t, models.JWTClaims{UserID: "u1", Role: models.RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{Issuer: "campus-idp"}}, "other-secret")
	assert.Equal(t, http.StatusUnauthorized, do(r, forged).Code)

	wrongIssuer := signToken(t, models.JWTClaims{UserID: "u1", Role: models.RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{Issuer: "elsewhere"}}, testSecret)
	assert.Equal(t, http.StatusUnauthorized, do(r, wrongIssuer).Code)

	expired := signToken(t, models.JWTClaims{UserID: "u1", Role: models.RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "campus-idp",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	}}, testSecret)
	assert.Equal(t, http.StatusUnauthorized, do(r, expired).Code)

	valid := signToken(t, models.JWTClaims{UserID: "u1", Role: models.RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{Issuer: "campus-idp"}}, testSecret)
	assert.Equal(t, http.StatusNoContent, do(r, valid).Code)
}

func TestRBACAllowsStaffAndSelf(t *testing.T) {
	verifier := NewTokenVerifier(testSecret, "")
	r := newRouter(JWT(verifier), RBAC(string(models.RoleRegistrar), "SELF"))

	registrar := signToken(t, models.JWTClaims{UserID: "r1", Role: models.RoleRegistrar}, testSecret)
	assert.Equal(t, http.StatusNoContent, do(r, registrar).Code)

	self := signToken(t, models.JWTClaims{UserID: "u9", Role: models.RoleStudent, StudentID: "S1"}, testSecret)
	assert.Equal(t, http.StatusNoContent, do(r, self).Code)

	other := signToken(t, models.JWTClaims{UserID: "u8", Role: models.RoleStudent, StudentID: "S2"}, testSecret)
	assert.Equal(t, http.StatusForbidden, do(r, other).Code)

	advisor := signToken(t, models.JWTClaims{UserID: "a1", Role: models.RoleAdvisor}, testSecret)
	assert.Equal(t, http.StatusForbidden, do(r, advisor).Code)
}

type auditRecorder struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (a *auditRecorder) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, *log)
	return nil
}

func TestAuditRecordsSuccessfulRequestsOnly(t *testing.T) {
	repo := &auditRecorder{}
	verifier := NewTokenVerifier(testSecret, "")
	r := newRouter(JWT(verifier), Audit(repo, nil, models.AuditActionRegister, "enrollment"))

	token := signToken(t, models.JWTClaims{UserID: "r1", Role: models.RoleRegistrar}, testSecret)
	assert.Equal(t, http.StatusNoContent, do(r, token).Code)
	assert.Equal(t, http.StatusUnauthorized, do(r, "").Code)

	require.Len(t, repo.entries, 1)
	entry := repo.entries[0]
	assert.Equal(t, models.AuditActionRegister, entry.Action)
	require.NotNil(t, entry.UserID)
	assert.Equal(t, "r1", *entry.UserID)
	require.NotNil(t, entry.ResourceID)
	assert.Equal(t, "S1", *entry.ResourceID)
}

func TestMetricsSkipsProbesAndFoldsUnmatched(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	r := gin.New()
	r.Use(Metrics(metrics, "/health"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/sections/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/health", "/sections/A", "/sections/B", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	families, err := metrics.Registry().Gather()
	require.NoError(t, err)
	paths := map[string]float64{}
	for _, family := range families {
		if family.GetName() != "http_requests_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "path" {
					paths[label.GetValue()] += m.GetCounter().GetValue()
				}
			}
		}
	}
	assert.Equal(t, map[string]float64{"/sections/:id": 2, "unmatched": 1}, paths)
}
