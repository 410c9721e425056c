package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stockledger/internal/common"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, claims LedgerClaims) string {
	t.Helper()
	if claims.ExpiresAt == nil {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(time.Hour))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func newTestServer(t *testing.T, scope string) *echo.Echo {
	t.Helper()
	auth, err := NewTenantJWT(JWTConfig{Secret: testSecret}, nil)
	require.NoError(t, err)

	e := echo.New()
	g := e.Group("/v1", auth.Middleware())
	g.GET("/whoami", func(c echo.Context) error {
		tenantID, ok := common.GetTenantIDFromContext(c.Request().Context())
		if !ok {
			return c.NoContent(http.StatusTeapot)
		}
		return c.JSON(http.StatusOK, map[string]string{
			"tenant": tenantID.String(),
			"actor":  common.GetActorFromContext(c.Request().Context()),
		})
	}, RequireScope(scope))
	return e
}

func do(e *echo.Echo, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/v1/whoami", nil)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestTenantJWT_ScopesRequestToTenant(t *testing.T) {
	e := newTestServer(t, ScopeRead)
	tenantID := uuid.New()

	token := signToken(t, testSecret, LedgerClaims{
		TenantID:         tenantID.String(),
		Scopes:           []string{ScopeWrite},
		RegisteredClaims: jwt.RegisteredClaims{Subject: "ops-1"},
	})
	rec := do(e, token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), tenantID.String())
	assert.Contains(t, rec.Body.String(), "user:ops-1")
}

func TestTenantJWT_Rejections(t *testing.T) {
	e := newTestServer(t, ScopeAdmin)
	tenantID := uuid.New().String()

	tests := []struct {
		name  string
		token string
		code  int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"wrong secret", signToken(t, "other", LedgerClaims{TenantID: tenantID, Scopes: []string{ScopeAdmin}}), http.StatusUnauthorized},
		{"expired", signToken(t, testSecret, LedgerClaims{
			TenantID:         tenantID,
			Scopes:           []string{ScopeAdmin},
			RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute))},
		}), http.StatusUnauthorized},
		{"no tenant", signToken(t, testSecret, LedgerClaims{Scopes: []string{ScopeAdmin}}), http.StatusUnauthorized},
		{"insufficient scope", signToken(t, testSecret, LedgerClaims{TenantID: tenantID, Scopes: []string{ScopeWrite}}), http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, tt.token)
			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusUnauthorized {
				assert.Contains(t, rec.Body.String(), `"code":"UNAUTHORIZED"`)
			}
		})
	}
}

func TestNewTenantJWT_RequiresKeySource(t *testing.T) {
	_, err := NewTenantJWT(JWTConfig{}, nil)
	assert.Error(t, err)
}

func TestVersionMiddleware(t *testing.T) {
	vm := NewVersionMiddleware()
	e := echo.New()
	e.Use(vm.APIVersionResolver())
	e.GET("/v1/ping", func(c echo.Context) error { return c.String(http.StatusOK, "pong") }, vm.VersionHeader("v1"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ping", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v1", rec.Header().Get("X-API-Version"))

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v7/ping", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Unsupported API version")
}
