package middleware

import (
	"net/http"
	"slices"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Token scopes. Each scope implies the ones listed before it.
const (
	ScopeRead  = "ledger:read"
	ScopeWrite = "ledger:write"
	ScopeAdmin = "ledger:admin"
)

var scopeRank = map[string]int{ScopeRead: 1, ScopeWrite: 2, ScopeAdmin: 3}

// RequireScope rejects requests whose token does not grant scope. It must run after TenantJWT.
func RequireScope(scope string) echo.MiddlewareFunc {
	need := scopeRank[scope]
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := c.Get("user").(*jwt.Token)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "User not authenticated")
			}
			claims, ok := token.Claims.(*LedgerClaims)
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid claims")
			}
			if !hasScope(claims.Scopes, need) {
				return echo.NewHTTPError(http.StatusForbidden, "Insufficient permissions")
			}
			return next(c)
		}
	}
}

func hasScope(granted []string, need int) bool {
	return slices.ContainsFunc(granted, func(s string) bool { return scopeRank[s] >= need })
}
