package middleware

import (
	"errors"
	"fmt"
	"time"

	"stockledger/internal/common"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// LedgerClaims are the claims the ledger API expects. The subject names the caller.
type LedgerClaims struct {
	TenantID string   `json:"tenant_id"`
	Scopes   []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

type JWTConfig struct {
	// Secret verifies HS256 tokens when JWKSURL is empty.
	Secret  string
	JWKSURL string
}

// TenantJWT verifies bearer tokens and scopes the request to the tenant in the token.
type TenantJWT struct {
	keyFunc jwt.Keyfunc
	jwks    *keyfunc.JWKS
	logger  *zap.Logger
}

func NewTenantJWT(cfg JWTConfig, logger *zap.Logger) (*TenantJWT, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &TenantJWT{logger: logger.Named("jwt")}

	switch {
	case cfg.JWKSURL != "":
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{
			RefreshInterval:   time.Hour,
			RefreshRateLimit:  5 * time.Minute,
			RefreshTimeout:    10 * time.Second,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				t.logger.Warn("jwks refresh failed", zap.Error(err))
			},
		})
		if err != nil {
			return nil, fmt.Errorf("load jwks: %w", err)
		}
		t.jwks = jwks
		t.keyFunc = jwks.Keyfunc
	case cfg.Secret != "":
		secret := []byte(cfg.Secret)
		t.keyFunc = func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return secret, nil
		}
	default:
		return nil, errors.New("jwt: either a secret or a JWKS URL is required")
	}
	return t, nil
}

// Middleware returns the echo middleware chain: echo-jwt verification followed by the tenant check.
func (t *TenantJWT) Middleware() echo.MiddlewareFunc {
	verify := echojwt.WithConfig(echojwt.Config{
		KeyFunc: t.keyFunc,
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(LedgerClaims)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			t.logger.Debug("rejected token", zap.Error(err))
			return common.SendUnauthorizedError(c)
		},
	})
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return verify(func(c echo.Context) error {
			token, ok := c.Get("user").(*jwt.Token)
			if !ok {
				return common.SendUnauthorizedError(c)
			}
			claims, ok := token.Claims.(*LedgerClaims)
			if !ok {
				return common.SendUnauthorizedError(c)
			}
			tenantID, err := uuid.Parse(claims.TenantID)
			if err != nil {
				t.logger.Debug("token without tenant_id", zap.String("subject", claims.Subject))
				return common.SendUnauthorizedError(c)
			}
			actor := "user:" + claims.Subject
			if claims.Subject == "" {
				actor = "tenant:" + tenantID.String()
			}
			c.SetRequest(c.Request().WithContext(common.WithTenant(c.Request().Context(), tenantID, actor)))
			return next(c)
		})
	}
}

// Close stops the JWKS background refresh.
func (t *TenantJWT) Close() {
	if t.jwks != nil {
		t.jwks.EndBackground()
	}
}
