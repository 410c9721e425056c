package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"stockledger/internal/common"
	"stockledger/internal/metrics"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// AuditMiddleware logs every mutating request with its tenant and actor and records HTTP metrics.
// Ledger state changes are audited by movements; this covers the request that caused them.
type AuditMiddleware struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewAuditMiddleware(logger *zap.Logger, m *metrics.Metrics) *AuditMiddleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuditMiddleware{logger: logger.Named("http"), metrics: m}
}

func (m *AuditMiddleware) AuditRequest() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			req := c.Request()
			path := c.Path()
			status := responseStatus(c, err)
			elapsed := time.Since(start)
			m.metrics.RecordHTTPRequest(req.Method, path, status, elapsed)

			if shouldSkipLogging(req.Method, path) && err == nil {
				return err
			}
			if req.Method == http.MethodGet && err == nil && status < http.StatusBadRequest {
				return err
			}

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("path", path),
				zap.Int("status", status),
				zap.Duration("duration", elapsed),
				zap.String("ip", c.RealIP()),
				zap.String("actor", common.GetActorFromContext(req.Context())),
			}
			if tenantID, ok := common.GetTenantIDFromContext(req.Context()); ok {
				fields = append(fields, zap.String("tenant_id", tenantID.String()))
			}
			if err != nil {
				fields = append(fields, zap.Error(err))
			}

			switch {
			case status >= http.StatusInternalServerError:
				m.logger.Error("request failed", fields...)
			case status >= http.StatusBadRequest:
				m.logger.Warn("request rejected", fields...)
			default:
				m.logger.Info("request", fields...)
			}
			return err
		}
	}
}

// responseStatus resolves the status an error will be rendered with, since the error handler runs
// after this middleware returns.
func responseStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

func shouldSkipLogging(method, path string) bool {
	if method != http.MethodGet {
		return false
	}
	for _, prefix := range []string{"/health", "/metrics"} {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
