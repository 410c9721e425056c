package handlers

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"stockledger/internal/jobs"

	"github.com/labstack/echo/v4"
)

// Pinger is a dependency the readiness probe checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Dependency is checked by the readiness probe. A failing critical dependency makes the service
// not ready; a failing optional one only degrades it.
type Dependency struct {
	Name     string
	Pinger   Pinger
	Critical bool
}

// HealthHandlers handles health check and monitoring endpoints
type HealthHandlers struct {
	deps      []Dependency
	sweeper   *jobs.ExpirationSweeper
	version   string
	startedAt time.Time
	timeout   time.Duration
}

func NewHealthHandlers(sweeper *jobs.ExpirationSweeper, version string, deps ...Dependency) *HealthHandlers {
	deps = append([]Dependency(nil), deps...)
	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })
	return &HealthHandlers{
		deps:      deps,
		sweeper:   sweeper,
		version:   version,
		startedAt: time.Now(),
		timeout:   2 * time.Second,
	}
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Services   map[string]string `json:"services,omitempty"`
	Uptime     string            `json:"uptime"`
	Version    string            `json:"version"`
	Goroutines int               `json:"goroutines"`
}

// LivenessCheck handles GET /health. It does not touch dependencies.
func (h *HealthHandlers) LivenessCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, &HealthStatus{
		Status:     "alive",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Uptime:     time.Since(h.startedAt).Round(time.Second).String(),
		Version:    h.version,
		Goroutines: runtime.NumGoroutine(),
	})
}

// ReadinessCheck handles GET /health/ready: 200 when healthy or degraded, 503 when a critical
// dependency is down.
func (h *HealthHandlers) ReadinessCheck(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()

	health := &HealthStatus{
		Status:    "ready",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  make(map[string]string, len(h.deps)),
		Uptime:    time.Since(h.startedAt).Round(time.Second).String(),
		Version:   h.version,
	}

	statusCode := http.StatusOK
	for _, d := range h.deps {
		if err := d.Pinger.Ping(ctx); err != nil {
			health.Services[d.Name] = "unhealthy: " + err.Error()
			if d.Critical {
				health.Status = "not_ready"
				statusCode = http.StatusServiceUnavailable
			} else if health.Status == "ready" {
				health.Status = "degraded"
			}
			continue
		}
		health.Services[d.Name] = "healthy"
	}
	return c.JSON(statusCode, health)
}

// SweeperHealth handles GET /health/sweeper with the most recent sweep report and its alerts.
func (h *HealthHandlers) SweeperHealth(c echo.Context) error {
	if h.sweeper == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "disabled"})
	}
	report := h.sweeper.LastReport()
	if report == nil {
		return c.JSON(http.StatusOK, map[string]string{"status": "pending"})
	}
	status := "healthy"
	if !report.Healthy() {
		status = "alerting"
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": status,
		"report": report,
	})
}
