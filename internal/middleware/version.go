package middleware

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"stockledger/internal/common"

	"github.com/labstack/echo/v4"
)

type APIVersion struct {
	Version    string     `json:"version"`
	Status     string     `json:"status"` // active, deprecated
	SunsetDate *time.Time `json:"sunset_date,omitempty"`
}

// VersionMiddleware stamps responses with the API version and rejects unknown version prefixes.
type VersionMiddleware struct {
	supported map[string]APIVersion
}

func NewVersionMiddleware() *VersionMiddleware {
	return &VersionMiddleware{supported: map[string]APIVersion{
		"v1": {Version: "v1", Status: "active"},
	}}
}

func (vm *VersionMiddleware) VersionHeader(version string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-API-Version", version)
			if ver, ok := vm.supported[version]; ok && ver.Status == "deprecated" && ver.SunsetDate != nil {
				h.Set("X-API-Deprecated", "true")
				h.Set("X-API-Sunset", ver.SunsetDate.Format(time.RFC3339))
			}
			return next(c)
		}
	}
}

// APIVersionResolver returns 404 for a /vN prefix that is not supported.
func (vm *VersionMiddleware) APIVersionResolver() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			version := versionFromPath(c.Request().URL.Path)
			if version == "" {
				return next(c)
			}
			if _, ok := vm.supported[version]; !ok {
				return c.JSON(http.StatusNotFound, common.CreateErrorResponse("NOT_FOUND", "Unsupported API version",
					map[string]string{"supported_versions": strings.Join(vm.versions(), ", ")}))
			}
			c.Set("api_version", version)
			return next(c)
		}
	}
}

func versionFromPath(path string) string {
	seg, _, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	if len(seg) < 2 || seg[0] != 'v' {
		return ""
	}
	for _, r := range seg[1:] {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return seg
}

func (vm *VersionMiddleware) versions() []string {
	out := make([]string, 0, len(vm.supported))
	for v := range vm.supported {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
