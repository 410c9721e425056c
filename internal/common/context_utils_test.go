package common

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateUUID(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		expectError  bool
		errorMsg     string
		expectedUUID uuid.UUID
	}{
		{
			name:         "Valid UUID",
			input:        "550e8400-e29b-41d4-a716-446655440000",
			expectedUUID: uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
		},
		{
			name:         "Valid UUID with whitespaces trimmed",
			input:        " 550e8400-e29b-41d4-a716-446655440000 ",
			expectedUUID: uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
		},
		{
			name:        "Empty string",
			input:       "",
			expectError: true,
			errorMsg:    "variant_id is required",
		},
		{
			name:        "Empty string after trimming",
			input:       "   ",
			expectError: true,
			errorMsg:    "variant_id is required",
		},
		{
			name:        "Too short UUID",
			input:       "550e8400-e29b-41d4-a716-44665544000",
			expectError: true,
			errorMsg:    "variant_id must be a valid UUID",
		},
		{
			name:        "Invalid character",
			input:       "550e8400-e29b-41d4-g716-446655440000",
			expectError: true,
			errorMsg:    "variant_id must be a valid UUID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ValidateUUID(tt.input, "variant_id")
			if tt.expectError {
				require.Error(t, err)
				assert.Equal(t, tt.errorMsg, err.Error())
				assert.Equal(t, uuid.Nil, result)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedUUID, result)
		})
	}
}

func TestValidateOptionalUUID(t *testing.T) {
	id, err := ValidateOptionalUUID("  ", "location_id")
	assert.NoError(t, err)
	assert.Nil(t, id)

	_, err = ValidateOptionalUUID("warehouse-1", "location_id")
	assert.EqualError(t, err, "location_id must be a valid UUID")
}

func TestParsePagination(t *testing.T) {
	tests := []struct {
		name           string
		query          string
		expectedLimit  int
		expectedOffset int
		expectError    bool
	}{
		{name: "defaults", query: "", expectedLimit: 50},
		{name: "explicit", query: "?limit=20&offset=40", expectedLimit: 20, expectedOffset: 40},
		{name: "limit capped", query: "?limit=5000", expectedLimit: 1000},
		{name: "negative offset clamped", query: "?offset=-3", expectedLimit: 50},
		{name: "non numeric limit", query: "?limit=ten", expectError: true},
		{name: "offset too large", query: "?offset=2000000", expectError: true},
	}

	e := echo.New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/inventory"+tt.query, nil)
			c := e.NewContext(req, httptest.NewRecorder())

			limit, offset, err := ParsePagination(c)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedLimit, limit)
			assert.Equal(t, tt.expectedOffset, offset)
		})
	}
}

func TestParseTimeParamAndDateRange(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/movements?from=2026-01-01T00:00:00Z&to=yesterday", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	from, err := ParseTimeParam(c, "from")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC), from.UTC())

	_, err = ParseTimeParam(c, "to")
	assert.EqualError(t, err, "to must be an RFC 3339 timestamp")

	missing, err := ParseTimeParam(c, "until")
	assert.NoError(t, err)
	assert.Nil(t, missing)

	assert.NoError(t, ValidateDateRange(*from, from.Add(24*time.Hour)))
	assert.Error(t, ValidateDateRange(*from, from.Add(-time.Hour)))
	assert.Error(t, ValidateDateRange(*from, from.AddDate(2, 0, 0)))
}

func TestTenantContext(t *testing.T) {
	tenantID := uuid.New()

	_, ok := GetTenantIDFromContext(context.Background())
	assert.False(t, ok)
	assert.Equal(t, "system", GetActorFromContext(context.Background()))

	ctx := WithTenant(context.Background(), tenantID, "user:clerk-7")
	got, ok := GetTenantIDFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, tenantID, got)
	assert.Equal(t, "user:clerk-7", GetActorFromContext(ctx))
}
