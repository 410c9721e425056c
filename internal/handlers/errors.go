package handlers

import (
	"net/http"

	"stockledger/internal/common"
	"stockledger/internal/services"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

var kindStatus = map[string]int{
	services.KindInsufficientInventory: http.StatusConflict,
	services.KindNegativeStock:         http.StatusConflict,
	services.KindValidation:            http.StatusUnprocessableEntity,
	services.KindNotFound:              http.StatusNotFound,
	services.KindInvalidState:          http.StatusConflict,
}

// respondError renders an engine error as common.ErrorResponse. Internal errors are logged and their
// message is not exposed.
func respondError(c echo.Context, logger *zap.Logger, err error) error {
	kind := services.ErrorKind(err)
	status, ok := kindStatus[kind]
	if !ok {
		logger.Error("request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err))
		return common.SendServerError(c, "The operation could not be completed")
	}
	return c.JSON(status, common.CreateErrorResponse(kind, err.Error(), services.ErrorDetails(err)))
}

func tenantFrom(c echo.Context) (uuid.UUID, error) {
	tenantID, ok := common.GetTenantIDFromContext(c.Request().Context())
	if !ok {
		return uuid.Nil, echo.NewHTTPError(http.StatusUnauthorized, "Tenant not found")
	}
	return tenantID, nil
}

func actorFrom(c echo.Context) string {
	return common.GetActorFromContext(c.Request().Context())
}

// badRequest is rendered by echo's error handler as a common.ErrorResponse body.
func badRequest(field, message string) error {
	return echo.NewHTTPError(http.StatusBadRequest,
		common.CreateErrorResponse(services.KindValidation, "Validation failed", map[string]string{field: message}))
}

func pathUUID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := common.ValidateUUID(c.Param(name), name)
	if err != nil {
		return uuid.Nil, badRequest(name, err.Error())
	}
	return id, nil
}

func queryUUID(c echo.Context, name string) (*uuid.UUID, error) {
	id, err := common.ValidateOptionalUUID(c.QueryParam(name), name)
	if err != nil {
		return nil, badRequest(name, err.Error())
	}
	return id, nil
}

func bind(c echo.Context, dst interface{}) error {
	if err := c.Bind(dst); err != nil {
		return badRequest("body", "Invalid request body")
	}
	return nil
}
