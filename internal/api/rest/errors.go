package rest

import (
	"errors"
	"net/http"

	"github.com/KevinKickass/OpenSupMCU/internal/devices"
	"github.com/KevinKickass/OpenSupMCU/internal/supmcu"
	"github.com/KevinKickass/OpenSupMCU/internal/types"
	"github.com/gin-gonic/gin"
)

// errorStatus maps protocol errors onto HTTP.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, devices.ErrUnknownBus):
		return http.StatusNotFound, types.CodeUnknownBus
	case errors.Is(err, supmcu.ErrUnknownModule):
		return http.StatusNotFound, types.CodeUnknownModule
	case errors.Is(err, supmcu.ErrUnknownTelemetry):
		return http.StatusNotFound, types.CodeUnknownTelemetry
	case errors.Is(err, supmcu.ErrUnknownCommand):
		return http.StatusNotFound, types.CodeUnknownCommand
	case errors.Is(err, supmcu.ErrNotReady):
		return http.StatusServiceUnavailable, types.CodeNotReady
	case errors.Is(err, supmcu.ErrFraming), errors.Is(err, supmcu.ErrLengthMismatch):
		return http.StatusBadGateway, types.CodeBusFault
	case errors.Is(err, supmcu.ErrDuplicateModule):
		return http.StatusConflict, types.CodeDuplicateModule
	case errors.Is(err, supmcu.ErrInvalidDefinition):
		return http.StatusUnprocessableEntity, types.CodeInvalidModule
	}
	return http.StatusInternalServerError, types.CodeInternal
}

func writeError(c *gin.Context, err error) {
	status, code := errorStatus(err)
	_ = c.Error(err)
	c.JSON(status, types.NewErrorResponse(code, http.StatusText(status), err.Error()))
}

func badRequest(c *gin.Context, message string, err error) {
	var details any
	if err != nil {
		details = err.Error()
	}
	c.JSON(http.StatusBadRequest, types.NewErrorResponse(types.CodeBadRequest, message, details))
}
