package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"fidus/internal/classifier"
	"fidus/internal/client/mt5bridge"
	"fidus/internal/rebate"
	"fidus/internal/service"
)

type apiResponse struct {
	Code    int            `json:"code"`
	Message string         `json:"message"`
	Data    any            `json:"data,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

func Ok(c *gin.Context, data any, meta map[string]any) {
	c.JSON(http.StatusOK, apiResponse{
		Code:    0,
		Message: "ok",
		Data:    data,
		Meta:    meta,
	})
}

func Error(c *gin.Context, status int, message string, meta map[string]any) {
	c.JSON(status, apiResponse{
		Code:    status,
		Message: message,
		Meta:    meta,
	})
}

// Fail maps domain errors onto HTTP statuses. Bridge failures carry their
// outcome in meta so clients can tell a timeout from a bad response.
func Fail(c *gin.Context, err error) {
	var bf *mt5bridge.Failure
	switch {
	case errors.As(err, &bf):
		Error(c, http.StatusBadGateway, err.Error(), map[string]any{"bridge_outcome": bf.Outcome})
	case errors.Is(err, service.ErrAccountNotFound), errors.Is(err, rebate.ErrNotFound):
		Error(c, http.StatusNotFound, err.Error(), nil)
	case errors.Is(err, service.ErrSyncInProgress):
		Error(c, http.StatusConflict, err.Error(), nil)
	case errors.Is(err, service.ErrInvalidAccount),
		errors.Is(err, service.ErrInvalidSetting),
		errors.Is(err, rebate.ErrInvalidPeriod),
		errors.Is(err, rebate.ErrInvalidTransition),
		errors.Is(err, classifier.ErrNotSequence),
		errors.Is(err, classifier.ErrInvalidRuleSet):
		Error(c, http.StatusBadRequest, err.Error(), nil)
	default:
		Error(c, http.StatusBadGateway, err.Error(), nil)
	}
}
