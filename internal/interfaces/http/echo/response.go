package echo

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type apiResponse struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

func badRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
		Code:    "bad_request",
		Message: message,
	}})
}

// writeError maps domain errors onto status codes. Anything unknown is a 500
// whose message does not leak the cause.
func writeError(c echo.Context, err error, fallback string) error {
	var running *domain.AlreadyRunningError
	switch {
	case errors.As(err, &running):
		return c.JSON(http.StatusConflict, apiResponse{Error: &errorBody{
			Code:    "already_running",
			Message: "an import is already running",
			Details: map[string]int64{"startedSecondsAgo": running.StartedSecondsAgo},
		}})
	case errors.Is(err, domain.ErrAlreadyRunning):
		return c.JSON(http.StatusConflict, apiResponse{Error: &errorBody{
			Code:    "already_running",
			Message: "an import is already running",
		}})
	case errors.Is(err, domain.ErrInvalidSource):
		return c.JSON(http.StatusBadRequest, apiResponse{Error: &errorBody{
			Code:    "invalid_source",
			Message: err.Error(),
		}})
	case errors.Is(err, domain.ErrMissingCardColumn), errors.Is(err, domain.ErrStructuralParse):
		return c.JSON(http.StatusUnprocessableEntity, apiResponse{Error: &errorBody{
			Code:    "invalid_format",
			Message: err.Error(),
		}})
	case errors.Is(err, domain.ErrJobNotFound):
		return c.JSON(http.StatusNotFound, apiResponse{Error: &errorBody{
			Code:    "not_found",
			Message: "migration not found",
		}})
	case errors.Is(err, domain.ErrNoProgress):
		return c.JSON(http.StatusNotFound, apiResponse{Error: &errorBody{
			Code:    "no_progress",
			Message: "no progress has been reported",
		}})
	}
	return c.JSON(http.StatusInternalServerError, apiResponse{Error: &errorBody{
		Code:    "internal_error",
		Message: fallback,
	}})
}
