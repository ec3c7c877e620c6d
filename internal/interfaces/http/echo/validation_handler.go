package echo

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/mohammadpnp/card-ingest/internal/application/validation"
	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
)

type validator interface {
	Validate(ctx context.Context, opts validation.Options) (domain.ValidationReport, error)
}

type ValidationHandler struct {
	validator validator
}

func NewValidationHandler(v validator) *ValidationHandler {
	return &ValidationHandler{validator: v}
}

// Validate runs the checks named in the query. With no check named, the
// card, price, foreign-key and integrity checks all run.
func (h *ValidationHandler) Validate(c echo.Context) error {
	var (
		opts    validation.Options
		anySet  bool
		flagErr error
	)
	flag := func(name string, dst *bool) {
		raw := c.QueryParam(name)
		if raw == "" || flagErr != nil {
			return
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			flagErr = err
			return
		}
		*dst = v
		anySet = true
	}
	flag("cards", &opts.Cards)
	flag("prices", &opts.Prices)
	flag("fk", &opts.ForeignKeys)
	flag("integrity", &opts.Integrity)
	flag("sets", &opts.Sets)
	if flagErr != nil {
		return badRequest(c, "check flags must be booleans")
	}
	if !anySet {
		opts = validation.AllChecks()
	}

	if raw := c.QueryParam("sampleSize"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return badRequest(c, "sampleSize must be a non-negative integer")
		}
		opts.SampleSize = n
	}

	report, err := h.validator.Validate(c.Request().Context(), opts)
	if err != nil {
		return writeError(c, err, "validation failed")
	}
	return c.JSON(http.StatusOK, apiResponse{Data: map[string]any{
		"passed":     report.Passed(),
		"categories": report.Categories,
	}})
}
