package echo

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	app "github.com/mohammadpnp/card-ingest/internal/application/migration"
)

type csvInspector interface {
	ValidateFormat(ctx context.Context, sourcePath string) (app.CSVFormatReport, error)
	Preview(ctx context.Context, sourcePath string, maxRows int) ([]app.CSVRow, error)
}

type CSVHandler struct {
	inspector csvInspector
}

type csvRequest struct {
	FilePath string `json:"filePath"`
	MaxRows  int    `json:"maxRows"`
}

func NewCSVHandler(inspector csvInspector) *CSVHandler {
	return &CSVHandler{inspector: inspector}
}

func (h *CSVHandler) Handle(c echo.Context) error {
	var req csvRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.FilePath == "" {
		return badRequest(c, "filePath is required")
	}

	ctx := c.Request().Context()
	switch action := c.QueryParam("action"); action {
	case "validate":
		report, err := h.inspector.ValidateFormat(ctx, req.FilePath)
		if err != nil {
			return writeError(c, err, "failed to validate csv")
		}
		return c.JSON(http.StatusOK, apiResponse{Data: report})
	case "preview":
		rows, err := h.inspector.Preview(ctx, req.FilePath, req.MaxRows)
		if err != nil {
			return writeError(c, err, "failed to preview csv")
		}
		return c.JSON(http.StatusOK, apiResponse{Data: map[string]any{"rows": rows}})
	default:
		return badRequest(c, "unknown action "+strconv.Quote(action))
	}
}
