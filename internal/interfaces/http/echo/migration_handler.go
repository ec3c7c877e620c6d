package echo

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	app "github.com/mohammadpnp/card-ingest/internal/application/migration"
	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
)

const defaultHistoryLimit = 20

type migrationService interface {
	StartJSONMigration(ctx context.Context, sourcePath string, opts app.JSONOptions) (string, error)
	StartCSVImport(ctx context.Context, sourcePath string, opts app.CSVOptions) (string, error)
	CancelMigration(id string) bool
	ActiveMigrations() []domain.MigrationJob
	MigrationHistory(limit int) []domain.MigrationJob
	CleanupCompletedMigrations() int
	Get(id string) (domain.MigrationJob, error)
}

type progressReader interface {
	Read(ctx context.Context) (domain.ProgressSnapshot, error)
}

type MigrationHandler struct {
	service  migrationService
	progress progressReader
}

type startJSONRequest struct {
	SourceFile string          `json:"sourceFile"`
	Options    app.JSONOptions `json:"options"`
}

type startCSVRequest struct {
	SourceFile string         `json:"sourceFile"`
	Options    app.CSVOptions `json:"options"`
}

type cancelRequest struct {
	MigrationID string `json:"migrationId"`
}

func NewMigrationHandler(service migrationService, progress progressReader) *MigrationHandler {
	return &MigrationHandler{service: service, progress: progress}
}

// Query serves the read-only actions: status, history, progress and job.
func (h *MigrationHandler) Query(c echo.Context) error {
	switch action := c.QueryParam("action"); action {
	case "", "status":
		return c.JSON(http.StatusOK, apiResponse{Data: map[string]any{
			"migrations": h.service.ActiveMigrations(),
		}})
	case "history":
		limit := defaultHistoryLimit
		if raw := c.QueryParam("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				return badRequest(c, "limit must be a positive integer")
			}
			limit = n
		}
		return c.JSON(http.StatusOK, apiResponse{Data: map[string]any{
			"migrations": h.service.MigrationHistory(limit),
		}})
	case "progress":
		snapshot, err := h.progress.Read(c.Request().Context())
		if err != nil {
			return writeError(c, err, "failed to read progress")
		}
		return c.JSON(http.StatusOK, apiResponse{Data: snapshot})
	case "job":
		job, err := h.service.Get(c.QueryParam("id"))
		if err != nil {
			return writeError(c, err, "failed to load migration")
		}
		return c.JSON(http.StatusOK, apiResponse{Data: job})
	default:
		return badRequest(c, "unknown action "+strconv.Quote(action))
	}
}

// Command serves the actions that change state.
func (h *MigrationHandler) Command(c echo.Context) error {
	switch action := c.QueryParam("action"); action {
	case "start-json-migration":
		var req startJSONRequest
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		id, err := h.service.StartJSONMigration(c.Request().Context(), req.SourceFile, req.Options)
		if err != nil {
			return writeError(c, err, "failed to start migration")
		}
		return c.JSON(http.StatusAccepted, apiResponse{Data: map[string]string{"migrationId": id}})
	case "start-csv-import":
		var req startCSVRequest
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		id, err := h.service.StartCSVImport(c.Request().Context(), req.SourceFile, req.Options)
		if err != nil {
			return writeError(c, err, "failed to start import")
		}
		return c.JSON(http.StatusAccepted, apiResponse{Data: map[string]string{"migrationId": id}})
	case "cancel-migration":
		var req cancelRequest
		if err := c.Bind(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
		if req.MigrationID == "" {
			req.MigrationID = c.QueryParam("migrationId")
		}
		return c.JSON(http.StatusOK, apiResponse{Data: map[string]bool{
			"cancelled": h.service.CancelMigration(req.MigrationID),
		}})
	case "cleanup":
		return c.JSON(http.StatusOK, apiResponse{Data: map[string]int{
			"cleanedUp": h.service.CleanupCompletedMigrations(),
		}})
	default:
		return badRequest(c, "unknown action "+strconv.Quote(action))
	}
}
