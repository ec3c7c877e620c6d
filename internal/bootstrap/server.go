package bootstrap

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpecho "github.com/mohammadpnp/card-ingest/internal/interfaces/http/echo"
)

func NewHTTPServer(a *App) *echo.Echo {
	server := echo.New()
	server.HideBanner = true

	server.Use(middleware.Recover())
	server.Use(middleware.RequestID())
	server.Use(middleware.BodyLimit("10M"))

	httpecho.RegisterRoutes(server,
		httpecho.NewMigrationHandler(a.Manager, a.Progress),
		httpecho.NewValidationHandler(a.Validation),
		httpecho.NewCSVHandler(a.CSV),
	)

	server.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	server.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})))

	return server
}
