package echo

import e "github.com/labstack/echo/v4"

func RegisterRoutes(server *e.Echo, migrations *MigrationHandler, validation *ValidationHandler, csv *CSVHandler) {
	api := server.Group("/api/v1")
	api.GET("/migrations", migrations.Query)
	api.POST("/migrations", migrations.Command)
	api.GET("/validation", validation.Validate)
	api.POST("/csv", csv.Handle)
}
