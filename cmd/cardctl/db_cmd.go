package main

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/mohammadpnp/card-ingest/internal/infrastructure/db/migrations"
)

func newDBMigrateCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:       "db-migrate [up|down|version]",
		Short:     "Apply or inspect schema migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "version"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.config()
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return fmt.Errorf("DATABASE_URL is required")
			}
			db, err := sql.Open("pgx", cfg.Database.URL)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			ctx := cmd.Context()
			switch direction {
			case "down":
				err = migrations.Down(ctx, db)
			case "version":
				var version int64
				if version, err = migrations.Version(ctx, db); err == nil {
					return writeJSON(map[string]int64{"version": version})
				}
			default:
				err = migrations.Up(ctx, db)
			}
			if err != nil {
				return err
			}
			log.Info("schema migration applied", "direction", direction)
			return nil
		},
	}
	return cmd
}
