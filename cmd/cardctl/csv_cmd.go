package main

import (
	"github.com/spf13/cobra"

	app "github.com/mohammadpnp/card-ingest/internal/application/migration"
	infrafile "github.com/mohammadpnp/card-ingest/internal/infrastructure/file"
)

// newCSVCmd inspects a CSV without touching the database.
func newCSVCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "csv",
		Short: "Inspect a collection CSV",
	}

	inspector := func() (*app.CSVImporter, error) {
		cfg, _, err := root.config()
		if err != nil {
			return nil, err
		}
		return app.NewCSVImporter(infrafile.NewLocalSource(cfg.Import.BaseDir), nil, nil, app.CSVImporterConfig{}), nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Check the header and every row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			importer, err := inspector()
			if err != nil {
				return err
			}
			report, err := importer.ValidateFormat(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(report)
		},
	})

	var maxRows int
	preview := &cobra.Command{
		Use:   "preview <file>",
		Short: "Print the first parsed rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			importer, err := inspector()
			if err != nil {
				return err
			}
			rows, err := importer.Preview(cmd.Context(), args[0], maxRows)
			if err != nil {
				return err
			}
			return writeJSON(rows)
		},
	}
	preview.Flags().IntVar(&maxRows, "max-rows", 10, "Rows to print")
	cmd.AddCommand(preview)
	return cmd
}
