package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	app "github.com/mohammadpnp/card-ingest/internal/application/migration"
	"github.com/mohammadpnp/card-ingest/internal/bootstrap"
	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
)

func newIngestJSONCmd(root *rootOptions) *cobra.Command {
	var opts app.JSONOptions

	cmd := &cobra.Command{
		Use:   "ingest-json <file>",
		Short: "Load a card or price JSON document and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd.Context(), root, func(ctx context.Context, a *bootstrap.App) (string, error) {
				return a.Manager.StartJSONMigration(ctx, args[0], opts)
			})
		},
	}
	cmd.Flags().IntVar(&opts.DebugLimit, "debug-limit", 0, "Stop after this many records (0 means no limit)")
	cmd.Flags().StringVar(&opts.Dataset, "dataset", app.DatasetCards, "Dataset in the file: cards or prices")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "Records per write batch (0 uses IMPORT_BATCH_SIZE)")
	return cmd
}

func newImportCSVCmd(root *rootOptions) *cobra.Command {
	var opts app.CSVOptions

	cmd := &cobra.Command{
		Use:   "import-csv <file>",
		Short: "Import a collection CSV and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd.Context(), root, func(ctx context.Context, a *bootstrap.App) (string, error) {
				return a.Manager.StartCSVImport(ctx, args[0], opts)
			})
		},
	}
	cmd.Flags().IntVar(&opts.DebugLimit, "debug-limit", 0, "Stop after this many rows (0 means no limit)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "Rows per write batch")
	return cmd
}

// runJob starts a job, waits for it and prints the final record. SIGINT
// cancels the job; the lock is still released by the worker.
func runJob(ctx context.Context, root *rootOptions, start func(context.Context, *bootstrap.App) (string, error)) error {
	a, err := root.app(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	id, err := start(ctx, a)
	if err != nil {
		return err
	}
	a.Log.Info("migration started", "job_id", id)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-sigs:
			a.Log.Warn("interrupted, cancelling migration", "job_id", id)
			a.Manager.CancelMigration(id)
		case <-done:
		}
	}()

	job, err := a.Manager.Wait(ctx, id)
	if err != nil {
		return err
	}
	if err := writeJSON(job); err != nil {
		return err
	}
	if job.Status != domain.StatusCompleted {
		return fmt.Errorf("migration %s %s", id, job.Status)
	}
	return nil
}
