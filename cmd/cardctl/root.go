package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mohammadpnp/card-ingest/internal/bootstrap"
	"github.com/mohammadpnp/card-ingest/internal/config"
	"github.com/mohammadpnp/card-ingest/internal/pkg/logger"
)

type rootOptions struct {
	envFiles []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "cardctl",
		Short:         "Card and price dataset ingestion tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "Env files to load before reading configuration")

	cmd.AddCommand(newIngestJSONCmd(opts))
	cmd.AddCommand(newImportCSVCmd(opts))
	cmd.AddCommand(newCSVCmd(opts))
	cmd.AddCommand(newValidateCmd(opts))
	cmd.AddCommand(newProgressCmd(opts))
	cmd.AddCommand(newHistoryCmd(opts))
	cmd.AddCommand(newDBMigrateCmd(opts))
	return cmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

func (o *rootOptions) config() (*config.Configuration, *logger.Logger, error) {
	cfg, err := config.Load(o.envFiles...)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, nil, fmt.Errorf("create logger: %w", err)
	}
	return cfg, log, nil
}

// app builds the full pipeline. The caller closes it.
func (o *rootOptions) app(ctx context.Context) (*bootstrap.App, error) {
	cfg, log, err := o.config()
	if err != nil {
		return nil, err
	}
	return bootstrap.Build(ctx, cfg, log)
}
