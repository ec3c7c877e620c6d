package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammadpnp/card-ingest/internal/config"
	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
	"github.com/mohammadpnp/card-ingest/internal/infrastructure/progress"
)

func newProgressCmd(root *rootOptions) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "progress",
		Short: "Print the last progress snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := root.config()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, closeStore, err := openProgress(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			if !follow {
				snapshot, err := store.Read(ctx)
				if err != nil {
					return err
				}
				return writeJSON(snapshot)
			}

			emit := func(s domain.ProgressSnapshot) { _ = writeJSON(s) }
			if fs, ok := store.(*progress.FileStore); ok {
				err = fs.Watch(ctx, emit)
			} else {
				err = poll(ctx, store, cfg.Progress.ReportInterval, emit)
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing snapshots as they change")
	return cmd
}

func openProgress(ctx context.Context, cfg *config.Configuration) (domain.ProgressStore, func(), error) {
	if cfg.Progress.Backend != "redis" {
		return progress.NewFileStore(cfg.ProgressPath()), func() {}, nil
	}
	rdb, err := progress.DialRedis(ctx, cfg.Progress.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	store := progress.NewRedisStore(rdb, cfg.Progress.RedisKey, progress.DefaultRedisTTL)
	return store, func() { _ = rdb.Close() }, nil
}

// poll prints the snapshot whenever its UpdatedAt moves.
func poll(ctx context.Context, store domain.ProgressStore, every time.Duration, fn func(domain.ProgressSnapshot)) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	var last time.Time
	for {
		snapshot, err := store.Read(ctx)
		switch {
		case errors.Is(err, domain.ErrNoProgress):
		case err != nil:
			return err
		case !snapshot.UpdatedAt.Equal(last):
			last = snapshot.UpdatedAt
			fn(snapshot)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
