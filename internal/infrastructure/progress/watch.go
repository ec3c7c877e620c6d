package progress

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
)

// Watch calls fn with the current snapshot, then again every time the
// progress file is replaced, until ctx is done. The parent directory is
// watched because writes land by rename.
func (s *FileStore) Watch(ctx context.Context, fn func(domain.ProgressSnapshot)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(s.path), err)
	}

	emit := func() error {
		snapshot, err := s.Read(ctx)
		if errors.Is(err, domain.ErrNoProgress) {
			return nil
		}
		if err != nil {
			return err
		}
		fn(snapshot)
		return nil
	}

	if err := emit(); err != nil {
		return err
	}

	target := filepath.Clean(s.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if err := emit(); err != nil {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch progress: %w", err)
		}
	}
}
