package main

import (
	"context"
	"sync"
	"testing"
	"time"

	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
)

func TestRootRegistersCommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	for _, name := range []string{"ingest-json", "import-csv", "csv", "validate", "progress", "history", "db-migrate"} {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("expected command %q, got %v (%v)", name, cmd, err)
		}
	}
}

type stepStore struct {
	mu    sync.Mutex
	reads int
	base  time.Time
}

// Read reports no progress first, then the same snapshot twice, then a newer one.
func (s *stepStore) Read(context.Context) (domain.ProgressSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	switch {
	case s.reads == 1:
		return domain.ProgressSnapshot{}, domain.ErrNoProgress
	case s.reads <= 3:
		return domain.ProgressSnapshot{Processed: 1, UpdatedAt: s.base}, nil
	default:
		return domain.ProgressSnapshot{Processed: 2, UpdatedAt: s.base.Add(time.Second)}, nil
	}
}

func (s *stepStore) Write(context.Context, domain.ProgressSnapshot) error { return nil }
func (s *stepStore) Clear(context.Context) error                          { return nil }

func TestPollEmitsOnlyChangedSnapshots(t *testing.T) {
	t.Parallel()

	store := &stepStore{base: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var seen []int64
	err := poll(ctx, store, time.Millisecond, func(s domain.ProgressSnapshot) {
		seen = append(seen, s.Processed)
		if len(seen) == 2 {
			cancel()
		}
	})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("expected snapshots [1 2], got %v", seen)
	}
}
