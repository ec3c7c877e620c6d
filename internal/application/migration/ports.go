package migration

import (
	"context"
	"io"

	"github.com/mohammadpnp/card-ingest/internal/domain/card"
	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
	"github.com/mohammadpnp/card-ingest/internal/pkg/logger"
)

// Source opens an import file and reports its size in bytes.
type Source interface {
	Open(ctx context.Context, sourcePath string) (io.ReadCloser, int64, error)
}

type CardWriter interface {
	UpsertCards(ctx context.Context, jobID string, cards []card.Card) (domain.BatchResult, error)
	InsertPrices(ctx context.Context, jobID string, prices []card.Price) (domain.BatchResult, error)
}

type CollectionWriter interface {
	InsertCollectionItems(ctx context.Context, jobID string, items []card.CollectionItem) (domain.BatchResult, error)
}

// CardResolver maps uuids and lower-cased names to stored cards.
type CardResolver interface {
	Resolve(ctx context.Context, uuids, names []string) (map[string]card.Card, map[string]card.Card, error)
}

// Run carries what a worker needs from the job it runs under.
type Run struct {
	JobID    string
	Reporter *Reporter
	Log      *logger.Logger
	// Touch refreshes the import lock. Nil when heartbeating is off.
	Touch func() error
}

func (r Run) logger() *logger.Logger {
	if r.Log == nil {
		return logger.NewNop()
	}
	return r.Log
}

func (r Run) touch() {
	if r.Touch == nil {
		return
	}
	if err := r.Touch(); err != nil {
		r.logger().Warn("lock heartbeat failed", "error", err)
	}
}
