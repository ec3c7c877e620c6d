package migration_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mohammadpnp/card-ingest/internal/domain/card"
	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
)

type fakeSource struct {
	files map[string]string
}

func newFakeSource(files map[string]string) *fakeSource {
	return &fakeSource{files: files}
}

func (f *fakeSource) Open(ctx context.Context, sourcePath string) (io.ReadCloser, int64, error) {
	data, ok := f.files[sourcePath]
	if !ok {
		return nil, 0, fmt.Errorf("open %s: %w", sourcePath, os.ErrNotExist)
	}
	return io.NopCloser(strings.NewReader(data)), int64(len(data)), nil
}

type fakeCardWriter struct {
	mu sync.Mutex

	cards   []card.Card
	prices  []card.Price
	batches int

	// failBatches makes the first n calls fail.
	failBatches int
	// started is closed on the first call when set.
	started chan struct{}
	// block holds every call until it is closed or the context ends.
	block chan struct{}
}

func (f *fakeCardWriter) enter(ctx context.Context) error {
	f.mu.Lock()
	if f.started != nil {
		close(f.started)
		f.started = nil
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	if f.failBatches > 0 {
		f.failBatches--
		return errors.New("connection reset by peer")
	}
	return nil
}

func (f *fakeCardWriter) UpsertCards(ctx context.Context, jobID string, cards []card.Card) (domain.BatchResult, error) {
	if err := f.enter(ctx); err != nil {
		return domain.BatchResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cards = append(f.cards, cards...)
	return domain.BatchResult{Imported: int64(len(cards))}, nil
}

func (f *fakeCardWriter) InsertPrices(ctx context.Context, jobID string, prices []card.Price) (domain.BatchResult, error) {
	if err := f.enter(ctx); err != nil {
		return domain.BatchResult{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices = append(f.prices, prices...)
	return domain.BatchResult{Imported: int64(len(prices))}, nil
}

func (f *fakeCardWriter) snapshot() ([]card.Card, []card.Price, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]card.Card(nil), f.cards...), append([]card.Price(nil), f.prices...), f.batches
}

type fakeResolver struct {
	cards []card.Card
	// failFirst calls return err. A negative value fails every call.
	failFirst int
	err       error
	calls     int
}

func (f *fakeResolver) Resolve(ctx context.Context, uuids, names []string) (map[string]card.Card, map[string]card.Card, error) {
	f.calls++
	if f.failFirst < 0 || f.calls <= f.failFirst {
		return nil, nil, f.err
	}
	byUUID := map[string]card.Card{}
	byName := map[string]card.Card{}
	for _, c := range f.cards {
		for _, u := range uuids {
			if u == c.UUID {
				byUUID[u] = c
			}
		}
		for _, n := range names {
			if strings.EqualFold(strings.TrimSpace(n), c.Name) {
				byName[strings.ToLower(c.Name)] = c
			}
		}
	}
	return byUUID, byName, nil
}

type fakeCollectionWriter struct {
	mu    sync.Mutex
	items []card.CollectionItem
	err   error
}

func (f *fakeCollectionWriter) InsertCollectionItems(ctx context.Context, jobID string, items []card.CollectionItem) (domain.BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.BatchResult{}, f.err
	}
	f.items = append(f.items, items...)
	return domain.BatchResult{Imported: int64(len(items))}, nil
}

type memoryProgress struct {
	mu      sync.Mutex
	last    *domain.ProgressSnapshot
	written []domain.ProgressSnapshot
	writes  int
}

func (m *memoryProgress) Write(ctx context.Context, snapshot domain.ProgressSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = &snapshot
	m.written = append(m.written, snapshot)
	m.writes++
	return nil
}

func (m *memoryProgress) history() []domain.ProgressSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.ProgressSnapshot(nil), m.written...)
}

func (m *memoryProgress) Read(ctx context.Context) (domain.ProgressSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return domain.ProgressSnapshot{}, domain.ErrNoProgress
	}
	return *m.last, nil
}

func (m *memoryProgress) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = nil
	return nil
}

type fakeRecorder struct {
	mu   sync.Mutex
	jobs []domain.MigrationJob
}

func (f *fakeRecorder) Record(ctx context.Context, job domain.MigrationJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	return nil
}

func (f *fakeRecorder) statuses() []domain.JobStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.JobStatus, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j.Status)
	}
	return out
}

func cardArray(n int) string {
	var b strings.Builder
	b.WriteString("[")
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, `{"uuid":"card-%d","name":"Card %d","setCode":"lea","manaValue":%d}`, i, i, i%7)
	}
	b.WriteString("]")
	return b.String()
}
