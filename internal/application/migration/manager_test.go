package migration_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	app "github.com/mohammadpnp/card-ingest/internal/application/migration"
	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
	"github.com/mohammadpnp/card-ingest/internal/infrastructure/lock"
)

type managerFixture struct {
	manager  *app.Manager
	writer   *fakeCardWriter
	progress *memoryProgress
	recorder *fakeRecorder
}

func newManagerFixture(t *testing.T, files map[string]string, importLock domain.ImportLock, cfg app.ManagerConfig) managerFixture {
	t.Helper()

	if importLock == nil {
		importLock = lock.NewMemoryLock()
	}
	source := newFakeSource(files)
	writer := &fakeCardWriter{}
	progress := &memoryProgress{}
	recorder := &fakeRecorder{}

	m := app.NewManager(app.ManagerDeps{
		Registry: app.NewRegistry(),
		Lock:     importLock,
		Progress: progress,
		JSON:     app.NewJSONLoader(source, writer, app.JSONLoaderConfig{BatchSize: 2}),
		CSV:      app.NewCSVImporter(source, &fakeResolver{cards: storedCards}, &fakeCollectionWriter{}, app.CSVImporterConfig{}),
		Recorder: recorder,
	}, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})

	return managerFixture{manager: m, writer: writer, progress: progress, recorder: recorder}
}

func waitJob(t *testing.T, m *app.Manager, id string) domain.MigrationJob {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	job, err := m.Wait(ctx, id)
	if err != nil {
		t.Fatalf("wait %s: %v", id, err)
	}
	return job
}

func TestManagerJSONMigrationWithDebugLimit(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t, map[string]string{"cards.json": cardArray(10)}, nil, app.ManagerConfig{})

	id, err := f.manager.StartJSONMigration(context.Background(), "cards.json", app.JSONOptions{DebugLimit: 5})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	job := waitJob(t, f.manager, id)

	if job.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", job.Status, job.Error)
	}
	if job.Stats.RecordsProcessed != 5 {
		t.Fatalf("expected 5 processed, got %d", job.Stats.RecordsProcessed)
	}
	if job.CompletedAt == nil {
		t.Fatal("expected completion time")
	}

	snapshot, err := f.progress.Read(context.Background())
	if err != nil {
		t.Fatalf("read progress: %v", err)
	}
	if snapshot.JobID != id || snapshot.Phase != string(domain.StatusCompleted) || snapshot.Processed != 5 {
		t.Fatalf("unexpected final progress: %+v", snapshot)
	}

	statuses := f.recorder.statuses()
	if len(statuses) != 2 || statuses[0] != domain.StatusRunning || statuses[1] != domain.StatusCompleted {
		t.Fatalf("expected running then completed to be recorded, got %v", statuses)
	}
}

func TestManagerSecondStartIsRejectedWhileRunning(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t, map[string]string{"cards.json": cardArray(4)}, nil, app.ManagerConfig{})
	started := make(chan struct{})
	f.writer.started = started
	f.writer.block = make(chan struct{})

	ctx := context.Background()
	first, err := f.manager.StartJSONMigration(ctx, "cards.json", app.JSONOptions{})
	if err != nil {
		t.Fatalf("start A: %v", err)
	}
	<-started

	_, err = f.manager.StartJSONMigration(ctx, "cards.json", app.JSONOptions{})
	if !errors.Is(err, domain.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
	var running *domain.AlreadyRunningError
	if !errors.As(err, &running) || running.StartedSecondsAgo > 1 {
		t.Fatalf("expected startedSecondsAgo close to 0, got %v", err)
	}
	if _, err := f.manager.StartCSVImport(ctx, "collection.csv", app.CSVOptions{}); !errors.Is(err, domain.ErrAlreadyRunning) {
		t.Fatalf("expected csv import to share the lock, got %v", err)
	}

	active := f.manager.ActiveMigrations()
	if len(active) != 1 || active[0].ID != first {
		t.Fatalf("expected only job A active, got %+v", active)
	}

	close(f.writer.block)
	if job := waitJob(t, f.manager, first); job.Status != domain.StatusCompleted {
		t.Fatalf("expected A to complete, got %s", job.Status)
	}

	second, err := f.manager.StartJSONMigration(ctx, "cards.json", app.JSONOptions{})
	if err != nil {
		t.Fatalf("expected start after A finished, got %v", err)
	}
	waitJob(t, f.manager, second)
}

func TestManagerCancelRunningJob(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t, map[string]string{"cards.json": cardArray(4)}, nil, app.ManagerConfig{})
	started := make(chan struct{})
	f.writer.started = started
	f.writer.block = make(chan struct{})

	id, err := f.manager.StartJSONMigration(context.Background(), "cards.json", app.JSONOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	<-started

	if !f.manager.CancelMigration(id) {
		t.Fatal("expected cancel to succeed")
	}
	job := waitJob(t, f.manager, id)
	if job.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", job.Status)
	}
	if f.manager.CancelMigration(id) {
		t.Fatal("expected second cancel to report false")
	}

	next, err := f.manager.StartJSONMigration(context.Background(), "cards.json", app.JSONOptions{})
	if err != nil {
		t.Fatalf("expected lock to be released after cancel, got %v", err)
	}
	close(f.writer.block)
	waitJob(t, f.manager, next)
}

func TestManagerCancelCompletedJobIsNoop(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t, map[string]string{"cards.json": cardArray(2)}, nil, app.ManagerConfig{})

	id, err := f.manager.StartJSONMigration(context.Background(), "cards.json", app.JSONOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	before := waitJob(t, f.manager, id)

	if f.manager.CancelMigration(id) {
		t.Fatal("expected cancel of a completed job to return false")
	}
	after, err := f.manager.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.Status != domain.StatusCompleted || !after.CompletedAt.Equal(*before.CompletedAt) {
		t.Fatalf("expected job unchanged, got %+v", after)
	}
	if f.manager.CancelMigration("no-such-job") {
		t.Fatal("expected cancel of unknown job to return false")
	}
}

func TestManagerStructuralFailureFailsJob(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t, map[string]string{"broken.json": `[{"uuid":"a","name":"A"},`}, nil, app.ManagerConfig{})

	id, err := f.manager.StartJSONMigration(context.Background(), "broken.json", app.JSONOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	job := waitJob(t, f.manager, id)
	if job.Status != domain.StatusFailed || !strings.Contains(job.Error, domain.ErrStructuralParse.Error()) {
		t.Fatalf("expected structural failure, got %s %q", job.Status, job.Error)
	}
	if _, _, batches := f.writer.snapshot(); batches != 0 {
		t.Fatalf("expected nothing committed, got %d batches", batches)
	}
}

func TestManagerRejectsWrongExtension(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t, nil, nil, app.ManagerConfig{})
	ctx := context.Background()

	if _, err := f.manager.StartJSONMigration(ctx, "cards.csv", app.JSONOptions{}); !errors.Is(err, domain.ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource, got %v", err)
	}
	if _, err := f.manager.StartCSVImport(ctx, "  ", app.CSVOptions{}); !errors.Is(err, domain.ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource, got %v", err)
	}
}

func TestManagerHistoryAndCleanup(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t, map[string]string{
		"cards.json":     cardArray(2),
		"collection.csv": "name\nLightning Bolt\n",
	}, nil, app.ManagerConfig{})
	ctx := context.Background()

	first, err := f.manager.StartJSONMigration(ctx, "cards.json", app.JSONOptions{})
	if err != nil {
		t.Fatalf("start json: %v", err)
	}
	waitJob(t, f.manager, first)

	second, err := f.manager.StartCSVImport(ctx, "collection.csv", app.CSVOptions{})
	if err != nil {
		t.Fatalf("start csv: %v", err)
	}
	if job := waitJob(t, f.manager, second); job.Status != domain.StatusCompleted || job.Stats.RecordsImported != 1 {
		t.Fatalf("unexpected csv job: %+v", job)
	}

	history := f.manager.MigrationHistory(10)
	if len(history) != 2 || history[0].ID != second || history[1].ID != first {
		t.Fatalf("expected newest first, got %+v", history)
	}
	if limited := f.manager.MigrationHistory(1); len(limited) != 1 || limited[0].ID != second {
		t.Fatalf("expected limit to apply, got %+v", limited)
	}

	if n := f.manager.CleanupCompletedMigrations(); n != 2 {
		t.Fatalf("expected 2 cleaned up, got %d", n)
	}
	if got := f.manager.MigrationHistory(10); len(got) != 0 {
		t.Fatalf("expected empty history after cleanup, got %+v", got)
	}
	if _, err := f.manager.Get(first); !errors.Is(err, domain.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestManagerWritesJobLog(t *testing.T) {
	t.Parallel()

	logPath := filepath.Join(t.TempDir(), "state", "migration.log")
	f := newManagerFixture(t, map[string]string{"cards.json": cardArray(3)}, nil, app.ManagerConfig{LogPath: logPath})

	for i := 0; i < 2; i++ {
		id, err := f.manager.StartJSONMigration(context.Background(), "cards.json", app.JSONOptions{})
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		waitJob(t, f.manager, id)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if strings.Count(out, `"msg":"migration started"`) != 2 {
		t.Fatalf("expected both jobs appended to the log, got %s", out)
	}
	if !strings.Contains(out, `"job_id"`) || !strings.Contains(out, `"msg":"migration finished"`) {
		t.Fatalf("expected structured job entries, got %s", out)
	}
}

type touchCountingLock struct {
	inner   domain.ImportLock
	touches atomic.Int64
}

func (l *touchCountingLock) TryAcquire(ctx context.Context, owner string) (domain.LockHandle, error) {
	h, err := l.inner.TryAcquire(ctx, owner)
	if err != nil {
		return nil, err
	}
	return &touchCountingHandle{LockHandle: h, lock: l}, nil
}

type touchCountingHandle struct {
	domain.LockHandle
	lock *touchCountingLock
}

func (h *touchCountingHandle) Touch() error {
	h.lock.touches.Add(1)
	return h.LockHandle.Touch()
}

func TestManagerHeartbeatTouchesLockPerBatch(t *testing.T) {
	t.Parallel()

	counting := &touchCountingLock{inner: lock.NewMemoryLock()}
	f := newManagerFixture(t, map[string]string{"cards.json": cardArray(6)}, counting, app.ManagerConfig{LockHeartbeat: time.Hour})

	id, err := f.manager.StartJSONMigration(context.Background(), "cards.json", app.JSONOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitJob(t, f.manager, id)

	if got := counting.touches.Load(); got != 3 {
		t.Fatalf("expected one touch per batch, got %d", got)
	}
}

func TestManagerWithoutHeartbeatNeverTouches(t *testing.T) {
	t.Parallel()

	counting := &touchCountingLock{inner: lock.NewMemoryLock()}
	f := newManagerFixture(t, map[string]string{"cards.json": cardArray(6)}, counting, app.ManagerConfig{})

	id, err := f.manager.StartJSONMigration(context.Background(), "cards.json", app.JSONOptions{})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitJob(t, f.manager, id)

	if got := counting.touches.Load(); got != 0 {
		t.Fatalf("expected no touches, got %d", got)
	}
}

// releaseHookLock runs onRelease once, right after the first handle it
// issued has released the underlying lock.
type releaseHookLock struct {
	inner     domain.ImportLock
	onRelease func()
	once      sync.Once
}

func (l *releaseHookLock) TryAcquire(ctx context.Context, owner string) (domain.LockHandle, error) {
	h, err := l.inner.TryAcquire(ctx, owner)
	if err != nil {
		return nil, err
	}
	return &releaseHookHandle{LockHandle: h, lock: l}, nil
}

type releaseHookHandle struct {
	domain.LockHandle
	lock *releaseHookLock
}

func (h *releaseHookHandle) Release() error {
	err := h.LockHandle.Release()
	h.lock.once.Do(h.lock.onRelease)
	return err
}

func TestManagerJobIsTerminalBeforeLockIsReleased(t *testing.T) {
	t.Parallel()

	hook := &releaseHookLock{inner: lock.NewMemoryLock()}
	f := newManagerFixture(t, map[string]string{"cards.json": cardArray(2)}, hook, app.ManagerConfig{})

	var (
		second     string
		startErr   error
		seenActive int
	)
	hook.onRelease = func() {
		second, startErr = f.manager.StartJSONMigration(context.Background(), "cards.json", app.JSONOptions{})
		seenActive = len(f.manager.ActiveMigrations())
	}

	first, err := f.manager.StartJSONMigration(context.Background(), "cards.json", app.JSONOptions{})
	if err != nil {
		t.Fatalf("start A: %v", err)
	}
	if job := waitJob(t, f.manager, first); job.Status != domain.StatusCompleted {
		t.Fatalf("expected A to complete, got %s", job.Status)
	}

	if startErr != nil {
		t.Fatalf("expected B to start once A released the lock, got %v", startErr)
	}
	if seenActive > 1 {
		t.Fatalf("expected at most one running job, saw %d", seenActive)
	}
	waitJob(t, f.manager, second)
}

func TestManagerCSVImportWithoutCardColumnIsRejectedAtStart(t *testing.T) {
	t.Parallel()

	f := newManagerFixture(t, map[string]string{
		"bad.csv":        "quantity,condition\n1,NM\n",
		"collection.csv": "name\nLightning Bolt\n",
	}, nil, app.ManagerConfig{})
	ctx := context.Background()

	if _, err := f.manager.StartCSVImport(ctx, "bad.csv", app.CSVOptions{}); !errors.Is(err, domain.ErrMissingCardColumn) {
		t.Fatalf("expected ErrMissingCardColumn, got %v", err)
	}
	if _, err := f.manager.StartCSVImport(ctx, "missing.csv", app.CSVOptions{}); !errors.Is(err, domain.ErrInvalidSource) {
		t.Fatalf("expected ErrInvalidSource for a missing file, got %v", err)
	}
	if got := f.manager.MigrationHistory(0); len(got) != 0 {
		t.Fatalf("expected no job registered, got %+v", got)
	}

	id, err := f.manager.StartCSVImport(ctx, "collection.csv", app.CSVOptions{})
	if err != nil {
		t.Fatalf("expected the lock to be free after a rejected start, got %v", err)
	}
	if job := waitJob(t, f.manager, id); job.Status != domain.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", job.Status, job.Error)
	}
}
