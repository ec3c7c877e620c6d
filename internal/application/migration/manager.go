package migration

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
	"github.com/mohammadpnp/card-ingest/internal/infrastructure/file"
	"github.com/mohammadpnp/card-ingest/internal/pkg/logger"
)

const recordTimeout = 5 * time.Second

type jobMetrics interface {
	JobStarted(kind string)
	JobFinished(kind, status string, processed, failed int64)
}

type ManagerConfig struct {
	// LockHeartbeat > 0 refreshes the import lock at that interval and after
	// every committed batch. Zero leaves the lock untouched while a job runs.
	LockHeartbeat time.Duration
	// LogPath is the append-only file every job logs into. Empty disables it.
	LogPath  string
	Reporter ReporterConfig
}

type ManagerDeps struct {
	Registry *Registry
	Lock     domain.ImportLock
	Progress domain.ProgressStore
	JSON     *JSONLoader
	CSV      *CSVImporter
	Recorder domain.JobRecorder
	Metrics  jobMetrics
	Log      *logger.Logger
}

type workFunc func(ctx context.Context, run Run) (domain.Stats, error)

// Manager starts, tracks and cancels migration jobs. At most one job runs at
// a time across every process sharing the import lock.
type Manager struct {
	registry *Registry
	lock     domain.ImportLock
	progress domain.ProgressStore
	json     *JSONLoader
	csv      *CSVImporter
	recorder domain.JobRecorder
	metrics  jobMetrics
	log      *logger.Logger
	cfg      ManagerConfig

	now   func() time.Time
	newID func() string
	wg    sync.WaitGroup
}

func NewManager(deps ManagerDeps, cfg ManagerConfig) *Manager {
	if deps.Registry == nil {
		deps.Registry = NewRegistry()
	}
	if deps.Log == nil {
		deps.Log = logger.NewNop()
	}
	return &Manager{
		registry: deps.Registry,
		lock:     deps.Lock,
		progress: deps.Progress,
		json:     deps.JSON,
		csv:      deps.CSV,
		recorder: deps.Recorder,
		metrics:  deps.Metrics,
		log:      deps.Log,
		cfg:      cfg,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

func (m *Manager) StartJSONMigration(ctx context.Context, sourcePath string, opts JSONOptions) (string, error) {
	sourcePath, err := checkSourcePath(sourcePath, ".json")
	if err != nil {
		return "", err
	}
	return m.start(ctx, domain.KindJSONIngest, sourcePath, nil, func(ctx context.Context, run Run) (domain.Stats, error) {
		return m.json.Ingest(ctx, run, sourcePath, opts)
	})
}

func (m *Manager) StartCSVImport(ctx context.Context, sourcePath string, opts CSVOptions) (string, error) {
	sourcePath, err := checkSourcePath(sourcePath, ".csv")
	if err != nil {
		return "", err
	}
	precheck := func(ctx context.Context) error {
		return m.csv.CheckHeader(ctx, sourcePath)
	}
	return m.start(ctx, domain.KindCSVImport, sourcePath, precheck, func(ctx context.Context, run Run) (domain.Stats, error) {
		return m.csv.Import(ctx, run, sourcePath, opts)
	})
}

func checkSourcePath(sourcePath, ext string) (string, error) {
	sourcePath = strings.TrimSpace(sourcePath)
	if sourcePath == "" || strings.ToLower(filepath.Ext(sourcePath)) != ext {
		return "", fmt.Errorf("%w: expected a %s file, got %q", domain.ErrInvalidSource, ext, sourcePath)
	}
	return sourcePath, nil
}

// start takes the lock, runs precheck under it and launches work. A failed
// precheck releases the lock and registers nothing.
func (m *Manager) start(ctx context.Context, kind domain.JobKind, sourcePath string, precheck func(context.Context) error, work workFunc) (string, error) {
	id := m.newID()

	handle, err := m.lock.TryAcquire(ctx, id)
	if err != nil {
		return "", err
	}
	if precheck != nil {
		if err := precheck(ctx); err != nil {
			if relErr := handle.Release(); relErr != nil {
				m.log.Error("release import lock failed", "error", relErr)
			}
			return "", err
		}
	}

	workCtx, cancel := context.WithCancel(context.Background())
	t := &task{
		job: domain.MigrationJob{
			ID:         id,
			Kind:       kind,
			Status:     domain.StatusRunning,
			SourcePath: sourcePath,
			StartedAt:  m.now().UTC(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}
	m.registry.add(t)
	m.record(t.job)
	if m.metrics != nil {
		m.metrics.JobStarted(string(kind))
	}

	m.wg.Add(1)
	go m.run(workCtx, t, handle, work)
	return id, nil
}

func (m *Manager) run(ctx context.Context, t *task, handle domain.LockHandle, work workFunc) {
	defer m.wg.Done()
	defer close(t.done)
	defer t.cancel()

	id, kind := t.job.ID, t.job.Kind
	log := m.log
	if m.cfg.LogPath != "" {
		sink, err := file.OpenLogSink(m.cfg.LogPath)
		if err != nil {
			m.log.Warn("job log sink unavailable", "job_id", id, "error", err)
		} else {
			defer sink.Close()
			log = log.Tee(sink)
		}
	}
	log = log.With("job_id", id, "kind", string(kind))
	defer log.Sync()

	run := Run{
		JobID:    id,
		Reporter: NewReporter(m.progress, id, m.cfg.Reporter, log),
		Log:      log,
	}
	if m.cfg.LockHeartbeat > 0 {
		run.Touch = m.heartbeat(ctx, handle, log)
	}

	log.Info("migration started", "source", t.job.SourcePath)
	run.Reporter.Flush(ctx, "starting", 0, 0)

	stats, err := m.safeWork(ctx, run, work)

	status := domain.StatusCompleted
	var errMsg string
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		status = domain.StatusCancelled
	default:
		status = domain.StatusFailed
		errMsg = err.Error()
	}

	// The job must be terminal before the lock frees up, or a new start can
	// register a second running job while this one still shows as running.
	t.cancel()
	job := m.registry.finish(id, status, stats, errMsg, m.now().UTC())
	run.Reporter.Flush(context.Background(), string(job.Status), stats.RecordsProcessed, 0)
	if relErr := handle.Release(); relErr != nil {
		log.Error("release import lock failed", "error", relErr)
	}
	m.record(job)
	if m.metrics != nil {
		m.metrics.JobFinished(string(kind), string(job.Status), stats.RecordsProcessed, stats.RecordsFailed)
	}

	fields := []interface{}{
		"status", job.Status,
		"processed", stats.RecordsProcessed,
		"imported", stats.RecordsImported,
		"updated", stats.RecordsUpdated,
		"failed", stats.RecordsFailed,
		"batches", stats.Batches,
	}
	if job.Status == domain.StatusFailed {
		log.Error("migration failed", append(fields, "error", errMsg)...)
		return
	}
	log.Info("migration finished", fields...)
}

// safeWork keeps a panicking worker from taking the process down with the
// lock still held.
func (m *Manager) safeWork(ctx context.Context, run Run, work workFunc) (stats domain.Stats, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("worker panic: %v", p)
		}
	}()
	return work(ctx, run)
}

// heartbeat touches the lock every LockHeartbeat until ctx ends and returns
// a touch func for the worker to call after each batch.
func (m *Manager) heartbeat(ctx context.Context, handle domain.LockHandle, log *logger.Logger) func() error {
	var mu sync.Mutex
	touch := func() error {
		mu.Lock()
		defer mu.Unlock()
		return handle.Touch()
	}

	go func() {
		ticker := time.NewTicker(m.cfg.LockHeartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := touch(); err != nil {
					log.Warn("lock heartbeat failed", "error", err)
				}
			}
		}
	}()
	return touch
}

func (m *Manager) record(job domain.MigrationJob) {
	if m.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := m.recorder.Record(ctx, job); err != nil {
		m.log.Warn("record migration job failed", "job_id", job.ID, "status", job.Status, "error", err)
	}
}

// CancelMigration signals the worker and marks the job cancelled right away.
// The worker stops within one record; batches it already committed stay.
func (m *Manager) CancelMigration(id string) bool {
	t, ok := m.registry.markCancelled(id, m.now().UTC())
	if !ok {
		return false
	}
	t.cancel()
	m.log.Info("migration cancelled", "job_id", id)
	return true
}

func (m *Manager) ActiveMigrations() []domain.MigrationJob {
	return m.registry.Active()
}

func (m *Manager) MigrationHistory(limit int) []domain.MigrationJob {
	return m.registry.History(limit)
}

func (m *Manager) CleanupCompletedMigrations() int {
	return m.registry.Cleanup()
}

func (m *Manager) Get(id string) (domain.MigrationJob, error) {
	job, ok := m.registry.Get(id)
	if !ok {
		return domain.MigrationJob{}, domain.ErrJobNotFound
	}
	return job, nil
}

// Wait blocks until the job's worker has stopped and returns the final job.
func (m *Manager) Wait(ctx context.Context, id string) (domain.MigrationJob, error) {
	t, ok := m.registry.get(id)
	if !ok {
		return domain.MigrationJob{}, domain.ErrJobNotFound
	}
	select {
	case <-t.done:
	case <-ctx.Done():
		return domain.MigrationJob{}, ctx.Err()
	}
	return m.registry.snapshot(t), nil
}

// Shutdown cancels every running worker and waits for them to stop.
func (m *Manager) Shutdown(ctx context.Context) error {
	for _, t := range m.registry.running() {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
