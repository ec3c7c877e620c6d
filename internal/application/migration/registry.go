package migration

import (
	"context"
	"sync"
	"time"

	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
)

// task is the handle of one running worker: cancel signals it, done closes
// once it has stopped and the job is final.
type task struct {
	job    domain.MigrationJob
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *task) finished() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Registry indexes the jobs this process has started. The import lock, not
// the registry, decides whether a job may run.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*task
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*task)}
}

func (r *Registry) add(t *task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.job.ID] = t
	r.order = append(r.order, t.job.ID)
}

func (r *Registry) get(id string) (*task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	return t, ok
}

// Get returns a copy of the job.
func (r *Registry) Get(id string) (domain.MigrationJob, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return domain.MigrationJob{}, false
	}
	return t.job.Clone(), true
}

func (r *Registry) snapshot(t *task) domain.MigrationJob {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return t.job.Clone()
}

// markCancelled moves a running job to cancelled. It returns false when the
// job is unknown or already terminal.
func (r *Registry) markCancelled(id string, at time.Time) (*task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.job.Status.Terminal() {
		return nil, false
	}
	t.job.Status = domain.StatusCancelled
	t.job.CompletedAt = &at
	return t, true
}

// finish stores the worker's outcome. A job already cancelled keeps its
// status and only takes the final stats.
func (r *Registry) finish(id string, status domain.JobStatus, stats domain.Stats, errMsg string, at time.Time) domain.MigrationJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.tasks[id]
	t.job.Stats = stats
	if !t.job.Status.Terminal() {
		t.job.Status = status
		t.job.Error = errMsg
		t.job.CompletedAt = &at
	}
	return t.job.Clone()
}

func (r *Registry) Active() []domain.MigrationJob {
	r.mu.RLock()
	defer r.mu.RUnlock()
	jobs := make([]domain.MigrationJob, 0, 1)
	for _, id := range r.order {
		if t := r.tasks[id]; t.job.Status == domain.StatusRunning {
			jobs = append(jobs, t.job.Clone())
		}
	}
	return jobs
}

// History returns up to limit jobs, most recently started first. A limit of
// zero or less returns all of them.
func (r *Registry) History(limit int) []domain.MigrationJob {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.order)
	if limit > 0 && limit < n {
		n = limit
	}
	jobs := make([]domain.MigrationJob, 0, n)
	for i := len(r.order) - 1; i >= 0 && len(jobs) < n; i-- {
		jobs = append(jobs, r.tasks[r.order[i]].job.Clone())
	}
	return jobs
}

// Cleanup drops terminal jobs whose worker has stopped and returns how many
// were removed.
func (r *Registry) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.order[:0]
	removed := 0
	for _, id := range r.order {
		t := r.tasks[id]
		if t.job.Status.Terminal() && t.finished() {
			delete(r.tasks, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	return removed
}

func (r *Registry) running() []*task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*task
	for _, t := range r.tasks {
		if !t.finished() {
			out = append(out, t)
		}
	}
	return out
}
