package migration

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
	"github.com/mohammadpnp/card-ingest/internal/pkg/logger"
)

type ReporterConfig struct {
	// Every and Interval throttle writes: a report is written when either
	// Every calls have passed or Interval has elapsed since the last write.
	Every    int
	Interval time.Duration
	// Window is how many written samples the moving-average rate spans.
	Window int
	Now    func() time.Time
}

type progressSample struct {
	at        time.Time
	processed int64
}

// Reporter turns per-record progress calls into throttled snapshots in a
// ProgressStore. A nil *Reporter ignores every call.
type Reporter struct {
	store domain.ProgressStore
	jobID string
	cfg   ReporterConfig
	log   *logger.Logger

	throttle *rate.Sometimes

	mu        sync.Mutex
	samples   []progressSample
	bytesRead func() int64
	size      int64
	last      domain.ProgressSnapshot
}

func NewReporter(store domain.ProgressStore, jobID string, cfg ReporterConfig, log *logger.Logger) *Reporter {
	if cfg.Every <= 0 {
		cfg.Every = 1000
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Window < 2 {
		cfg.Window = 5
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &Reporter{
		store:    store,
		jobID:    jobID,
		cfg:      cfg,
		log:      log,
		throttle: &rate.Sometimes{Every: cfg.Every, Interval: cfg.Interval},
		samples:  make([]progressSample, 0, cfg.Window),
	}
}

// TrackBytes lets the reporter estimate a missing total from how far into
// the source the reader is.
func (r *Reporter) TrackBytes(read func() int64, size int64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bytesRead = read
	r.size = size
}

// Report records progress, writing a snapshot only when the throttle allows.
// total <= 0 means unknown.
func (r *Reporter) Report(ctx context.Context, phase string, processed, total int64) {
	if r == nil {
		return
	}
	r.throttle.Do(func() {
		r.write(ctx, phase, processed, total)
	})
}

// Flush writes a snapshot regardless of the throttle.
func (r *Reporter) Flush(ctx context.Context, phase string, processed, total int64) {
	if r == nil {
		return
	}
	r.write(ctx, phase, processed, total)
}

// Last returns the most recently written snapshot.
func (r *Reporter) Last() domain.ProgressSnapshot {
	if r == nil {
		return domain.ProgressSnapshot{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Reporter) write(ctx context.Context, phase string, processed, total int64) {
	now := r.cfg.Now()

	r.mu.Lock()
	if len(r.samples) == r.cfg.Window {
		copy(r.samples, r.samples[1:])
		r.samples = r.samples[:len(r.samples)-1]
	}
	r.samples = append(r.samples, progressSample{at: now, processed: processed})

	snapshot := domain.ProgressSnapshot{
		JobID:     r.jobID,
		Phase:     phase,
		Processed: processed,
		Total:     total,
		Rate:      r.rateLocked(),
		UpdatedAt: now.UTC(),
	}
	if snapshot.Total <= 0 {
		if estimate, ok := r.estimateTotalLocked(processed); ok {
			snapshot.Total = estimate
			snapshot.TotalEstimated = true
		}
	}
	if snapshot.Total > 0 && snapshot.Rate > 0 {
		remaining := snapshot.Total - processed
		if remaining < 0 {
			remaining = 0
		}
		eta := float64(remaining) / snapshot.Rate
		snapshot.ETASeconds = &eta
	}
	r.last = snapshot
	r.mu.Unlock()

	if r.store == nil {
		return
	}
	if err := r.store.Write(ctx, snapshot); err != nil {
		r.log.Warn("progress write failed", "phase", phase, "processed", processed, "error", err)
	}
}

// rateLocked is records per second across the oldest and newest sample in
// the window.
func (r *Reporter) rateLocked() float64 {
	if len(r.samples) < 2 {
		return 0
	}
	first := r.samples[0]
	last := r.samples[len(r.samples)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(last.processed-first.processed) / elapsed
}

func (r *Reporter) estimateTotalLocked(processed int64) (int64, bool) {
	if r.bytesRead == nil || r.size <= 0 || processed <= 0 {
		return 0, false
	}
	read := r.bytesRead()
	if read <= 0 {
		return 0, false
	}
	if read >= r.size {
		return processed, true
	}
	estimate := int64(float64(processed) * float64(r.size) / float64(read))
	if estimate < processed {
		estimate = processed
	}
	return estimate, true
}
