package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
	"github.com/mohammadpnp/card-ingest/internal/infrastructure/db/models"
)

// MigrationJobRepository keeps a durable copy of every job transition.
type MigrationJobRepository struct {
	db *gorm.DB
}

func NewMigrationJobRepository(db *gorm.DB) *MigrationJobRepository {
	return &MigrationJobRepository{db: db}
}

func (r *MigrationJobRepository) Record(ctx context.Context, job domain.MigrationJob) error {
	row := models.MigrationJob{
		ID:               job.ID,
		Kind:             string(job.Kind),
		Status:           string(job.Status),
		SourcePath:       job.SourcePath,
		RecordsProcessed: job.Stats.RecordsProcessed,
		RecordsImported:  job.Stats.RecordsImported,
		RecordsUpdated:   job.Stats.RecordsUpdated,
		RecordsFailed:    job.Stats.RecordsFailed,
		BytesRead:        job.Stats.BytesRead,
		StartedAt:        job.StartedAt,
		CompletedAt:      job.CompletedAt,
		UpdatedAt:        time.Now(),
	}
	if job.Error != "" {
		msg := job.Error
		row.ErrorMessage = &msg
	}

	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(&row).Error; err != nil {
		return fmt.Errorf("record migration job: %w", err)
	}
	return nil
}

// Recent returns persisted jobs, most recently started first.
func (r *MigrationJobRepository) Recent(ctx context.Context, limit int) ([]domain.MigrationJob, error) {
	if limit <= 0 {
		limit = 50
	}

	var rows []models.MigrationJob
	if err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list migration jobs: %w", err)
	}

	jobs := make([]domain.MigrationJob, 0, len(rows))
	for _, row := range rows {
		job := domain.MigrationJob{
			ID:          row.ID,
			Kind:        domain.JobKind(row.Kind),
			Status:      domain.JobStatus(row.Status),
			SourcePath:  row.SourcePath,
			StartedAt:   row.StartedAt,
			CompletedAt: row.CompletedAt,
			Stats: domain.Stats{
				RecordsProcessed: row.RecordsProcessed,
				RecordsImported:  row.RecordsImported,
				RecordsUpdated:   row.RecordsUpdated,
				RecordsFailed:    row.RecordsFailed,
				BytesRead:        row.BytesRead,
			},
		}
		if row.ErrorMessage != nil {
			job.Error = *row.ErrorMessage
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
