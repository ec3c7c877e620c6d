package models

import "time"

type MigrationJob struct {
	ID               string  `gorm:"type:text;primaryKey"`
	Kind             string  `gorm:"type:text;not null"`
	Status           string  `gorm:"type:text;not null"`
	SourcePath       string  `gorm:"type:text;not null"`
	RecordsProcessed int64   `gorm:"not null"`
	RecordsImported  int64   `gorm:"not null"`
	RecordsUpdated   int64   `gorm:"not null"`
	RecordsFailed    int64   `gorm:"not null"`
	BytesRead        int64   `gorm:"not null"`
	ErrorMessage     *string `gorm:"type:text"`
	StartedAt        time.Time
	CompletedAt      *time.Time
	UpdatedAt        time.Time
}

func (MigrationJob) TableName() string {
	return "migration_jobs"
}
