package migration

import (
	"context"
	"time"
)

// ImportLock guards the single system-wide import slot.
type ImportLock interface {
	TryAcquire(ctx context.Context, owner string) (LockHandle, error)
}

type LockHandle interface {
	Release() error
	Touch() error
	AcquiredAt() time.Time
}

type ProgressStore interface {
	Write(ctx context.Context, snapshot ProgressSnapshot) error
	Read(ctx context.Context) (ProgressSnapshot, error)
	Clear(ctx context.Context) error
}

// JobRecorder persists job transitions outside the in-memory registry.
type JobRecorder interface {
	Record(ctx context.Context, job MigrationJob) error
}
