package migration

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyRunning    = errors.New("an import is already running")
	ErrStructuralParse   = errors.New("malformed source document")
	ErrJobNotFound       = errors.New("migration job not found")
	ErrInvalidSource     = errors.New("invalid import source")
	ErrNoProgress        = errors.New("no progress reported")
	ErrMissingCardColumn = errors.New("csv needs a card name or uuid column")
)

// AlreadyRunningError is returned when the import lock is held and not stale.
type AlreadyRunningError struct {
	StartedSecondsAgo int64
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("%s (started %ds ago)", ErrAlreadyRunning, e.StartedSecondsAgo)
}

func (e *AlreadyRunningError) Is(target error) bool {
	return target == ErrAlreadyRunning
}
