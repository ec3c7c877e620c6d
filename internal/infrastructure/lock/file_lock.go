package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
)

type marker struct {
	AcquiredAt time.Time `json:"acquiredAt"`
	PID        int       `json:"pid"`
	Owner      string    `json:"owner"`
}

// FileLock is a marker-file import lock usable across processes.
//
// A marker older than the stale threshold, or one that cannot be parsed, is
// removed and acquisition is retried once. Nothing refreshes the marker unless
// the holder calls Touch, so a holder that runs past the threshold can lose the
// lock to a later caller.
//
// Acquisitions from the same FileLock are serialized, so only one of several
// in-process callers can reclaim a stale marker. Between processes the reclaim
// is optimistic.
type FileLock struct {
	path string
	cfg  settings

	mu sync.Mutex
}

func NewFileLock(path string, opts ...Option) *FileLock {
	return &FileLock{path: path, cfg: newSettings(opts)}
}

func (l *FileLock) Path() string {
	return l.path
}

func (l *FileLock) TryAcquire(ctx context.Context, owner string) (domain.LockHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	reclaimed := false
	for {
		now := l.cfg.now()
		err := l.create(marker{AcquiredAt: now, PID: os.Getpid(), Owner: owner})
		if err == nil {
			return &fileHandle{lock: l, acquiredAt: now}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create lock marker: %w", err)
		}

		current, readErr := l.read()
		if errors.Is(readErr, fs.ErrNotExist) {
			// released between create and read
			continue
		}
		fresh := readErr == nil && now.Sub(current.AcquiredAt) < l.cfg.staleAfter
		if fresh || reclaimed {
			l.cfg.observer.LockContended()
			var ago int64
			if readErr == nil {
				ago = secondsSince(now, current.AcquiredAt)
			}
			return nil, &domain.AlreadyRunningError{StartedSecondsAgo: ago}
		}

		if readErr != nil {
			l.cfg.log.Warn("removing unreadable import lock", "path", l.path, "error", readErr)
		} else {
			l.cfg.log.Warn("removing stale import lock",
				"path", l.path,
				"owner", current.Owner,
				"age", now.Sub(current.AcquiredAt).String(),
			)
		}
		if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("remove stale lock marker: %w", err)
		}
		l.cfg.observer.StaleLockReclaimed()
		reclaimed = true
	}
}

// create publishes the marker with a hard link so readers never observe a
// half-written file.
func (l *FileLock) create(m marker) error {
	tmp, err := l.writeTemp(m)
	if err != nil {
		return err
	}
	defer os.Remove(tmp)

	return os.Link(tmp, l.path)
}

func (l *FileLock) writeTemp(m marker) (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	f, err := os.CreateTemp(filepath.Dir(l.path), filepath.Base(l.path)+".*.tmp")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func (l *FileLock) read() (marker, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return marker{}, err
	}
	var m marker
	if err := json.Unmarshal(data, &m); err != nil {
		return marker{}, fmt.Errorf("parse lock marker: %w", err)
	}
	if m.AcquiredAt.IsZero() {
		return marker{}, errors.New("lock marker has no acquiredAt")
	}
	return m, nil
}

type fileHandle struct {
	lock       *FileLock
	acquiredAt time.Time
	once       sync.Once
	releaseErr error
}

func (h *fileHandle) AcquiredAt() time.Time {
	return h.acquiredAt
}

// Release removes the marker. It does not check ownership, and calling it
// again is a no-op.
func (h *fileHandle) Release() error {
	h.once.Do(func() {
		if err := os.Remove(h.lock.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			h.releaseErr = fmt.Errorf("remove lock marker: %w", err)
		}
	})
	return h.releaseErr
}

// Touch rewrites the marker with the current time.
func (h *fileHandle) Touch() error {
	l := h.lock
	current, err := l.read()
	if err != nil {
		return fmt.Errorf("read lock marker: %w", err)
	}
	current.AcquiredAt = l.cfg.now()

	tmp, err := l.writeTemp(current)
	if err != nil {
		return fmt.Errorf("write lock marker: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace lock marker: %w", err)
	}
	return nil
}
