package lock

import (
	"context"
	"sync"
	"time"

	domain "github.com/mohammadpnp/card-ingest/internal/domain/migration"
)

// MemoryLock is the single-process variant of FileLock with the same
// staleness rules.
type MemoryLock struct {
	cfg settings

	mu         sync.Mutex
	held       bool
	owner      string
	acquiredAt time.Time
}

func NewMemoryLock(opts ...Option) *MemoryLock {
	return &MemoryLock{cfg: newSettings(opts)}
}

func (l *MemoryLock) TryAcquire(ctx context.Context, owner string) (domain.LockHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.cfg.now()
	if l.held {
		if now.Sub(l.acquiredAt) < l.cfg.staleAfter {
			l.cfg.observer.LockContended()
			return nil, &domain.AlreadyRunningError{StartedSecondsAgo: secondsSince(now, l.acquiredAt)}
		}
		l.cfg.log.Warn("reclaiming stale import lock",
			"owner", l.owner,
			"age", now.Sub(l.acquiredAt).String(),
		)
		l.cfg.observer.StaleLockReclaimed()
	}

	l.held = true
	l.owner = owner
	l.acquiredAt = now
	return &memoryHandle{lock: l, acquiredAt: now}, nil
}

type memoryHandle struct {
	lock       *MemoryLock
	acquiredAt time.Time
	once       sync.Once
}

func (h *memoryHandle) AcquiredAt() time.Time {
	return h.acquiredAt
}

func (h *memoryHandle) Release() error {
	h.once.Do(func() {
		h.lock.mu.Lock()
		h.lock.held = false
		h.lock.owner = ""
		h.lock.mu.Unlock()
	})
	return nil
}

func (h *memoryHandle) Touch() error {
	h.lock.mu.Lock()
	defer h.lock.mu.Unlock()
	if h.lock.held {
		h.lock.acquiredAt = h.lock.cfg.now()
	}
	return nil
}
