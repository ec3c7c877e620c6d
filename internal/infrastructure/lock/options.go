package lock

import (
	"time"

	"github.com/mohammadpnp/card-ingest/internal/pkg/logger"
)

// DefaultStaleAfter is the age after which a held lock may be reclaimed.
const DefaultStaleAfter = 10 * time.Minute

// Observer is notified about contention and reclaims. Implemented by the
// metrics package.
type Observer interface {
	LockContended()
	StaleLockReclaimed()
}

type nopObserver struct{}

func (nopObserver) LockContended()      {}
func (nopObserver) StaleLockReclaimed() {}

type settings struct {
	staleAfter time.Duration
	now        func() time.Time
	log        *logger.Logger
	observer   Observer
}

type Option func(*settings)

func WithStaleAfter(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.staleAfter = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

func WithLogger(log *logger.Logger) Option {
	return func(s *settings) { s.log = log }
}

func WithObserver(o Observer) Option {
	return func(s *settings) {
		if o != nil {
			s.observer = o
		}
	}
}

func newSettings(opts []Option) settings {
	s := settings{
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
		log:        logger.NewNop(),
		observer:   nopObserver{},
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func secondsSince(now, then time.Time) int64 {
	age := now.Sub(then)
	if age < 0 {
		return 0
	}
	return int64(age.Seconds())
}
