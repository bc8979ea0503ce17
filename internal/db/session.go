package db

import (
	"context"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"pvimport/internal/logs"
)

// ErrConnectionLost is returned once the reconnect ladder has exhausted
// its attempt ceiling. It is terminal: callers are expected to stop.
var ErrConnectionLost = errors.New("database connection lost")

const (
	// DefaultMaxAttempts bounds the reconnect ladder.
	DefaultMaxAttempts = 1000

	initialBackoff = 5 * time.Second
	maxBackoff     = 14400 * time.Second
)

// Session wraps the database handle with an "always usable" contract:
// every call routes through a liveness check that transparently
// reconnects with bounded exponential backoff. Access is serialised by
// an internal mutex, so callers never observe a half-reconnected handle.
type Session struct {
	mu          sync.Mutex
	gdb         *gorm.DB
	driver, dsn string
	maxAttempts int
	backoff     time.Duration

	// injectable for tests
	dial  func(driver, dsn string) (*gorm.DB, error)
	ping  func(ctx context.Context, gdb *gorm.DB) error
	sleep func(ctx context.Context, d time.Duration) error

	// OnReconnectAttempt, when set, is called once per ladder step.
	OnReconnectAttempt func()
}

type SessionOption func(*Session)

// WithInitial seeds the session with an already-open handle so the first
// call does not pay a ladder step.
func WithInitial(gdb *gorm.DB) SessionOption {
	return func(s *Session) { s.gdb = gdb }
}

func WithMaxAttempts(n int) SessionOption {
	return func(s *Session) { s.maxAttempts = n }
}

func NewSession(driver, dsn string, opts ...SessionOption) *Session {
	s := &Session{
		driver:      driver,
		dsn:         dsn,
		maxAttempts: DefaultMaxAttempts,
		backoff:     initialBackoff,
		dial:        Open,
		ping:        pingGorm,
		sleep:       sleepCtx,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// WithConnection runs f against a live handle. If the session is not
// usable it reconnects first, sleeping the current backoff before each
// attempt (5 s doubling up to 14400 s, reset on success). After
// maxAttempts the call fails with ErrConnectionLost. An error returned
// by f itself is passed through untouched and does not trigger a
// reconnect.
func (s *Session) WithConnection(ctx context.Context, f func(gdb *gorm.DB) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensure(ctx); err != nil {
		return err
	}
	return f(s.gdb)
}

func (s *Session) ensure(ctx context.Context) error {
	if s.usable(ctx) {
		s.backoff = initialBackoff
		return nil
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		if s.OnReconnectAttempt != nil {
			s.OnReconnectAttempt()
		}
		logs.Logger.Warnf("database unavailable, reconnect attempt %d/%d in %s",
			attempt, s.maxAttempts, s.backoff)
		if err := s.sleep(ctx, s.backoff); err != nil {
			return err
		}
		if s.backoff < maxBackoff {
			s.backoff *= 2
			if s.backoff > maxBackoff {
				s.backoff = maxBackoff
			}
		}

		gdb, err := s.dial(s.driver, s.dsn)
		if err == nil {
			s.gdb = gdb
		}
		if s.usable(ctx) {
			s.backoff = initialBackoff
			logs.Logger.Info("database connection re-established")
			return nil
		}
	}
	return ErrConnectionLost
}

func (s *Session) usable(ctx context.Context) bool {
	if s.gdb == nil {
		return false
	}
	return s.ping(ctx, s.gdb) == nil
}

func pingGorm(ctx context.Context, gdb *gorm.DB) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
