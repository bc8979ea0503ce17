package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeBackend scripts the liveness of the database: pings fail until
// failures is exhausted, then succeed.
type fakeBackend struct {
	failures int
	pings    int
	dials    int
	sleeps   []time.Duration
}

func newFakeSession(b *fakeBackend, opts ...SessionOption) *Session {
	s := NewSession("mysql", "ignored", opts...)
	s.gdb = &gorm.DB{}
	s.dial = func(driver, dsn string) (*gorm.DB, error) {
		b.dials++
		return &gorm.DB{}, nil
	}
	s.ping = func(ctx context.Context, gdb *gorm.DB) error {
		b.pings++
		if b.failures > 0 {
			b.failures--
			return errors.New("down")
		}
		return nil
	}
	s.sleep = func(ctx context.Context, d time.Duration) error {
		b.sleeps = append(b.sleeps, d)
		return nil
	}
	return s
}

func TestWithConnectionHealthy(t *testing.T) {
	b := &fakeBackend{}
	s := newFakeSession(b)

	ran := false
	err := s.WithConnection(context.Background(), func(gdb *gorm.DB) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.Empty(t, b.sleeps)
}

func TestReconnectLadderSequence(t *testing.T) {
	// DB down for 3 consecutive checks, then recovers: sleeps must be
	// 5s, 10s, 20s, and the backoff resets afterwards.
	b := &fakeBackend{failures: 3} // initial check + 2 ladder checks fail, 3rd attempt recovers
	s := newFakeSession(b)

	err := s.WithConnection(context.Background(), func(gdb *gorm.DB) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second}, b.sleeps)

	// next outage starts over at 5s
	b.failures = 1
	b.sleeps = nil
	err = s.WithConnection(context.Background(), func(gdb *gorm.DB) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second}, b.sleeps)
}

func TestReconnectBackoffCap(t *testing.T) {
	b := &fakeBackend{failures: 20}
	s := newFakeSession(b, WithMaxAttempts(15))

	err := s.WithConnection(context.Background(), func(gdb *gorm.DB) error { return nil })
	require.ErrorIs(t, err, ErrConnectionLost)

	require.Len(t, b.sleeps, 15)
	for k, d := range b.sleeps {
		want := 5 * time.Second << k
		if want > maxBackoff {
			want = maxBackoff
		}
		assert.Equal(t, want, d, "sleep before attempt %d", k+1)
	}
	// 5·2^12 = 20480s exceeds the 14400s cap
	assert.Equal(t, maxBackoff, b.sleeps[12])
}

func TestConnectionLostAfterMaxAttempts(t *testing.T) {
	b := &fakeBackend{failures: 1 << 30}
	s := newFakeSession(b, WithMaxAttempts(3))

	attempts := 0
	s.OnReconnectAttempt = func() { attempts++ }

	err := s.WithConnection(context.Background(), func(gdb *gorm.DB) error {
		t.Fatal("f must not run without a live connection")
		return nil
	})
	require.ErrorIs(t, err, ErrConnectionLost)
	assert.Equal(t, 3, attempts)
}

func TestCallerErrorDoesNotReconnect(t *testing.T) {
	b := &fakeBackend{}
	s := newFakeSession(b)

	boom := errors.New("constraint violated")
	err := s.WithConnection(context.Background(), func(gdb *gorm.DB) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.Zero(t, b.dials)
}

func TestReconnectHonoursCancellation(t *testing.T) {
	b := &fakeBackend{failures: 1 << 30}
	s := newFakeSession(b)
	s.sleep = func(ctx context.Context, d time.Duration) error { return context.Canceled }

	err := s.WithConnection(context.Background(), func(gdb *gorm.DB) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}
