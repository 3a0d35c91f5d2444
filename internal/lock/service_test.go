package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-bullion/internal/lock"
)

func newService(t *testing.T, now *time.Time) *lock.Service {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return &lock.Service{
		R:        rdb,
		Duration: 10 * time.Minute,
		Now:      func() time.Time { return *now },
	}
}

func TestLockLifecycle(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	svc := newService(t, &now)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "cart-1", 1234.56)
	require.NoError(t, err)
	require.Equal(t, t0.Unix(), issued.CreatedAt)
	require.Equal(t, t0.Add(10*time.Minute).Unix(), issued.ExpiresAt)
	require.Equal(t, lock.StateActive, issued.StateAt(t0))

	loaded, err := svc.Get(ctx, "cart-1")
	require.NoError(t, err)
	require.Equal(t, issued, loaded)

	// active one second before the deadline, expired exactly at it
	require.Equal(t, lock.StateActive, loaded.StateAt(t0.Add(9*time.Minute+59*time.Second)))
	require.Equal(t, lock.StateExpired, loaded.StateAt(t0.Add(10*time.Minute)))
	require.Equal(t, lock.StateExpired, loaded.StateAt(t0.Add(24*time.Hour)))

	// the record survives its own expiry for display
	now = t0.Add(11 * time.Minute)
	stale, err := svc.Get(ctx, "cart-1")
	require.NoError(t, err)
	require.Equal(t, lock.StateExpired, stale.StateAt(now))
	require.Equal(t, time.Duration(0), stale.RemainingAt(now))
}

func TestLockReissueReplacesSnapshot(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	now := t0
	svc := newService(t, &now)
	ctx := context.Background()

	_, err := svc.Issue(ctx, "cart-1", 100)
	require.NoError(t, err)

	now = t0.Add(15 * time.Minute)
	fresh, err := svc.Issue(ctx, "cart-1", 250)
	require.NoError(t, err)
	require.Equal(t, 250.0, fresh.SubtotalUsd)
	require.Equal(t, lock.StateActive, fresh.StateAt(now))

	loaded, err := svc.Get(ctx, "cart-1")
	require.NoError(t, err)
	require.Equal(t, fresh, loaded)
}

func TestLockDiscard(t *testing.T) {
	t.Parallel()

	t0 := time.Now()
	svc := newService(t, &t0)
	ctx := context.Background()

	_, err := svc.Issue(ctx, "cart-1", 100)
	require.NoError(t, err)
	require.NoError(t, svc.Discard(ctx, "cart-1"))

	_, err = svc.Get(ctx, "cart-1")
	require.ErrorIs(t, err, lock.ErrNotFound)
}
