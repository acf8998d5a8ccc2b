package cache

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kapu/dealsync-go/internal/testutil"
)

func openTestCache(t *testing.T) *CacheService {
	t.Helper()
	host, port := testutil.RedisAddr(t)

	svc, err := NewCacheService(context.Background(), CacheConfig{Host: host, Port: port}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.Close() })
	return svc
}

func TestGetSetRoundTrip(t *testing.T) {
	svc := openTestCache(t)
	ctx := context.Background()
	key := "dealsync:test:" + uuid.NewString()
	t.Cleanup(func() { _ = svc.Del(ctx, key) })

	type payload struct{ Name string }

	found, err := svc.Get(ctx, key, &payload{})
	require.NoError(t, err)
	require.False(t, found)

	require.NoError(t, svc.Set(ctx, key, payload{Name: "Alpha"}, time.Minute))
	var got payload
	found, err = svc.Get(ctx, key, &got)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "Alpha", got.Name)
}

func TestLockIsExclusive(t *testing.T) {
	svc := openTestCache(t)
	ctx := context.Background()
	key := "dealsync:test-lock:" + uuid.NewString()

	ok, err := svc.TryLock(ctx, key, "a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = svc.TryLock(ctx, key, "b", time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, svc.Unlock(ctx, key, "b"))
	ok, err = svc.TryLock(ctx, key, "b", time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "foreign unlock must not release the lock")

	require.NoError(t, svc.Unlock(ctx, key, "a"))
	ok, err = svc.TryLock(ctx, key, "b", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, svc.Unlock(ctx, key, "b"))
}

func TestWaitUntilReady(t *testing.T) {
	svc := openTestCache(t)
	require.NoError(t, svc.WaitUntilReady(context.Background(), time.Second))
	require.True(t, svc.IsConnected(context.Background()))
}
