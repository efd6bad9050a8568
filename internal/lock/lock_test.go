package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autopeer-io/velopark/internal/core"
	"github.com/autopeer-io/velopark/pkg/options"
)

func TestLocalAcquireRelease(t *testing.T) {
	l := NewLocal(time.Minute)
	ctx := context.Background()

	token, ok, err := l.Acquire(ctx, "user:U1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotEmpty(t, token)

	_, ok, err = l.Acquire(ctx, "user:U1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "held key must not be acquired twice")

	_, ok, err = l.Acquire(ctx, "user:U2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, l.Release(ctx, "user:U1", token))
	_, ok, err = l.Acquire(ctx, "user:U1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLocalKeysExpire(t *testing.T) {
	l := NewLocal(time.Minute)
	ctx := context.Background()

	_, ok, err := l.Acquire(ctx, "vehicle:V1", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Eventually(t, func() bool {
		_, ok, _ := l.Acquire(ctx, "vehicle:V1", time.Minute)
		return ok
	}, time.Second, 5*time.Millisecond)
}

func TestLocalHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := NewLocal(time.Minute).Acquire(ctx, "user:U1", time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalExpiredHolderCannotRelease(t *testing.T) {
	l := NewLocal(time.Minute)
	ctx := context.Background()

	stale, ok, err := l.Acquire(ctx, "vehicle:V1", 10*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	var current string
	require.Eventually(t, func() bool {
		current, ok, _ = l.Acquire(ctx, "vehicle:V1", time.Minute)
		return ok
	}, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, l.Release(ctx, "vehicle:V1", stale), ErrNotHeld)

	_, ok, err = l.Acquire(ctx, "vehicle:V1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "current holder must keep the key")

	require.NoError(t, l.Release(ctx, "vehicle:V1", current))
}

func newRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedis(client, "velopark:lock:")
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

func TestRedisAcquireRelease(t *testing.T) {
	r, mr := newRedis(t)
	ctx := context.Background()

	token, ok, err := r.Acquire(ctx, "user:U1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := mr.Get("velopark:lock:user:U1")
	require.NoError(t, err)
	assert.Equal(t, token, got)

	_, ok, err = r.Acquire(ctx, "user:U1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Release(ctx, "user:U1", token))
	assert.False(t, mr.Exists("velopark:lock:user:U1"))
}

func TestRedisExpiredHolderCannotRelease(t *testing.T) {
	r, mr := newRedis(t)
	ctx := context.Background()

	stale, ok, err := r.Acquire(ctx, "vehicle:V1", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	current, ok, err := r.Acquire(ctx, "vehicle:V1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, r.Release(ctx, "vehicle:V1", stale), ErrNotHeld)

	got, err := mr.Get("velopark:lock:vehicle:V1")
	require.NoError(t, err)
	assert.Equal(t, current, got, "current holder must keep the key")
}

func TestLockersImplementPort(t *testing.T) {
	r, _ := newRedis(t)
	for name, l := range map[string]core.Locker{"local": NewLocal(time.Minute), "redis": r} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			token, ok, err := l.Acquire(ctx, "user:U9", time.Minute)
			require.NoError(t, err)
			require.True(t, ok)
			assert.ErrorIs(t, l.Release(ctx, "user:U9", "someone-else"), ErrNotHeld)
			assert.NoError(t, l.Release(ctx, "user:U9", token))
		})
	}
}

func TestRedisUnreachable(t *testing.T) {
	o := options.NewRedisOptions()
	o.Addr = "127.0.0.1:1"

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewRedisFromOptions(ctx, o)
	assert.Error(t, err)
}
