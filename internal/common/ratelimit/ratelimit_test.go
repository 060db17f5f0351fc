package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"codexec/internal/common/cache"
	pkgerrors "codexec/pkg/errors"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func TestLocalLimiterBurstThenReject(t *testing.T) {
	l := newLocalLimiter(rate.Every(time.Hour), 2)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "a"))
	require.NoError(t, l.Allow(ctx, "a"))
	err := l.Allow(ctx, "a")
	require.True(t, pkgerrors.Is(err, pkgerrors.TooManyRequests))

	// Keys are independent.
	require.NoError(t, l.Allow(ctx, "b"))

	now = now.Add(time.Hour)
	require.NoError(t, l.Allow(ctx, "a"))
}

func TestLocalLimiterSweep(t *testing.T) {
	l := newLocalLimiter(rate.Inf, 1)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "old"))
	now = now.Add(90 * time.Minute)
	require.NoError(t, l.Allow(ctx, "fresh"))

	require.Equal(t, 1, l.Sweep())
	require.Equal(t, 1, l.size())
}

func TestLocalLimiterCloseIsIdempotent(t *testing.T) {
	l := NewLocalLimiter(60, 1)
	l.Close()
	l.Close()
}

func TestWindowLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCacheWithConfig(&cache.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer rc.Close()

	l := NewWindowLimiter(rc, Config{Max: 2, Window: time.Minute, KeyPrefix: "t"})
	ctx := context.Background()

	require.NoError(t, l.Allow(ctx, "ip:1"))
	require.NoError(t, l.Allow(ctx, "ip:1"))
	err = l.Allow(ctx, "ip:1")
	require.True(t, pkgerrors.Is(err, pkgerrors.TooManyRequests))
	require.NoError(t, l.Allow(ctx, "ip:2"))

	v, err := mr.Get("t:ip:1")
	require.NoError(t, err)
	require.Equal(t, "3", v)

	mr.FastForward(time.Minute + time.Second)
	require.NoError(t, l.Allow(ctx, "ip:1"))
}

func TestWindowLimiterRestoresMissingExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := cache.NewRedisCacheWithConfig(&cache.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer rc.Close()

	require.NoError(t, mr.Set("t:k", "1"))
	l := NewWindowLimiter(rc, Config{Max: 5, Window: 30 * time.Second, KeyPrefix: "t"})
	require.NoError(t, l.Allow(context.Background(), "k"))
	require.Equal(t, 30*time.Second, mr.TTL("t:k"))
}

type failingCounter struct{}

func (failingCounter) SetNX(context.Context, string, interface{}, time.Duration) (bool, error) {
	return false, errors.New("down")
}
func (failingCounter) Incr(context.Context, string) (int64, error) { return 0, errors.New("down") }
func (failingCounter) TTL(context.Context, string) (time.Duration, error) {
	return 0, errors.New("down")
}
func (failingCounter) Expire(context.Context, string, time.Duration) error { return errors.New("down") }

func TestWindowLimiterCacheFailure(t *testing.T) {
	l := NewWindowLimiter(failingCounter{}, Config{Max: 1})
	err := l.Allow(context.Background(), "k")
	require.True(t, pkgerrors.Is(err, pkgerrors.CacheError))

	l = NewWindowLimiter(nil, Config{Max: 1})
	err = l.Allow(context.Background(), "k")
	require.True(t, pkgerrors.Is(err, pkgerrors.ServiceUnavailable))
}

func TestNewSelectsBackend(t *testing.T) {
	l, closer, err := New(Config{}, nil)
	require.NoError(t, err)
	require.Nil(t, l)
	require.NoError(t, closer.Close())

	l, closer, err = New(Config{Enabled: true}, nil)
	require.NoError(t, err)
	require.IsType(t, &LocalLimiter{}, l)
	require.NoError(t, closer.Close())

	_, _, err = New(Config{Enabled: true, Backend: BackendRedis}, nil)
	require.Error(t, err)

	mr := miniredis.RunT(t)
	l, closer, err = New(Config{Enabled: true, Backend: BackendRedis}, &cache.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	require.IsType(t, &WindowLimiter{}, l)
	require.NoError(t, closer.Close())

	_, _, err = New(Config{Enabled: true, Backend: "memcached"}, nil)
	require.Error(t, err)
}
