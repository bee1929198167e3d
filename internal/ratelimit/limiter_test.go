package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/license-server/internal/ratelimit"
)

func newLimiter(t *testing.T) (*ratelimit.Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return ratelimit.NewLimiter(rdb, "salt"), mr
}

func TestCheck_Window(t *testing.T) {
	l, mr := newLimiter(t)
	cfg := ratelimit.LimitConfig{Rate: 2, Window: time.Minute}
	key := l.Key(ratelimit.ScopeIP, "203.0.113.1")

	d, err := l.Check(context.Background(), ratelimit.ScopeIP, key, cfg)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)

	d, err = l.Check(context.Background(), ratelimit.ScopeIP, key, cfg)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	d, err = l.Check(context.Background(), ratelimit.ScopeIP, key, cfg)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 60, d.RetryAfter)
	assert.Equal(t, ratelimit.ScopeIP, d.Scope)

	mr.FastForward(time.Minute + time.Second)

	d, err = l.Check(context.Background(), ratelimit.ScopeIP, key, cfg)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestKey_HashesIdentifier(t *testing.T) {
	l, _ := newLimiter(t)
	key := l.Key(ratelimit.ScopeLicense, "WPL-AAAA-BBBB-CCCC-DDDD", "activate")

	assert.NotContains(t, key, "WPL-AAAA")
	assert.Contains(t, key, "rl:license:")
	assert.Contains(t, key, ":activate")
	assert.Equal(t, key, l.Key(ratelimit.ScopeLicense, "WPL-AAAA-BBBB-CCCC-DDDD", "activate"))
}

func TestCheck_RedisDown(t *testing.T) {
	mr := miniredis.NewMiniRedis()
	require.NoError(t, mr.Start())
	addr := mr.Addr()
	mr.Close()

	l := ratelimit.NewLimiter(redis.NewClient(&redis.Options{Addr: addr}), "salt")
	_, err := l.Check(context.Background(), ratelimit.ScopeIP, "rl:ip:x", ratelimit.LimitConfig{Rate: 1, Window: time.Second})
	assert.ErrorIs(t, err, ratelimit.ErrRedisUnavailable)
}

func TestLimitConfig_Enabled(t *testing.T) {
	assert.False(t, ratelimit.LimitConfig{}.Enabled())
	assert.True(t, ratelimit.LimitConfig{Rate: 1, Window: time.Second}.Enabled())
}
