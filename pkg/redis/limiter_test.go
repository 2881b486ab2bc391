package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, max int, window time.Duration) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewLimiter(client, max, window), mr
}

func TestLimiterAllowsUpToMax(t *testing.T) {
	l, _ := newTestLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, remaining, err := l.Allow(ctx, "1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.EqualValues(t, 2-i, remaining)
	}

	ok, remaining, err := l.Allow(ctx, "1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.EqualValues(t, 0, remaining)

	ok, _, err = l.Allow(ctx, "5.6.7.8")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLimiterWindowExpires(t *testing.T) {
	l, mr := newTestLimiter(t, 1, time.Minute)
	ctx := context.Background()

	ok, _, err := l.Allow(ctx, "ip")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, _, err = l.Allow(ctx, "ip")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, time.Minute, mr.TTL(limiterKeyPrefix+"ip"))
	mr.FastForward(61 * time.Second)

	ok, _, err = l.Allow(ctx, "ip")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLimiterReportsRedisErrors(t *testing.T) {
	l, mr := newTestLimiter(t, 1, time.Minute)
	mr.Close()

	_, _, err := l.Allow(context.Background(), "ip")
	assert.Error(t, err)
}

func TestNewClientFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewClient(ctx, Config{Host: "127.0.0.1", Port: "1"})
	assert.Error(t, err)
}
