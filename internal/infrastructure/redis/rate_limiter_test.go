package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	pkgerrors "github.com/honeynil/AuthSessionService/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()

	limiter := NewRateLimiter(client, "login", 3, time.Minute, time.Second)

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok, "attempt %d", i+1)
	}

	ok, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)

	// other clients have their own counter
	ok, err = limiter.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.FastForward(time.Minute)
	ok, err = limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok, "window reset")
}

func TestRateLimiter_SharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	c1 := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c2 := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer c1.Close()
	defer c2.Close()
	ctx := context.Background()

	a := NewRateLimiter(c1, "login", 2, time.Minute, time.Second)
	b := NewRateLimiter(c2, "login", 2, time.Minute, time.Second)

	ok, _ := a.Allow(ctx, "client")
	assert.True(t, ok)
	ok, _ = b.Allow(ctx, "client")
	assert.True(t, ok)
	ok, _ = a.Allow(ctx, "client")
	assert.False(t, ok)
}

func TestRateLimiter_StoreDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	limiter := NewRateLimiter(client, "login", 3, time.Minute, time.Second)
	_, err := limiter.Allow(context.Background(), "10.0.0.1")
	assert.ErrorIs(t, err, pkgerrors.ErrStoreUnavailable)
}
