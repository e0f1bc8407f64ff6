package redis

import (
	"context"
	"fmt"
	"time"

	pkgerrors "github.com/honeynil/AuthSessionService/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const rateLimitPrefix = "ratelimit:"

// KEYS[1] counter, ARGV[1] window ms
var rateLimitScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// RateLimiter is a fixed-window counter shared by every service instance
// through Redis.
type RateLimiter struct {
	client  redis.UniversalClient
	scope   string
	limit   int
	window  time.Duration
	timeout time.Duration
}

func NewRateLimiter(client redis.UniversalClient, scope string, limit int, window, timeout time.Duration) *RateLimiter {
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		client:  client,
		scope:   scope,
		limit:   limit,
		window:  window,
		timeout: timeout,
	}
}

// Allow counts one attempt for clientID and reports whether it is within the
// limit for the current window.
func (l *RateLimiter) Allow(ctx context.Context, clientID string) (bool, error) {
	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	key := rateLimitPrefix + l.scope + ":" + clientID
	count, err := rateLimitScript.Run(ctx, l.client, []string{key}, l.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: rate limit: %v", pkgerrors.ErrStoreUnavailable, err)
	}
	return count <= int64(l.limit), nil
}
