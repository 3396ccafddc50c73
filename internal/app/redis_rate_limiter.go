package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRateLimitPrefix = "payroll:rate_limit"

// writeScopes are the budgets the limiter keeps apart. Payroll changes are counted per
// organization and investment writes per owner.
var writeScopes = map[string]struct{}{
	writeScopePayroll:     {},
	writeScopeInvestments: {},
}

// RedisRateLimiter counts writes in fixed windows aligned to the wall clock, so every
// replica agrees on when a window opens and closes. Each window has its own key.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string) *RedisRateLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = defaultRateLimitPrefix
	}
	return &RedisRateLimiter{client: client, prefix: prefix, now: time.Now}
}

// windowBucket returns the start of the window holding now and how long it stays open.
func windowBucket(now time.Time, window time.Duration) (time.Time, time.Duration) {
	start := now.UTC().Truncate(window)
	return start, start.Add(window).Sub(now)
}

// retryAfterSeconds rounds up so a client never retries inside the closed window.
func retryAfterSeconds(remaining time.Duration) int {
	seconds := int((remaining + time.Second - 1) / time.Second)
	if seconds < 1 {
		return 1
	}
	return seconds
}

func (r *RedisRateLimiter) bucketKey(scope, subject string, start time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%d", r.prefix, scope, subject, start.Unix())
}

// ConsumeRateLimit records one write by subject in scope and returns the count for the
// current window together with the seconds until it closes. A non-positive limit or
// window disables the check.
func (r *RedisRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	if r == nil || r.client == nil || limit <= 0 || window <= 0 {
		return 0, 0, nil
	}
	scope = strings.TrimSpace(scope)
	subject = strings.TrimSpace(subject)
	if _, ok := writeScopes[scope]; !ok {
		return 0, 0, fmt.Errorf("unknown rate limit scope %q", scope)
	}
	if subject == "" {
		return 0, 0, nil
	}
	if window < time.Second {
		window = time.Second
	}

	start, remaining := windowBucket(r.now(), window)
	key := r.bucketKey(scope, subject, start)

	var hits *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		hits = pipe.Incr(ctx, key)
		// Kept one extra window so replicas with a lagging clock still find it.
		pipe.PExpireAt(ctx, key, start.Add(2*window))
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("count %s write: %w", scope, err)
	}
	return int(hits.Val()), retryAfterSeconds(remaining), nil
}
