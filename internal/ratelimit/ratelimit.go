// Package ratelimit implements a fixed-window request counter over the
// shared cache. Quota is advisory: the read-modify-write on the counter
// races between instances, and a failing store never blocks traffic.
package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/osouza/fiscalgate/internal/cache"
	"github.com/osouza/fiscalgate/internal/logging"
	"go.uber.org/zap"
)

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetTime int
}

// Limiter counts requests per identity in fixed windows. The window TTL
// starts at the first request, not per request, so it is not a sliding
// window.
type Limiter struct {
	Store  cache.Store
	Logger *zap.Logger
}

// CheckAndConsume reads the counter for identity and, when the limit is
// not yet reached, consumes one slot. Counting above the limit does not
// increment, so a blocked client cannot extend its own window. Store
// failures fail open: availability beats quota accuracy here.
func (l *Limiter) CheckAndConsume(ctx context.Context, identity string, limit, windowSeconds int) Decision {
	key := cache.RateLimitKey(identity)

	value, ok, err := l.Store.Get(ctx, key)
	if err != nil {
		l.logFailOpen(key, err)
		return Decision{Allowed: true, Remaining: limit - 1, ResetTime: windowSeconds}
	}

	count := 0
	if ok {
		if n, convErr := strconv.Atoi(value); convErr == nil {
			count = n
		}
	}

	if count >= limit {
		return Decision{Allowed: false, Remaining: 0, ResetTime: windowSeconds}
	}

	ttl := time.Duration(windowSeconds) * time.Second
	if err := l.Store.Put(ctx, key, strconv.Itoa(count+1), ttl); err != nil {
		l.logFailOpen(key, err)
	}

	return Decision{Allowed: true, Remaining: limit - count - 1, ResetTime: windowSeconds}
}

func (l *Limiter) logFailOpen(key string, err error) {
	if l.Logger != nil {
		l.Logger.Warn("rate limit store failure, failing open",
			logging.CacheKey(key),
			zap.Error(err))
	}
}
