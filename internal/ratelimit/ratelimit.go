// Package ratelimit throttles the public click endpoints per client IP.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clinicware/affiliate-engine/internal/cache"
)

// Limiter is a fixed-window counter in Redis, shared across instances so a
// scraper cannot dodge the limit by hitting different replicas.
type Limiter struct {
	cache  *cache.Client
	logger *zap.SugaredLogger
	limit  int
	window time.Duration
}

func NewLimiter(c *cache.Client, logger *zap.SugaredLogger, limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{cache: c, logger: logger, limit: limit, window: window}
}

func (l *Limiter) key(ipHash string, now time.Time) string {
	return fmt.Sprintf("rl:click:%s:%d", ipHash, now.Unix()/int64(l.window.Seconds()))
}

// Allow reports whether this request fits in the client's current window.
// Counter failures fail open: dropping clicks over a Redis blip loses
// legitimate referrals.
func (l *Limiter) Allow(ctx context.Context, ipHash string) bool {
	count, err := l.cache.IncrWindow(ctx, l.key(ipHash, time.Now()), l.window)
	if err != nil {
		l.logger.Warnw("rate limit counter unavailable, failing open", "error", err)
		return true
	}
	return count <= int64(l.limit)
}
