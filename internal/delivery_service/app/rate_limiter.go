package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/commsuite/delivery-engine/internal/platform/cache"
	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

// rateWindow describes one fixed counting window.
type rateWindow struct {
	name   string
	length time.Duration
}

var rateWindows = []rateWindow{
	{"second", time.Second},
	{"minute", time.Minute},
	{"hour", time.Hour},
	{"day", 24 * time.Hour},
}

// RateLimiter enforces configured send ceilings with fixed-window counters
// in redis. Counters are shared across worker instances; rules come from the
// database and absence of a rule means unlimited.
type RateLimiter struct {
	ruleRepo domain.RateLimitRepository
	cache    cache.Client
	logger   *slog.Logger
}

func NewRateLimiter(ruleRepo domain.RateLimitRepository, cacheClient cache.Client, logger *slog.Logger) *RateLimiter {
	return &RateLimiter{
		ruleRepo: ruleRepo,
		cache:    cacheClient,
		logger:   logger.With("component", "rate_limiter"),
	}
}

// CanSend reports whether one more send for (limitType, limitKey) stays
// within every configured window ceiling. Errors fail open: a broken rule
// store or counter store must not halt delivery.
func (l *RateLimiter) CanSend(ctx context.Context, limitType, limitKey string) bool {
	rule, err := l.ruleRepo.GetActiveRule(ctx, limitType, limitKey)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return true
		}
		l.logger.ErrorContext(ctx, "Failed to load rate limit rule, allowing send", "limit_type", limitType, "limit_key", limitKey, "error", err)
		return true
	}

	now := time.Now()
	for _, w := range rateWindows {
		ceiling := ceilingFor(rule, w.name)
		if ceiling == nil {
			continue
		}
		count, err := l.cache.GetInt(ctx, l.counterKey(limitType, limitKey, w, now))
		if err != nil {
			l.logger.ErrorContext(ctx, "Failed to read rate counter, allowing send", "limit_type", limitType, "limit_key", limitKey, "window", w.name, "error", err)
			return true
		}
		if count >= int64(*ceiling) {
			return false
		}
	}
	return true
}

// RecordSend increments every window counter for (limitType, limitKey).
// The TTL is refreshed on every increment; bucketed keys make a stale
// counter impossible even if an Expire call is lost.
func (l *RateLimiter) RecordSend(ctx context.Context, limitType, limitKey string) {
	now := time.Now()
	for _, w := range rateWindows {
		key := l.counterKey(limitType, limitKey, w, now)
		if _, err := l.cache.Incr(ctx, key); err != nil {
			l.logger.ErrorContext(ctx, "Failed to increment rate counter", "key", key, "error", err)
			continue
		}
		if err := l.cache.Expire(ctx, key, w.length); err != nil {
			l.logger.ErrorContext(ctx, "Failed to set rate counter TTL", "key", key, "error", err)
		}
	}
}

// counterKey buckets time into fixed windows so all instances agree on the
// counter for a given instant.
func (l *RateLimiter) counterKey(limitType, limitKey string, w rateWindow, now time.Time) string {
	bucket := now.Unix() / int64(w.length.Seconds())
	return fmt.Sprintf("ratelimit:%s:%s:%s:%d", limitType, limitKey, w.name, bucket)
}

func ceilingFor(rule *domain.RateLimitRule, window string) *int {
	switch window {
	case "second":
		return rule.MaxPerSecond
	case "minute":
		return rule.MaxPerMinute
	case "hour":
		return rule.MaxPerHour
	case "day":
		return rule.MaxPerDay
	}
	return nil
}
