package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/commsuite/delivery-engine/internal/platform/cache"
	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

// SuppressionRegistry answers "may we send to this address" at enqueue time.
// Lookups hit a short-TTL redis cache in front of the suppressions table; a
// scoped entry and the global entry both block a send.
type SuppressionRegistry struct {
	repo     domain.SuppressionRepository
	cache    cache.Client
	cacheTTL time.Duration
	logger   *slog.Logger
}

func NewSuppressionRegistry(repo domain.SuppressionRepository, cacheClient cache.Client, cacheTTL time.Duration, logger *slog.Logger) *SuppressionRegistry {
	return &SuppressionRegistry{
		repo:     repo,
		cache:    cacheClient,
		cacheTTL: cacheTTL,
		logger:   logger.With("component", "suppression_registry"),
	}
}

// IsSuppressed reports whether an active entry forbids sending to the
// address on this channel, checking the given scope and the global scope.
// Store errors fail open so a cache or database hiccup does not block sends.
func (r *SuppressionRegistry) IsSuppressed(ctx context.Context, channel domain.Channel, address string, scope *string) (bool, error) {
	if suppressed, err := r.lookup(ctx, channel, address, nil); err == nil && suppressed {
		return true, nil
	}
	if scope != nil {
		if suppressed, err := r.lookup(ctx, channel, address, scope); err == nil && suppressed {
			return true, nil
		}
	}
	return false, nil
}

// AddSuppression persists a new entry and invalidates its cache slot.
func (r *SuppressionRegistry) AddSuppression(ctx context.Context, channel domain.Channel, address string, scope *string, reason domain.SuppressionReason, source string, expiresAt *time.Time) error {
	entry := &domain.SuppressionEntry{
		ID:        uuid.New(),
		Channel:   channel,
		Address:   address,
		Scope:     scope,
		Reason:    reason,
		Source:    source,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	if err := r.repo.Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to create suppression entry: %w", err)
	}

	if err := r.cache.Delete(ctx, r.cacheKey(channel, address, scope)); err != nil {
		r.logger.WarnContext(ctx, "Failed to invalidate suppression cache entry", "channel", channel, "error", err)
	}

	r.logger.InfoContext(ctx, "Suppression entry added", "channel", channel, "reason", reason, "source", source)
	return nil
}

func (r *SuppressionRegistry) lookup(ctx context.Context, channel domain.Channel, address string, scope *string) (bool, error) {
	key := r.cacheKey(channel, address, scope)

	if cached, err := r.cache.Get(ctx, key); err == nil {
		return cached == "1", nil
	} else if !errors.Is(err, cache.ErrNotFound) {
		r.logger.WarnContext(ctx, "Suppression cache read failed, falling through to store", "error", err)
	}

	suppressed := false
	_, err := r.repo.FindActive(ctx, channel, address, scope, time.Now())
	switch {
	case err == nil:
		suppressed = true
	case errors.Is(err, domain.ErrNotFound):
		// not suppressed
	default:
		r.logger.ErrorContext(ctx, "Suppression lookup failed, allowing send", "channel", channel, "error", err)
		return false, err
	}

	val := "0"
	if suppressed {
		val = "1"
	}
	if err := r.cache.Set(ctx, key, val, r.cacheTTL); err != nil {
		r.logger.WarnContext(ctx, "Failed to cache suppression lookup", "error", err)
	}
	return suppressed, nil
}

func (r *SuppressionRegistry) cacheKey(channel domain.Channel, address string, scope *string) string {
	s := "global"
	if scope != nil {
		s = *scope
	}
	return fmt.Sprintf("suppression:%s:%s:%s", channel, s, address)
}
