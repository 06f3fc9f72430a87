package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

// PgRateLimitRepository implements domain.RateLimitRepository.
type PgRateLimitRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgRateLimitRepository(db *pgxpool.Pool, logger *slog.Logger) *PgRateLimitRepository {
	return &PgRateLimitRepository{db: db, logger: logger.With("repository", "rate_limits")}
}

func (r *PgRateLimitRepository) GetActiveRule(ctx context.Context, limitType, limitKey string) (*domain.RateLimitRule, error) {
	query := `
		SELECT id, limit_type, limit_key, max_per_second, max_per_minute, max_per_hour, max_per_day, is_active
		FROM rate_limit_rules
		WHERE limit_type = $1 AND limit_key = $2 AND is_active = TRUE
	`
	rule := &domain.RateLimitRule{}
	err := r.db.QueryRow(ctx, query, limitType, limitKey).Scan(
		&rule.ID, &rule.LimitType, &rule.LimitKey,
		&rule.MaxPerSecond, &rule.MaxPerMinute, &rule.MaxPerHour, &rule.MaxPerDay,
		&rule.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error looking up rate limit rule", "error", err, "limit_type", limitType, "limit_key", limitKey)
		return nil, err
	}
	return rule, nil
}
