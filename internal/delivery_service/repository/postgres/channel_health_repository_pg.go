package postgres

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

// PgChannelHealthRepository implements domain.ChannelHealthRepository.
type PgChannelHealthRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgChannelHealthRepository(db *pgxpool.Pool, logger *slog.Logger) *PgChannelHealthRepository {
	return &PgChannelHealthRepository{db: db, logger: logger.With("repository", "channel_health")}
}

func (r *PgChannelHealthRepository) Get(ctx context.Context, channel domain.Channel, gateway string) (*domain.ChannelHealth, error) {
	query := `
		SELECT channel, gateway, success_rate_1h, success_rate_24h, avg_latency_ms, is_healthy, last_checked_at
		FROM channel_health
		WHERE channel = $1 AND gateway = $2
	`
	health := &domain.ChannelHealth{}
	err := r.db.QueryRow(ctx, query, channel, gateway).Scan(
		&health.Channel, &health.Gateway,
		&health.SuccessRate1h, &health.SuccessRate24h, &health.AvgLatencyMs,
		&health.IsHealthy, &health.LastCheckedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting channel health", "error", err, "channel", channel, "gateway", gateway)
		return nil, err
	}
	return health, nil
}

func (r *PgChannelHealthRepository) GetAll(ctx context.Context) ([]*domain.ChannelHealth, error) {
	query := `
		SELECT channel, gateway, success_rate_1h, success_rate_24h, avg_latency_ms, is_healthy, last_checked_at
		FROM channel_health
		ORDER BY channel, gateway
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing channel health", "error", err)
		return nil, err
	}
	defer rows.Close()

	var all []*domain.ChannelHealth
	for rows.Next() {
		health := &domain.ChannelHealth{}
		if err := rows.Scan(
			&health.Channel, &health.Gateway,
			&health.SuccessRate1h, &health.SuccessRate24h, &health.AvgLatencyMs,
			&health.IsHealthy, &health.LastCheckedAt,
		); err != nil {
			return nil, err
		}
		all = append(all, health)
	}
	return all, rows.Err()
}

func (r *PgChannelHealthRepository) Upsert(ctx context.Context, health *domain.ChannelHealth) error {
	query := `
		INSERT INTO channel_health (channel, gateway, success_rate_1h, success_rate_24h, avg_latency_ms, is_healthy, last_checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (channel, gateway) DO UPDATE
		SET success_rate_1h = EXCLUDED.success_rate_1h,
		    success_rate_24h = EXCLUDED.success_rate_24h,
		    avg_latency_ms = EXCLUDED.avg_latency_ms,
		    is_healthy = EXCLUDED.is_healthy,
		    last_checked_at = EXCLUDED.last_checked_at
	`
	_, err := r.db.Exec(ctx, query,
		health.Channel, health.Gateway,
		health.SuccessRate1h, health.SuccessRate24h, health.AvgLatencyMs,
		health.IsHealthy, health.LastCheckedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error upserting channel health", "error", err, "channel", health.Channel, "gateway", health.Gateway)
		return err
	}
	return nil
}
