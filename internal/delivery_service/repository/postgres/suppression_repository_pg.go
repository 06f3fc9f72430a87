package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

// PgSuppressionRepository implements domain.SuppressionRepository.
type PgSuppressionRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgSuppressionRepository(db *pgxpool.Pool, logger *slog.Logger) *PgSuppressionRepository {
	return &PgSuppressionRepository{db: db, logger: logger.With("repository", "suppression")}
}

func (r *PgSuppressionRepository) FindActive(ctx context.Context, channel domain.Channel, address string, scope *string, now time.Time) (*domain.SuppressionEntry, error) {
	query := `
		SELECT id, channel, address, scope, reason, source, expires_at, created_at
		FROM suppression_entries
		WHERE channel = $1 AND address = $2
		  AND scope IS NOT DISTINCT FROM $3
		  AND (expires_at IS NULL OR expires_at > $4)
	`
	entry := &domain.SuppressionEntry{}
	err := r.db.QueryRow(ctx, query, channel, address, scope, now).Scan(
		&entry.ID, &entry.Channel, &entry.Address, &entry.Scope,
		&entry.Reason, &entry.Source, &entry.ExpiresAt, &entry.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error looking up suppression entry", "error", err, "channel", channel, "address", address)
		return nil, err
	}
	return entry, nil
}

func (r *PgSuppressionRepository) Create(ctx context.Context, entry *domain.SuppressionEntry) error {
	query := `
		INSERT INTO suppression_entries (id, channel, address, scope, reason, source, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		entry.ID, entry.Channel, entry.Address, entry.Scope,
		entry.Reason, entry.Source, entry.ExpiresAt, entry.CreatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error inserting suppression entry", "error", err, "channel", entry.Channel, "address", entry.Address)
		return err
	}
	return nil
}

func (r *PgSuppressionRepository) HasAnyActive(ctx context.Context, channel domain.Channel, address string, now time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM suppression_entries
			WHERE channel = $1 AND address = $2
			  AND (expires_at IS NULL OR expires_at > $3)
		)
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query, channel, address, now).Scan(&exists); err != nil {
		r.logger.ErrorContext(ctx, "Error checking suppression existence", "error", err, "channel", channel, "address", address)
		return false, err
	}
	return exists, nil
}
