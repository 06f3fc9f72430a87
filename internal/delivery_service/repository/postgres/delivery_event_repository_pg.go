package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

// PgDeliveryEventRepository implements domain.DeliveryEventRepository on the
// append-only delivery_events table.
type PgDeliveryEventRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgDeliveryEventRepository(db *pgxpool.Pool, logger *slog.Logger) *PgDeliveryEventRepository {
	return &PgDeliveryEventRepository{db: db, logger: logger.With("repository", "delivery_events")}
}

func (r *PgDeliveryEventRepository) Create(ctx context.Context, event *domain.DeliveryEvent) error {
	query := `
		INSERT INTO delivery_events (id, message_id, event_type, bounce_type, event_data, source, external_event_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.Exec(ctx, query,
		event.ID, event.MessageID, event.EventType, event.BounceType,
		event.EventData, event.Source, event.ExternalEventID, event.CreatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error inserting delivery event", "error", err, "message_id", event.MessageID, "event_type", event.EventType)
		return err
	}
	return nil
}

func (r *PgDeliveryEventRepository) HardBouncedAddresses(ctx context.Context, since time.Time) ([]domain.BouncedAddress, error) {
	query := `
		SELECT mq.channel, mq.recipient_address, COUNT(*)
		FROM delivery_events de
		JOIN message_queue mq ON mq.id = de.message_id
		WHERE de.event_type = $1 AND de.bounce_type = $2 AND de.created_at >= $3
		GROUP BY mq.channel, mq.recipient_address
	`
	return r.queryAddresses(ctx, query, domain.EventBounced, domain.BounceHard, since)
}

func (r *PgDeliveryEventRepository) ComplainedAddresses(ctx context.Context, since time.Time) ([]domain.BouncedAddress, error) {
	query := `
		SELECT mq.channel, mq.recipient_address, COUNT(*)
		FROM delivery_events de
		JOIN message_queue mq ON mq.id = de.message_id
		WHERE de.event_type = $1 AND de.created_at >= $2
		GROUP BY mq.channel, mq.recipient_address
	`
	return r.queryAddresses(ctx, query, domain.EventComplained, since)
}

func (r *PgDeliveryEventRepository) SoftBounceCounts(ctx context.Context, since time.Time) ([]domain.BouncedAddress, error) {
	query := `
		SELECT mq.channel, mq.recipient_address, COUNT(*)
		FROM delivery_events de
		JOIN message_queue mq ON mq.id = de.message_id
		WHERE de.event_type = $1 AND de.bounce_type = $2 AND de.created_at >= $3
		GROUP BY mq.channel, mq.recipient_address
	`
	return r.queryAddresses(ctx, query, domain.EventBounced, domain.BounceSoft, since)
}

func (r *PgDeliveryEventRepository) queryAddresses(ctx context.Context, query string, args ...interface{}) ([]domain.BouncedAddress, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error querying bounced addresses", "error", err)
		return nil, err
	}
	defer rows.Close()

	var addresses []domain.BouncedAddress
	for rows.Next() {
		var a domain.BouncedAddress
		if err := rows.Scan(&a.Channel, &a.Address, &a.Count); err != nil {
			return nil, err
		}
		addresses = append(addresses, a)
	}
	return addresses, rows.Err()
}
