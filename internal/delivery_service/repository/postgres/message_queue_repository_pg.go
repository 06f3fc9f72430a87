package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

const messageColumns = `
	id, token, priority, message_type, channel, gateway, ip_pool,
	recipient_type, recipient_id, recipient_address,
	subject, template, content_data, source_type, source_id,
	status, lock_token, locked_at, scheduled_for, next_retry_at,
	attempts, max_attempts, last_error, sent_at, delivered_at, external_id,
	created_at, updated_at`

const claimedColumns = `
	mq.id, mq.token, mq.priority, mq.message_type, mq.channel, mq.gateway, mq.ip_pool,
	mq.recipient_type, mq.recipient_id, mq.recipient_address,
	mq.subject, mq.template, mq.content_data, mq.source_type, mq.source_id,
	mq.status, mq.lock_token, mq.locked_at, mq.scheduled_for, mq.next_retry_at,
	mq.attempts, mq.max_attempts, mq.last_error, mq.sent_at, mq.delivered_at, mq.external_id,
	mq.created_at, mq.updated_at`

// PgMessageQueueRepository implements domain.MessageQueueRepository on the
// message_queue table.
type PgMessageQueueRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgMessageQueueRepository(db *pgxpool.Pool, logger *slog.Logger) *PgMessageQueueRepository {
	return &PgMessageQueueRepository{db: db, logger: logger.With("repository", "message_queue")}
}

func scanMessage(row pgx.Row) (*domain.QueuedMessage, error) {
	msg := &domain.QueuedMessage{}
	err := row.Scan(
		&msg.ID, &msg.Token, &msg.Priority, &msg.MessageType, &msg.Channel, &msg.Gateway, &msg.IPPool,
		&msg.Recipient.Type, &msg.Recipient.ID, &msg.RecipientAddress,
		&msg.Subject, &msg.Template, &msg.ContentData, &msg.SourceType, &msg.SourceID,
		&msg.Status, &msg.LockToken, &msg.LockedAt, &msg.ScheduledFor, &msg.NextRetryAt,
		&msg.Attempts, &msg.MaxAttempts, &msg.LastError, &msg.SentAt, &msg.DeliveredAt, &msg.ExternalID,
		&msg.CreatedAt, &msg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (r *PgMessageQueueRepository) Create(ctx context.Context, msg *domain.QueuedMessage) error {
	query := `
		INSERT INTO message_queue (` + messageColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15,
		        $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28)
	`
	_, err := r.db.Exec(ctx, query,
		msg.ID, msg.Token, msg.Priority, msg.MessageType, msg.Channel, msg.Gateway, msg.IPPool,
		msg.Recipient.Type, msg.Recipient.ID, msg.RecipientAddress,
		msg.Subject, msg.Template, msg.ContentData, msg.SourceType, msg.SourceID,
		msg.Status, msg.LockToken, msg.LockedAt, msg.ScheduledFor, msg.NextRetryAt,
		msg.Attempts, msg.MaxAttempts, msg.LastError, msg.SentAt, msg.DeliveredAt, msg.ExternalID,
		msg.CreatedAt, msg.UpdatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error inserting queued message", "error", err, "message_id", msg.ID)
		return err
	}
	return nil
}

// CreateBatch writes all rows with a single COPY.
func (r *PgMessageQueueRepository) CreateBatch(ctx context.Context, msgs []*domain.QueuedMessage) (int, error) {
	if len(msgs) == 0 {
		return 0, nil
	}

	rows := make([][]interface{}, 0, len(msgs))
	for _, msg := range msgs {
		rows = append(rows, []interface{}{
			msg.ID, msg.Token, msg.Priority, msg.MessageType, msg.Channel, msg.Gateway, msg.IPPool,
			msg.Recipient.Type, msg.Recipient.ID, msg.RecipientAddress,
			msg.Subject, msg.Template, msg.ContentData, msg.SourceType, msg.SourceID,
			msg.Status, msg.LockToken, msg.LockedAt, msg.ScheduledFor, msg.NextRetryAt,
			msg.Attempts, msg.MaxAttempts, msg.LastError, msg.SentAt, msg.DeliveredAt, msg.ExternalID,
			msg.CreatedAt, msg.UpdatedAt,
		})
	}

	copied, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"message_queue"},
		[]string{
			"id", "token", "priority", "message_type", "channel", "gateway", "ip_pool",
			"recipient_type", "recipient_id", "recipient_address",
			"subject", "template", "content_data", "source_type", "source_id",
			"status", "lock_token", "locked_at", "scheduled_for", "next_retry_at",
			"attempts", "max_attempts", "last_error", "sent_at", "delivered_at", "external_id",
			"created_at", "updated_at",
		},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error batch-inserting queued messages", "error", err, "count", len(msgs))
		return 0, err
	}
	return int(copied), nil
}

func (r *PgMessageQueueRepository) GetByToken(ctx context.Context, token uuid.UUID) (*domain.QueuedMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM message_queue WHERE token = $1`
	msg, err := scanMessage(r.db.QueryRow(ctx, query, token))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting message by token", "error", err, "token", token)
		return nil, err
	}
	return msg, nil
}

func (r *PgMessageQueueRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.QueuedMessage, error) {
	query := `SELECT ` + messageColumns + ` FROM message_queue WHERE external_id = $1`
	msg, err := scanMessage(r.db.QueryRow(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting message by external id", "error", err, "external_id", externalID)
		return nil, err
	}
	return msg, nil
}

func (r *PgMessageQueueRepository) CancelByToken(ctx context.Context, token uuid.UUID, reason string) (bool, error) {
	query := `
		UPDATE message_queue
		SET status = $1, last_error = $2, lock_token = NULL, locked_at = NULL, updated_at = $3
		WHERE token = $4 AND status IN ($5, $6)
	`
	tag, err := r.db.Exec(ctx, query,
		domain.StatusFailed, reason, time.Now().UTC(), token,
		domain.StatusPending, domain.StatusProcessing,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error cancelling message", "error", err, "token", token)
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ClaimBatch uses a locking CTE so concurrent claimers skip each other's
// rows; only the rows this call actually won are returned.
func (r *PgMessageQueueRepository) ClaimBatch(ctx context.Context, priority domain.Priority, limit int, lockToken uuid.UUID, now time.Time) ([]*domain.QueuedMessage, error) {
	query := `
		WITH eligible AS (
			SELECT id
			FROM message_queue
			WHERE status = $1 AND priority = $2 AND scheduled_for <= $3 AND lock_token IS NULL
			ORDER BY scheduled_for ASC
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		UPDATE message_queue mq
		SET status = $5, lock_token = $6, locked_at = $7, updated_at = $7
		FROM eligible e
		WHERE mq.id = e.id
		RETURNING ` + claimedColumns

	rows, err := r.db.Query(ctx, query,
		domain.StatusPending, priority, now, limit,
		domain.StatusProcessing, lockToken, now.UTC(),
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error claiming messages", "error", err, "priority", priority)
		return nil, err
	}
	defer rows.Close()

	var claimed []*domain.QueuedMessage
	for rows.Next() {
		msg, scanErr := scanMessage(rows)
		if scanErr != nil {
			r.logger.ErrorContext(ctx, "Error scanning claimed message row", "error", scanErr)
			return nil, scanErr
		}
		claimed = append(claimed, msg)
	}
	if err := rows.Err(); err != nil {
		r.logger.ErrorContext(ctx, "Error iterating claimed message rows", "error", err)
		return nil, err
	}

	if len(claimed) == 0 {
		return nil, domain.ErrNoEligibleMessages
	}
	return claimed, nil
}

// The write-backs below only apply while the worker still owns the claim:
// a cancelled or reaper-released row has its lock token cleared, so the
// guard keeps a late worker from overwriting the newer state.

func (r *PgMessageQueueRepository) MarkSent(ctx context.Context, id uuid.UUID, lockToken uuid.UUID, externalID string, sentAt time.Time) error {
	query := `
		UPDATE message_queue
		SET status = $1, sent_at = $2, external_id = $3,
		    lock_token = NULL, locked_at = NULL, last_error = NULL, updated_at = $4
		WHERE id = $5 AND lock_token = $6 AND status = $7
	`
	return r.exec(ctx, query, "mark sent", id,
		domain.StatusSent, sentAt, nullableString(externalID), time.Now().UTC(),
		id, lockToken, domain.StatusProcessing)
}

func (r *PgMessageQueueRepository) MarkFailed(ctx context.Context, id uuid.UUID, lockToken uuid.UUID, attempts int, lastError string) error {
	query := `
		UPDATE message_queue
		SET status = $1, attempts = $2, last_error = $3,
		    lock_token = NULL, locked_at = NULL, updated_at = $4
		WHERE id = $5 AND lock_token = $6 AND status = $7
	`
	return r.exec(ctx, query, "mark failed", id,
		domain.StatusFailed, attempts, lastError, time.Now().UTC(),
		id, lockToken, domain.StatusProcessing)
}

func (r *PgMessageQueueRepository) ScheduleRetry(ctx context.Context, id uuid.UUID, lockToken uuid.UUID, attempts int, nextRetryAt time.Time, lastError string) error {
	query := `
		UPDATE message_queue
		SET status = $1, attempts = $2, scheduled_for = $3, next_retry_at = $3,
		    last_error = $4, lock_token = NULL, locked_at = NULL, updated_at = $5
		WHERE id = $6 AND lock_token = $7 AND status = $8
	`
	return r.exec(ctx, query, "schedule retry", id,
		domain.StatusPending, attempts, nextRetryAt, lastError, time.Now().UTC(),
		id, lockToken, domain.StatusProcessing)
}

func (r *PgMessageQueueRepository) MarkDelivered(ctx context.Context, id uuid.UUID, deliveredAt time.Time) error {
	query := `
		UPDATE message_queue
		SET status = $1, delivered_at = $2, updated_at = $3
		WHERE id = $4
	`
	return r.exec(ctx, query, "mark delivered", id,
		domain.StatusDelivered, deliveredAt, time.Now().UTC(), id)
}

func (r *PgMessageQueueRepository) SetStatus(ctx context.Context, id uuid.UUID, status domain.MessageStatus) error {
	query := `UPDATE message_queue SET status = $1, updated_at = $2 WHERE id = $3`
	return r.exec(ctx, query, "set status", id, status, time.Now().UTC(), id)
}

func (r *PgMessageQueueRepository) CountEligible(ctx context.Context, priority domain.Priority, now time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM message_queue
		WHERE status = $1 AND priority = $2 AND scheduled_for <= $3 AND lock_token IS NULL
	`
	var count int
	if err := r.db.QueryRow(ctx, query, domain.StatusPending, priority, now).Scan(&count); err != nil {
		r.logger.ErrorContext(ctx, "Error counting eligible backlog", "error", err, "priority", priority)
		return 0, err
	}
	return count, nil
}

func (r *PgMessageQueueRepository) QueueStats(ctx context.Context) ([]domain.QueueStat, error) {
	query := `
		SELECT priority, status, COUNT(*)
		FROM message_queue
		GROUP BY priority, status
		ORDER BY priority, status
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error querying queue stats", "error", err)
		return nil, err
	}
	defer rows.Close()

	var stats []domain.QueueStat
	for rows.Next() {
		var s domain.QueueStat
		if err := rows.Scan(&s.Priority, &s.Status, &s.Count); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (r *PgMessageQueueRepository) ReleaseStuck(ctx context.Context, lockedBefore time.Time) (int64, error) {
	query := `
		UPDATE message_queue
		SET status = $1, lock_token = NULL, locked_at = NULL, updated_at = $2
		WHERE status = $3 AND locked_at IS NOT NULL AND locked_at < $4
	`
	tag, err := r.db.Exec(ctx, query, domain.StatusPending, time.Now().UTC(), domain.StatusProcessing, lockedBefore)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error releasing stuck messages", "error", err)
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgMessageQueueRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM message_queue
		WHERE status IN ($1, $2, $3, $4) AND updated_at < $5
	`
	tag, err := r.db.Exec(ctx, query,
		domain.StatusSent, domain.StatusDelivered, domain.StatusFailed, domain.StatusBounced, cutoff)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error purging terminal messages", "error", err)
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgMessageQueueRepository) SendOutcomes(ctx context.Context, channel domain.Channel, gateway string, since time.Time) (*domain.SendOutcome, error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status IN ($1, $2))
		FROM message_queue
		WHERE channel = $3 AND gateway = $4
		  AND status IN ($1, $2, $5, $6)
		  AND updated_at >= $7
	`
	outcome := &domain.SendOutcome{}
	err := r.db.QueryRow(ctx, query,
		domain.StatusSent, domain.StatusDelivered,
		channel, gateway,
		domain.StatusFailed, domain.StatusBounced,
		since,
	).Scan(&outcome.Total, &outcome.Successful)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error aggregating send outcomes", "error", err, "channel", channel, "gateway", gateway)
		return nil, err
	}
	return outcome, nil
}

func (r *PgMessageQueueRepository) AvgDeliveryLatencyMs(ctx context.Context, channel domain.Channel, gateway string, since time.Time) (*float64, error) {
	query := `
		SELECT AVG(EXTRACT(EPOCH FROM (delivered_at - sent_at)) * 1000)
		FROM message_queue
		WHERE channel = $1 AND gateway = $2
		  AND sent_at IS NOT NULL AND delivered_at IS NOT NULL
		  AND sent_at >= $3
	`
	var avg *float64
	if err := r.db.QueryRow(ctx, query, channel, gateway, since).Scan(&avg); err != nil {
		r.logger.ErrorContext(ctx, "Error averaging delivery latency", "error", err, "channel", channel, "gateway", gateway)
		return nil, err
	}
	return avg, nil
}

func (r *PgMessageQueueRepository) exec(ctx context.Context, query, op string, id uuid.UUID, args ...interface{}) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating queued message", "op", op, "error", err, "message_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "No queued message matched update, row gone or claim lost", "op", op, "message_id", id)
		return domain.ErrNotFound
	}
	return nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
