package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MessageQueueRepository is the durable message_queue table: the single
// source of truth for delivery state. Rows are mutated only through the
// claim pattern, the webhook status updates, and the reapers.
type MessageQueueRepository interface {
	// Create inserts a single pending message.
	Create(ctx context.Context, msg *QueuedMessage) error

	// CreateBatch inserts messages with one multi-row statement and
	// returns the number of rows written.
	CreateBatch(ctx context.Context, msgs []*QueuedMessage) (int, error)

	// GetByToken returns the message with the given public token, or
	// ErrNotFound.
	GetByToken(ctx context.Context, token uuid.UUID) (*QueuedMessage, error)

	// GetByExternalID returns the message the provider assigned this id
	// to, or ErrNotFound. Used by webhook ingestion.
	GetByExternalID(ctx context.Context, externalID string) (*QueuedMessage, error)

	// CancelByToken flips a pending or processing message to failed with
	// the given marker. Returns false when the message does not exist or
	// is already terminal.
	CancelByToken(ctx context.Context, token uuid.UUID, reason string) (bool, error)

	// ClaimBatch atomically claims up to limit eligible rows for one
	// priority tier: status=pending, scheduled_for<=now, unlocked. Claimed
	// rows move to processing with the given lock token and are returned;
	// concurrent claimers never receive the same row. Returns
	// ErrNoEligibleMessages when nothing was won.
	ClaimBatch(ctx context.Context, priority Priority, limit int, lockToken uuid.UUID, now time.Time) ([]*QueuedMessage, error)

	// MarkSent records a successful send and clears the lock. The update
	// applies only while the row is still processing under the given lock
	// token; a row cancelled or reclaimed since the claim is left alone
	// and ErrNotFound is returned.
	MarkSent(ctx context.Context, id uuid.UUID, lockToken uuid.UUID, externalID string, sentAt time.Time) error

	// MarkFailed records a terminal failure and clears the lock, under the
	// same lock token guard as MarkSent.
	MarkFailed(ctx context.Context, id uuid.UUID, lockToken uuid.UUID, attempts int, lastError string) error

	// ScheduleRetry returns the row to pending with the new attempt count,
	// the backoff floor, and the lock cleared, under the same lock token
	// guard as MarkSent.
	ScheduleRetry(ctx context.Context, id uuid.UUID, lockToken uuid.UUID, attempts int, nextRetryAt time.Time, lastError string) error

	// MarkDelivered records a delivery confirmation on a sent row.
	MarkDelivered(ctx context.Context, id uuid.UUID, deliveredAt time.Time) error

	// SetStatus applies a webhook-driven status (bounced, complained).
	SetStatus(ctx context.Context, id uuid.UUID, status MessageStatus) error

	// CountEligible measures claimable backlog for a priority tier.
	CountEligible(ctx context.Context, priority Priority, now time.Time) (int, error)

	// QueueStats returns row counts grouped by (priority, status).
	QueueStats(ctx context.Context) ([]QueueStat, error)

	// ReleaseStuck returns processing rows locked before the given time to
	// pending with locks cleared, and reports how many were released.
	ReleaseStuck(ctx context.Context, lockedBefore time.Time) (int64, error)

	// DeleteTerminalBefore purges terminal rows older than the cutoff.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// SendOutcomes aggregates attempt results for a (channel, gateway)
	// pair since the given time. Success means status sent or delivered.
	SendOutcomes(ctx context.Context, channel Channel, gateway string, since time.Time) (*SendOutcome, error)

	// AvgDeliveryLatencyMs averages delivered_at minus sent_at over rows
	// with both timestamps since the given time; nil when no rows qualify.
	AvgDeliveryLatencyMs(ctx context.Context, channel Channel, gateway string, since time.Time) (*float64, error)
}
