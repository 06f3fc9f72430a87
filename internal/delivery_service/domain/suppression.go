package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SuppressionReason enumerates why an address was suppressed.
type SuppressionReason string

const (
	ReasonBounceHard SuppressionReason = "bounce_hard"
	ReasonBounceSoft SuppressionReason = "bounce_soft"
	ReasonComplaint  SuppressionReason = "complaint"
	ReasonManual     SuppressionReason = "manual"
)

// SuppressionEntry forbids further sends to an address on a channel. Scope
// is a tenant identifier; nil means the entry applies globally. At most one
// active entry exists per (channel, address, scope).
type SuppressionEntry struct {
	ID        uuid.UUID         `json:"id"`
	Channel   Channel           `json:"channel"`
	Address   string            `json:"address"`
	Scope     *string           `json:"scope,omitempty"`
	Reason    SuppressionReason `json:"reason"`
	Source    string            `json:"source"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// IsExpired reports whether the entry no longer suppresses at the given time.
func (e *SuppressionEntry) IsExpired(now time.Time) bool {
	return e.ExpiresAt != nil && e.ExpiresAt.Before(now)
}

// SuppressionRepository is the durable store behind the cached registry.
type SuppressionRepository interface {
	// FindActive returns the unexpired entry for (channel, address, scope),
	// or ErrNotFound. A nil scope queries the global entry.
	FindActive(ctx context.Context, channel Channel, address string, scope *string, now time.Time) (*SuppressionEntry, error)

	// Create inserts a new entry.
	Create(ctx context.Context, entry *SuppressionEntry) error

	// HasAnyActive reports whether any unexpired entry exists for the
	// (channel, address) pair in any scope. Used by the suppression
	// processor to keep promotion idempotent.
	HasAnyActive(ctx context.Context, channel Channel, address string, now time.Time) (bool, error)
}
