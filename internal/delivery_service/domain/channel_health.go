package domain

import (
	"context"
	"time"
)

// ChannelHealth is the periodically recomputed verdict for one
// (channel, gateway) pair. Percentages are nil when the window saw no
// traffic; the healthy determination treats nil as 100%.
type ChannelHealth struct {
	Channel       Channel    `json:"channel"`
	Gateway       string     `json:"gateway"`
	SuccessRate1h *float64   `json:"success_rate_1h,omitempty"`
	SuccessRate24h *float64  `json:"success_rate_24h,omitempty"`
	AvgLatencyMs  *float64   `json:"avg_latency_ms,omitempty"`
	IsHealthy     bool       `json:"is_healthy"`
	LastCheckedAt time.Time  `json:"last_checked_at"`
}

// ChannelHealthRepository persists health snapshots and serves routing reads.
type ChannelHealthRepository interface {
	// Get returns the snapshot for (channel, gateway), or ErrNotFound when
	// the monitor has not yet produced one.
	Get(ctx context.Context, channel Channel, gateway string) (*ChannelHealth, error)

	// GetAll returns every snapshot, for the channel stats endpoint.
	GetAll(ctx context.Context) ([]*ChannelHealth, error)

	// Upsert replaces the snapshot keyed by (channel, gateway).
	Upsert(ctx context.Context, health *ChannelHealth) error
}

// SendOutcome aggregates attempt results over a trailing window.
type SendOutcome struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
}
