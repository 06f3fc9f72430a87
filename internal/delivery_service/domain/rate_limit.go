package domain

import (
	"context"

	"github.com/google/uuid"
)

// RateLimitRule caps send rates for one key. Any nil ceiling means that
// window is unconstrained. The denormalized last-observed counts live only
// in the admin UI's tables; enforcement always reads live counters.
type RateLimitRule struct {
	ID           uuid.UUID `json:"id"`
	LimitType    string    `json:"limit_type"` // e.g. "gateway", "community"
	LimitKey     string    `json:"limit_key"`
	MaxPerSecond *int      `json:"max_per_second,omitempty"`
	MaxPerMinute *int      `json:"max_per_minute,omitempty"`
	MaxPerHour   *int      `json:"max_per_hour,omitempty"`
	MaxPerDay    *int      `json:"max_per_day,omitempty"`
	IsActive     bool      `json:"is_active"`
}

// RateLimitRepository looks up rules. Absence of a rule means unlimited.
type RateLimitRepository interface {
	// GetActiveRule returns the active rule for (limitType, limitKey), or
	// ErrNotFound when none is configured.
	GetActiveRule(ctx context.Context, limitType, limitKey string) (*RateLimitRule, error)
}
