package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DeliveryEventType classifies a provider callback.
type DeliveryEventType string

const (
	EventSent       DeliveryEventType = "sent"
	EventDelivered  DeliveryEventType = "delivered"
	EventBounced    DeliveryEventType = "bounced"
	EventComplained DeliveryEventType = "complained"
	EventOpened     DeliveryEventType = "opened"
	EventClicked    DeliveryEventType = "clicked"
)

// BounceType distinguishes permanent from transient bounces.
type BounceType string

const (
	BounceHard BounceType = "hard"
	BounceSoft BounceType = "soft"
)

// DeliveryEvent is an append-only record of a provider callback tied to a
// QueuedMessage. It is the sole input driving suppression decisions.
type DeliveryEvent struct {
	ID              uuid.UUID         `json:"id"`
	MessageID       uuid.UUID         `json:"message_id"`
	EventType       DeliveryEventType `json:"event_type"`
	BounceType      *BounceType       `json:"bounce_type,omitempty"`
	EventData       json.RawMessage   `json:"event_data,omitempty"`
	Source          string            `json:"source"` // postal, ses, twilio, firebase
	ExternalEventID *string           `json:"external_event_id,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

// BouncedAddress is a (channel, address) pair surfaced by the suppression
// processor queries, joined from delivery_events to message_queue.
type BouncedAddress struct {
	Channel Channel `json:"channel"`
	Address string  `json:"address"`
	Count   int     `json:"count"`
}

// DeliveryEventRepository persists and aggregates delivery events.
type DeliveryEventRepository interface {
	Create(ctx context.Context, event *DeliveryEvent) error

	// HardBouncedAddresses returns distinct (channel, address) pairs with at
	// least one hard bounce recorded since the given time.
	HardBouncedAddresses(ctx context.Context, since time.Time) ([]BouncedAddress, error)

	// ComplainedAddresses returns distinct (channel, address) pairs with at
	// least one spam complaint recorded since the given time.
	ComplainedAddresses(ctx context.Context, since time.Time) ([]BouncedAddress, error)

	// SoftBounceCounts returns per-address soft bounce totals since the
	// given time, including addresses below the suppression threshold.
	SoftBounceCounts(ctx context.Context, since time.Time) ([]BouncedAddress, error)
}
