package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Channel identifies the transport a message travels over.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// IsValid reports whether the channel is one the engine can deliver on.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

// Priority is an ordered scheduling tier. The set is open per deployment;
// P0 through P4 are the tiers the dispatcher drives by default.
type Priority string

const (
	PriorityP0 Priority = "P0"
	PriorityP1 Priority = "P1"
	PriorityP2 Priority = "P2"
	PriorityP3 Priority = "P3"
	PriorityP4 Priority = "P4"
)

// DispatchOrder lists the default tiers from most to least urgent.
var DispatchOrder = []Priority{PriorityP0, PriorityP1, PriorityP2, PriorityP3, PriorityP4}

// Message types are an open string enumeration; these are the values the
// router has fixed IP pool mappings for.
const (
	MessageTypeEmergency     = "emergency"
	MessageTypeAlert         = "alert"
	MessageTypeTransactional = "transactional"
	MessageTypeCampaign      = "campaign"
	MessageTypeNewsletter    = "newsletter"
)

// MessageStatus is the delivery state machine position of a queued message.
type MessageStatus string

const (
	StatusPending    MessageStatus = "pending"
	StatusProcessing MessageStatus = "processing"
	StatusSent       MessageStatus = "sent"
	StatusDelivered  MessageStatus = "delivered"
	StatusFailed     MessageStatus = "failed"
	StatusBounced    MessageStatus = "bounced"
	StatusComplained MessageStatus = "complained"
)

// IsTerminal reports whether a status is never revisited by a worker.
// Sent rows can still move to delivered/bounced via webhook ingestion.
func (s MessageStatus) IsTerminal() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusFailed, StatusBounced, StatusComplained:
		return true
	}
	return false
}

// Value implements driver.Valuer.
func (s MessageStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// Scan implements sql.Scanner.
func (s *MessageStatus) Scan(value interface{}) error {
	switch v := value.(type) {
	case string:
		*s = MessageStatus(v)
	case []byte:
		*s = MessageStatus(v)
	default:
		return fmt.Errorf("failed to scan MessageStatus: unsupported type %T", value)
	}
	return nil
}

// RecipientRef is the polymorphic reference to the domain entity a message
// targets. The engine never dereferences it; callers resolve it lazily.
type RecipientRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// QueuedMessage is the central entity of the delivery engine: one durable
// outbound message with its routing, lifecycle and retry bookkeeping.
type QueuedMessage struct {
	ID          uuid.UUID     `json:"id"`
	Token       uuid.UUID     `json:"token"` // public handle, stable across retries
	Priority    Priority      `json:"priority"`
	MessageType string        `json:"message_type"`
	Channel     Channel       `json:"channel"`
	Gateway     string        `json:"gateway"`
	IPPool      string        `json:"ip_pool,omitempty"`

	Recipient        RecipientRef `json:"recipient"`
	RecipientAddress string       `json:"recipient_address"`

	Subject     *string         `json:"subject,omitempty"`
	Template    *string         `json:"template,omitempty"`
	ContentData json.RawMessage `json:"content_data,omitempty"`
	SourceType  *string         `json:"source_type,omitempty"`
	SourceID    *string         `json:"source_id,omitempty"`

	Status      MessageStatus `json:"status"`
	LockToken   *uuid.UUID    `json:"lock_token,omitempty"`
	LockedAt    *time.Time    `json:"locked_at,omitempty"`
	ScheduledFor time.Time    `json:"scheduled_for"`
	NextRetryAt *time.Time    `json:"next_retry_at,omitempty"`
	Attempts    int           `json:"attempts"`
	MaxAttempts int           `json:"max_attempts"`
	LastError   *string       `json:"last_error,omitempty"`
	SentAt      *time.Time    `json:"sent_at,omitempty"`
	DeliveredAt *time.Time    `json:"delivered_at,omitempty"`
	ExternalID  *string       `json:"external_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RetryBackoff returns the delay before the given attempt number may run
// again: 2^attempts minutes (2m, 4m, 8m, ...).
func RetryBackoff(attempts int) time.Duration {
	return time.Duration(1<<uint(attempts)) * time.Minute
}

// QueueStat is one cell of the queue depth report: a (priority, status)
// pair and its row count.
type QueueStat struct {
	Priority Priority      `json:"priority"`
	Status   MessageStatus `json:"status"`
	Count    int           `json:"count"`
}
