package http

import (
	"encoding/json"
	"time"

	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

// RecipientRefDTO mirrors domain.RecipientRef on the wire.
type RecipientRefDTO struct {
	Type string `json:"type" validate:"required"`
	ID   string `json:"id" validate:"required"`
}

// SendMessageRequestDTO is the body of POST /api/v1/messages.
type SendMessageRequestDTO struct {
	Priority         string          `json:"priority" validate:"required,oneof=P0 P1 P2 P3 P4"`
	MessageType      string          `json:"message_type" validate:"required"`
	Channel          string          `json:"channel" validate:"required,oneof=email sms push"`
	Recipient        RecipientRefDTO `json:"recipient" validate:"required"`
	RecipientAddress string          `json:"recipient_address" validate:"required"`
	Subject          *string         `json:"subject,omitempty"`
	Template         *string         `json:"template,omitempty"`
	ContentData      json.RawMessage `json:"content_data,omitempty"`
	SourceType       *string         `json:"source_type,omitempty"`
	SourceID         *string         `json:"source_id,omitempty"`
	Scope            *string         `json:"scope,omitempty"`
	IPPool           string          `json:"ip_pool,omitempty"`
	ScheduledFor     *time.Time      `json:"scheduled_for,omitempty"`
	MaxAttempts      int             `json:"max_attempts,omitempty" validate:"omitempty,min=1,max=10"`
}

// SendMessageResponseDTO reports the enqueue disposition.
type SendMessageResponseDTO struct {
	Disposition string `json:"disposition"`
	Token       string `json:"token,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// BulkRecipientDTO is one recipient of a bulk send.
type BulkRecipientDTO struct {
	Recipient        RecipientRefDTO `json:"recipient" validate:"required"`
	RecipientAddress string          `json:"recipient_address" validate:"required"`
	ContentData      json.RawMessage `json:"content_data,omitempty"`
}

// SendBulkRequestDTO is the body of POST /api/v1/messages/bulk.
type SendBulkRequestDTO struct {
	Priority    string             `json:"priority" validate:"required,oneof=P0 P1 P2 P3 P4"`
	MessageType string             `json:"message_type" validate:"required"`
	Channel     string             `json:"channel" validate:"required,oneof=email sms push"`
	Subject     *string            `json:"subject,omitempty"`
	Template    *string            `json:"template,omitempty"`
	ContentData json.RawMessage    `json:"content_data,omitempty"`
	SourceType  *string            `json:"source_type,omitempty"`
	SourceID    *string            `json:"source_id,omitempty"`
	Scope       *string            `json:"scope,omitempty"`
	IPPool      string             `json:"ip_pool,omitempty"`
	Recipients  []BulkRecipientDTO `json:"recipients" validate:"required,min=1,dive"`
}

// SendBulkResponseDTO tallies a bulk send.
type SendBulkResponseDTO struct {
	Queued     int `json:"queued"`
	Suppressed int `json:"suppressed"`
	Invalid    int `json:"invalid"`
}

// MessageStatusDTO is the body of GET /api/v1/messages/{token}.
type MessageStatusDTO struct {
	Token        string     `json:"token"`
	Priority     string     `json:"priority"`
	MessageType  string     `json:"message_type"`
	Channel      string     `json:"channel"`
	Gateway      string     `json:"gateway"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	MaxAttempts  int        `json:"max_attempts"`
	LastError    *string    `json:"last_error,omitempty"`
	ScheduledFor time.Time  `json:"scheduled_for"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func toMessageStatusDTO(msg *domain.QueuedMessage) MessageStatusDTO {
	return MessageStatusDTO{
		Token:        msg.Token.String(),
		Priority:     string(msg.Priority),
		MessageType:  msg.MessageType,
		Channel:      string(msg.Channel),
		Gateway:      msg.Gateway,
		Status:       string(msg.Status),
		Attempts:     msg.Attempts,
		MaxAttempts:  msg.MaxAttempts,
		LastError:    msg.LastError,
		ScheduledFor: msg.ScheduledFor,
		SentAt:       msg.SentAt,
		DeliveredAt:  msg.DeliveredAt,
		CreatedAt:    msg.CreatedAt,
		UpdatedAt:    msg.UpdatedAt,
	}
}

// QueueStatDTO is one row of GET /api/v1/messages/stats/queue.
type QueueStatDTO struct {
	Priority string `json:"priority"`
	Status   string `json:"status"`
	Count    int    `json:"count"`
}

// ChannelHealthDTO is one row of GET /api/v1/messages/stats/channels.
type ChannelHealthDTO struct {
	Channel        string    `json:"channel"`
	Gateway        string    `json:"gateway"`
	SuccessRate1h  *float64  `json:"success_rate_1h,omitempty"`
	SuccessRate24h *float64  `json:"success_rate_24h,omitempty"`
	AvgLatencyMs   *float64  `json:"avg_latency_ms,omitempty"`
	IsHealthy      bool      `json:"is_healthy"`
	LastCheckedAt  time.Time `json:"last_checked_at"`
}
