package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

// WebhookEvent is a provider callback normalized by a transport handler.
type WebhookEvent struct {
	Source          string
	ExternalID      string
	EventType       domain.DeliveryEventType
	BounceType      *domain.BounceType
	ExternalEventID *string
	Payload         json.RawMessage
}

// WebhookService applies normalized provider callbacks: append the delivery
// event, then move the message's status when the event calls for it.
type WebhookService struct {
	msgRepo   domain.MessageQueueRepository
	eventRepo domain.DeliveryEventRepository
	logger    *slog.Logger
}

func NewWebhookService(msgRepo domain.MessageQueueRepository, eventRepo domain.DeliveryEventRepository, logger *slog.Logger) *WebhookService {
	return &WebhookService{
		msgRepo:   msgRepo,
		eventRepo: eventRepo,
		logger:    logger.With("component", "webhook_service"),
	}
}

// ProcessEvent records one callback. An unknown external id is not an error
// for the caller; providers replay events and send events for messages
// outside our retention window.
func (s *WebhookService) ProcessEvent(ctx context.Context, event *WebhookEvent) error {
	msg, err := s.msgRepo.GetByExternalID(ctx, event.ExternalID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "Webhook for unknown message", "source", event.Source, "external_id", event.ExternalID, "event_type", event.EventType)
			return nil
		}
		return fmt.Errorf("failed to look up message for webhook: %w", err)
	}

	record := &domain.DeliveryEvent{
		ID:              uuid.New(),
		MessageID:       msg.ID,
		EventType:       event.EventType,
		BounceType:      event.BounceType,
		EventData:       event.Payload,
		Source:          event.Source,
		ExternalEventID: event.ExternalEventID,
		CreatedAt:       time.Now(),
	}
	if err := s.eventRepo.Create(ctx, record); err != nil {
		return fmt.Errorf("failed to record delivery event: %w", err)
	}
	webhookEventsTotal.WithLabelValues(event.Source, string(event.EventType)).Inc()

	switch event.EventType {
	case domain.EventDelivered:
		if err := s.msgRepo.MarkDelivered(ctx, msg.ID, time.Now()); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("failed to mark message delivered: %w", err)
		}
	case domain.EventBounced:
		if err := s.msgRepo.SetStatus(ctx, msg.ID, domain.StatusBounced); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("failed to mark message bounced: %w", err)
		}
	case domain.EventComplained:
		if err := s.msgRepo.SetStatus(ctx, msg.ID, domain.StatusComplained); err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("failed to mark message complained: %w", err)
		}
	case domain.EventOpened, domain.EventClicked, domain.EventSent:
		// event recorded, no status change
	}

	s.logger.InfoContext(ctx, "Webhook event applied",
		"source", event.Source, "event_type", event.EventType, "message_id", msg.ID)
	return nil
}
