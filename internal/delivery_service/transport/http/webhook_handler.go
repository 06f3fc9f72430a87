package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/commsuite/delivery-engine/internal/delivery_service/app"
	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

// WebhookProcessor applies a normalized provider callback.
type WebhookProcessor interface {
	ProcessEvent(ctx context.Context, event *app.WebhookEvent) error
}

// WebhookHandler translates provider callback payloads into normalized
// delivery events. Providers replay callbacks, so every handler answers 200
// for anything it could parse, even when the message is unknown.
type WebhookHandler struct {
	webhooks WebhookProcessor
	logger   *slog.Logger
}

func NewWebhookHandler(webhooks WebhookProcessor, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, logger: logger}
}

// RegisterRoutes registers one endpoint per provider.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/postal", h.HandlePostal)
	r.Post("/ses", h.HandleSES)
	r.Post("/twilio", h.HandleTwilio)
	r.Post("/firebase", h.HandleFirebase)
}

type postalWebhookDTO struct {
	Event   string `json:"event"`
	UUID    string `json:"uuid"`
	Payload struct {
		MessageID  string `json:"message_id"`
		BounceType string `json:"bounce_type"`
	} `json:"payload"`
}

var postalEventMap = map[string]domain.DeliveryEventType{
	"MessageSent":           domain.EventSent,
	"MessageDelivered":      domain.EventDelivered,
	"MessageDeliveryFailed": domain.EventBounced,
	"MessageBounced":        domain.EventBounced,
	"MessageLoaded":         domain.EventOpened,
	"MessageLinkClicked":    domain.EventClicked,
}

func (h *WebhookHandler) HandlePostal(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var dto postalWebhookDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.logger.WarnContext(ctx, "Failed to decode postal webhook", "error", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	eventType, ok := postalEventMap[dto.Event]
	if !ok || dto.Payload.MessageID == "" {
		h.logger.DebugContext(ctx, "Ignoring postal webhook", "event", dto.Event)
		w.WriteHeader(http.StatusOK)
		return
	}

	event := &app.WebhookEvent{
		Source:     "postal",
		ExternalID: dto.Payload.MessageID,
		EventType:  eventType,
	}
	if dto.UUID != "" {
		event.ExternalEventID = &dto.UUID
	}
	if eventType == domain.EventBounced {
		event.BounceType = classifyBounce(dto.Payload.BounceType)
	}
	h.apply(w, r, event)
}

// sesEnvelopeDTO is the SNS wrapper; the SES event itself rides in Message
// as a JSON string.
type sesEnvelopeDTO struct {
	Type      string `json:"Type"`
	MessageID string `json:"MessageId"`
	Message   string `json:"Message"`
}

type sesEventDTO struct {
	EventType string `json:"eventType"`
	Mail      struct {
		MessageID string `json:"messageId"`
	} `json:"mail"`
	Bounce struct {
		BounceType string `json:"bounceType"`
	} `json:"bounce"`
}

var sesEventMap = map[string]domain.DeliveryEventType{
	"Send":      domain.EventSent,
	"Delivery":  domain.EventDelivered,
	"Bounce":    domain.EventBounced,
	"Complaint": domain.EventComplained,
	"Open":      domain.EventOpened,
	"Click":     domain.EventClicked,
}

func (h *WebhookHandler) HandleSES(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var envelope sesEnvelopeDTO
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		h.logger.WarnContext(ctx, "Failed to decode ses webhook envelope", "error", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}
	if envelope.Type != "Notification" {
		// Subscription confirmations and unsubscribes are acknowledged and
		// dropped; confirming the subscription is an operator action.
		h.logger.InfoContext(ctx, "Ignoring non-notification SNS message", "type", envelope.Type)
		w.WriteHeader(http.StatusOK)
		return
	}

	var sesEvent sesEventDTO
	if err := json.Unmarshal([]byte(envelope.Message), &sesEvent); err != nil {
		h.logger.WarnContext(ctx, "Failed to decode ses event body", "error", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	eventType, ok := sesEventMap[sesEvent.EventType]
	if !ok || sesEvent.Mail.MessageID == "" {
		h.logger.DebugContext(ctx, "Ignoring ses webhook", "event_type", sesEvent.EventType)
		w.WriteHeader(http.StatusOK)
		return
	}

	event := &app.WebhookEvent{
		Source:     "ses",
		ExternalID: sesEvent.Mail.MessageID,
		EventType:  eventType,
	}
	if envelope.MessageID != "" {
		event.ExternalEventID = &envelope.MessageID
	}
	if eventType == domain.EventBounced {
		event.BounceType = classifyBounce(sesEvent.Bounce.BounceType)
	}
	h.apply(w, r, event)
}

// HandleTwilio consumes Twilio's form-encoded status callbacks.
func (h *WebhookHandler) HandleTwilio(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		h.logger.WarnContext(ctx, "Failed to parse twilio webhook form", "error", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	messageSID := r.PostFormValue("MessageSid")
	messageStatus := r.PostFormValue("MessageStatus")
	if messageSID == "" {
		http.Error(w, "MessageSid is required", http.StatusBadRequest)
		return
	}

	var eventType domain.DeliveryEventType
	var bounceType *domain.BounceType
	switch messageStatus {
	case "sent":
		eventType = domain.EventSent
	case "delivered":
		eventType = domain.EventDelivered
	case "failed", "undelivered":
		eventType = domain.EventBounced
		soft := domain.BounceSoft
		bounceType = &soft
	default:
		h.logger.DebugContext(ctx, "Ignoring twilio status", "status", messageStatus)
		w.WriteHeader(http.StatusOK)
		return
	}

	payload, _ := json.Marshal(map[string]string{"message_status": messageStatus, "error_code": r.PostFormValue("ErrorCode")})
	h.apply(w, r, &app.WebhookEvent{
		Source:     "twilio",
		ExternalID: messageSID,
		EventType:  eventType,
		BounceType: bounceType,
		Payload:    payload,
	})
}

type firebaseWebhookDTO struct {
	MessageID string `json:"message_id"`
	EventType string `json:"event_type"`
}

var firebaseEventMap = map[string]domain.DeliveryEventType{
	"sent":      domain.EventSent,
	"delivered": domain.EventDelivered,
	"bounced":   domain.EventBounced,
	"opened":    domain.EventOpened,
	"clicked":   domain.EventClicked,
}

func (h *WebhookHandler) HandleFirebase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var dto firebaseWebhookDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.logger.WarnContext(ctx, "Failed to decode firebase webhook", "error", err)
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}

	eventType, ok := firebaseEventMap[dto.EventType]
	if !ok || dto.MessageID == "" {
		h.logger.DebugContext(ctx, "Ignoring firebase webhook", "event_type", dto.EventType)
		w.WriteHeader(http.StatusOK)
		return
	}

	event := &app.WebhookEvent{
		Source:     "firebase",
		ExternalID: dto.MessageID,
		EventType:  eventType,
	}
	if eventType == domain.EventBounced {
		hard := domain.BounceHard
		event.BounceType = &hard
	}
	h.apply(w, r, event)
}

func (h *WebhookHandler) apply(w http.ResponseWriter, r *http.Request, event *app.WebhookEvent) {
	ctx := r.Context()
	if err := h.webhooks.ProcessEvent(ctx, event); err != nil {
		h.logger.ErrorContext(ctx, "Failed to process webhook event", "source", event.Source, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// classifyBounce maps a provider's bounce classification onto ours. Hard
// covers permanent failures only; anything else retries eventually.
func classifyBounce(providerType string) *domain.BounceType {
	bt := domain.BounceSoft
	switch strings.ToLower(providerType) {
	case "hard", "permanent":
		bt = domain.BounceHard
	}
	return &bt
}
