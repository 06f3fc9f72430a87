package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/commsuite/delivery-engine/internal/delivery_service/app"
	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

// EnqueueService is the application surface the message API exposes.
type EnqueueService interface {
	Send(ctx context.Context, req *app.EnqueueRequest) (*app.EnqueueResult, error)
	SendBulk(ctx context.Context, req *app.EnqueueRequest, recipients []app.BulkRecipient) (*app.BulkResult, error)
	GetStatus(ctx context.Context, token uuid.UUID) (*domain.QueuedMessage, error)
	Cancel(ctx context.Context, token uuid.UUID) (bool, error)
	QueueStats(ctx context.Context) ([]domain.QueueStat, error)
	ChannelStats(ctx context.Context) ([]*domain.ChannelHealth, error)
}

// MessageHandler serves the message intake and status API.
type MessageHandler struct {
	enqueue  EnqueueService
	logger   *slog.Logger
	validate *validator.Validate
}

func NewMessageHandler(enqueue EnqueueService, logger *slog.Logger, validate *validator.Validate) *MessageHandler {
	return &MessageHandler{
		enqueue:  enqueue,
		logger:   logger,
		validate: validate,
	}
}

func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var reqDTO SendMessageRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		h.logger.WarnContext(ctx, "Failed to decode request body for SendMessage", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		h.logger.WarnContext(ctx, "Validation failed for SendMessage", "error", err)
		http.Error(w, fmt.Sprintf("Validation error: %s", err.Error()), http.StatusBadRequest)
		return
	}

	result, err := h.enqueue.Send(ctx, &app.EnqueueRequest{
		Priority:         domain.Priority(reqDTO.Priority),
		MessageType:      reqDTO.MessageType,
		Channel:          domain.Channel(reqDTO.Channel),
		Recipient:        domain.RecipientRef{Type: reqDTO.Recipient.Type, ID: reqDTO.Recipient.ID},
		RecipientAddress: reqDTO.RecipientAddress,
		Subject:          reqDTO.Subject,
		Template:         reqDTO.Template,
		ContentData:      reqDTO.ContentData,
		SourceType:       reqDTO.SourceType,
		SourceID:         reqDTO.SourceID,
		Scope:            reqDTO.Scope,
		IPPoolOverride:   reqDTO.IPPool,
		ScheduledFor:     reqDTO.ScheduledFor,
		MaxAttempts:      reqDTO.MaxAttempts,
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "SendMessage failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resDTO := SendMessageResponseDTO{Disposition: string(result.Disposition), Reason: result.Reason}
	statusCode := http.StatusOK
	switch result.Disposition {
	case app.DispositionQueued:
		resDTO.Token = result.Token.String()
		statusCode = http.StatusCreated
	case app.DispositionInvalid:
		statusCode = http.StatusBadRequest
	}

	writeJSON(w, h.logger, statusCode, resDTO)
}

func (h *MessageHandler) SendBulk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var reqDTO SendBulkRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
		h.logger.WarnContext(ctx, "Failed to decode request body for SendBulk", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.validate.StructCtx(ctx, reqDTO); err != nil {
		h.logger.WarnContext(ctx, "Validation failed for SendBulk", "error", err)
		http.Error(w, fmt.Sprintf("Validation error: %s", err.Error()), http.StatusBadRequest)
		return
	}

	recipients := make([]app.BulkRecipient, len(reqDTO.Recipients))
	for i, rcpt := range reqDTO.Recipients {
		recipients[i] = app.BulkRecipient{
			Recipient:        domain.RecipientRef{Type: rcpt.Recipient.Type, ID: rcpt.Recipient.ID},
			RecipientAddress: rcpt.RecipientAddress,
			ContentData:      rcpt.ContentData,
		}
	}

	result, err := h.enqueue.SendBulk(ctx, &app.EnqueueRequest{
		Priority:       domain.Priority(reqDTO.Priority),
		MessageType:    reqDTO.MessageType,
		Channel:        domain.Channel(reqDTO.Channel),
		Subject:        reqDTO.Subject,
		Template:       reqDTO.Template,
		ContentData:    reqDTO.ContentData,
		SourceType:     reqDTO.SourceType,
		SourceID:       reqDTO.SourceID,
		Scope:          reqDTO.Scope,
		IPPoolOverride: reqDTO.IPPool,
	}, recipients)
	if err != nil {
		h.logger.ErrorContext(ctx, "SendBulk failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, SendBulkResponseDTO{
		Queued:     result.Queued,
		Suppressed: result.Suppressed,
		Invalid:    result.Invalid,
	})
}

func (h *MessageHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token, err := uuid.Parse(chi.URLParam(r, "token"))
	if err != nil {
		http.Error(w, "Invalid message token", http.StatusBadRequest)
		return
	}

	msg, err := h.enqueue.GetStatus(ctx, token)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "Message not found", http.StatusNotFound)
			return
		}
		h.logger.ErrorContext(ctx, "GetMessage failed", "token", token, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, toMessageStatusDTO(msg))
}

func (h *MessageHandler) CancelMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token, err := uuid.Parse(chi.URLParam(r, "token"))
	if err != nil {
		http.Error(w, "Invalid message token", http.StatusBadRequest)
		return
	}

	cancelled, err := h.enqueue.Cancel(ctx, token)
	if err != nil {
		h.logger.ErrorContext(ctx, "CancelMessage failed", "token", token, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !cancelled {
		http.Error(w, "Message not found or already terminal", http.StatusConflict)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, map[string]bool{"cancelled": true})
}

func (h *MessageHandler) QueueStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stats, err := h.enqueue.QueueStats(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "QueueStats failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resDTOs := make([]QueueStatDTO, len(stats))
	for i, stat := range stats {
		resDTOs[i] = QueueStatDTO{Priority: string(stat.Priority), Status: string(stat.Status), Count: stat.Count}
	}
	writeJSON(w, h.logger, http.StatusOK, resDTOs)
}

func (h *MessageHandler) ChannelStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	healths, err := h.enqueue.ChannelStats(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "ChannelStats failed", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	resDTOs := make([]ChannelHealthDTO, len(healths))
	for i, health := range healths {
		resDTOs[i] = ChannelHealthDTO{
			Channel:        string(health.Channel),
			Gateway:        health.Gateway,
			SuccessRate1h:  health.SuccessRate1h,
			SuccessRate24h: health.SuccessRate24h,
			AvgLatencyMs:   health.AvgLatencyMs,
			IsHealthy:      health.IsHealthy,
			LastCheckedAt:  health.LastCheckedAt,
		}
	}
	writeJSON(w, h.logger, http.StatusOK, resDTOs)
}

// RegisterRoutes registers the message API under the given router.
func (h *MessageHandler) RegisterRoutes(r chi.Router) {
	r.Post("/", h.SendMessage)
	r.Post("/bulk", h.SendBulk)
	r.Get("/stats/queue", h.QueueStats)
	r.Get("/stats/channels", h.ChannelStats)
	r.Get("/{token}", h.GetMessage)
	r.Post("/{token}/cancel", h.CancelMessage)
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("Failed to encode response", "error", err)
	}
}
