package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/commsuite/delivery-engine/internal/platform/messagebroker"
	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

// bulkChunkSize bounds one multi-row insert.
const bulkChunkSize = 1000

var e164Pattern = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

// Disposition is the per-recipient outcome of an enqueue request.
type Disposition string

const (
	DispositionQueued     Disposition = "queued"
	DispositionSuppressed Disposition = "suppressed"
	DispositionInvalid    Disposition = "invalid"
)

// EnqueueRequest is one message to queue.
type EnqueueRequest struct {
	Priority         domain.Priority
	MessageType      string
	Channel          domain.Channel
	Recipient        domain.RecipientRef
	RecipientAddress string
	Subject          *string
	Template         *string
	ContentData      json.RawMessage
	SourceType       *string
	SourceID         *string
	Scope            *string
	IPPoolOverride   string
	ScheduledFor     *time.Time
	MaxAttempts      int
}

// EnqueueResult reports what happened to one recipient.
type EnqueueResult struct {
	Disposition Disposition
	Token       uuid.UUID
	Reason      string
}

// BulkRecipient is one entry of a bulk enqueue request.
type BulkRecipient struct {
	Recipient        domain.RecipientRef
	RecipientAddress string
	ContentData      json.RawMessage
}

// BulkResult tallies a bulk enqueue.
type BulkResult struct {
	Queued     int
	Suppressed int
	Invalid    int
}

// EnqueueService is the write-side entry point of the engine: validation,
// suppression, routing and the pending-row insert all happen here.
type EnqueueService struct {
	msgRepo            domain.MessageQueueRepository
	healthRepo         domain.ChannelHealthRepository
	router             *ChannelRouter
	suppressions       *SuppressionRegistry
	broker             messagebroker.Broker
	defaultMaxAttempts int
	logger             *slog.Logger
}

func NewEnqueueService(
	msgRepo domain.MessageQueueRepository,
	healthRepo domain.ChannelHealthRepository,
	router *ChannelRouter,
	suppressions *SuppressionRegistry,
	broker messagebroker.Broker,
	defaultMaxAttempts int,
	logger *slog.Logger,
) *EnqueueService {
	return &EnqueueService{
		msgRepo:            msgRepo,
		healthRepo:         healthRepo,
		router:             router,
		suppressions:       suppressions,
		broker:             broker,
		defaultMaxAttempts: defaultMaxAttempts,
		logger:             logger.With("component", "enqueue_service"),
	}
}

// Send validates, routes and queues a single message. Invalid and suppressed
// recipients are reported through the disposition, not as errors.
func (s *EnqueueService) Send(ctx context.Context, req *EnqueueRequest) (*EnqueueResult, error) {
	if reason := validateRecipient(req.Channel, req.RecipientAddress); reason != "" {
		return &EnqueueResult{Disposition: DispositionInvalid, Reason: reason}, nil
	}

	suppressed, err := s.suppressions.IsSuppressed(ctx, req.Channel, req.RecipientAddress, req.Scope)
	if err == nil && suppressed {
		messagesSuppressedTotal.WithLabelValues(string(req.Channel)).Inc()
		return &EnqueueResult{Disposition: DispositionSuppressed, Reason: "recipient address is suppressed"}, nil
	}

	decision, err := s.router.Route(ctx, req.Channel, req.MessageType, req.IPPoolOverride)
	if err != nil {
		return nil, fmt.Errorf("failed to route message: %w", err)
	}

	msg := s.buildMessage(req, req.Recipient, req.RecipientAddress, req.ContentData, decision)
	if err := s.msgRepo.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("failed to enqueue message: %w", err)
	}

	messagesEnqueuedTotal.WithLabelValues(string(msg.Channel), string(msg.Priority)).Inc()
	s.publishEvent(ctx, EventSubjectQueued, msg, "")

	// Emergency traffic does not wait for the next dispatch tick.
	if msg.Priority == domain.PriorityP0 {
		s.publishDispatch(ctx, domain.PriorityP0, 1)
	}

	s.logger.InfoContext(ctx, "Message queued",
		"token", msg.Token, "channel", msg.Channel, "gateway", msg.Gateway, "priority", msg.Priority)
	return &EnqueueResult{Disposition: DispositionQueued, Token: msg.Token}, nil
}

// SendBulk queues one message per recipient, sharing the routing decision and
// message body across the batch. A bad recipient never fails the batch.
func (s *EnqueueService) SendBulk(ctx context.Context, req *EnqueueRequest, recipients []BulkRecipient) (*BulkResult, error) {
	decision, err := s.router.Route(ctx, req.Channel, req.MessageType, req.IPPoolOverride)
	if err != nil {
		return nil, fmt.Errorf("failed to route bulk request: %w", err)
	}

	result := &BulkResult{}
	batch := make([]*domain.QueuedMessage, 0, bulkChunkSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		written, err := s.msgRepo.CreateBatch(ctx, batch)
		if err != nil {
			return fmt.Errorf("failed to insert message batch: %w", err)
		}
		result.Queued += written
		messagesEnqueuedTotal.WithLabelValues(string(req.Channel), string(req.Priority)).Add(float64(written))
		batch = batch[:0]
		return nil
	}

	for _, rcpt := range recipients {
		if reason := validateRecipient(req.Channel, rcpt.RecipientAddress); reason != "" {
			result.Invalid++
			continue
		}
		suppressed, err := s.suppressions.IsSuppressed(ctx, req.Channel, rcpt.RecipientAddress, req.Scope)
		if err == nil && suppressed {
			result.Suppressed++
			messagesSuppressedTotal.WithLabelValues(string(req.Channel)).Inc()
			continue
		}

		content := rcpt.ContentData
		if content == nil {
			content = req.ContentData
		}
		batch = append(batch, s.buildMessage(req, rcpt.Recipient, rcpt.RecipientAddress, content, decision))

		if len(batch) >= bulkChunkSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}

	if req.Priority == domain.PriorityP0 && result.Queued > 0 {
		s.publishDispatch(ctx, domain.PriorityP0, result.Queued)
	}

	s.logger.InfoContext(ctx, "Bulk enqueue finished",
		"channel", req.Channel, "queued", result.Queued, "suppressed", result.Suppressed, "invalid", result.Invalid)
	return result, nil
}

// GetStatus returns the message behind a public token.
func (s *EnqueueService) GetStatus(ctx context.Context, token uuid.UUID) (*domain.QueuedMessage, error) {
	return s.msgRepo.GetByToken(ctx, token)
}

// Cancel flips a pending or processing message to failed. Returns false when
// the message is unknown or already terminal. A processing message may still
// complete its in-flight send at the gateway.
func (s *EnqueueService) Cancel(ctx context.Context, token uuid.UUID) (bool, error) {
	cancelled, err := s.msgRepo.CancelByToken(ctx, token, "Cancelled by user")
	if err != nil {
		return false, err
	}
	if cancelled {
		s.logger.InfoContext(ctx, "Message cancelled", "token", token)
	}
	return cancelled, nil
}

// QueueStats returns row counts by (priority, status).
func (s *EnqueueService) QueueStats(ctx context.Context) ([]domain.QueueStat, error) {
	return s.msgRepo.QueueStats(ctx)
}

// ChannelStats returns every channel health snapshot.
func (s *EnqueueService) ChannelStats(ctx context.Context) ([]*domain.ChannelHealth, error) {
	return s.healthRepo.GetAll(ctx)
}

func (s *EnqueueService) buildMessage(req *EnqueueRequest, recipient domain.RecipientRef, address string, content json.RawMessage, decision *RoutingDecision) *domain.QueuedMessage {
	now := time.Now()
	scheduledFor := now
	if req.ScheduledFor != nil && req.ScheduledFor.After(now) {
		scheduledFor = *req.ScheduledFor
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.defaultMaxAttempts
	}

	return &domain.QueuedMessage{
		ID:               uuid.New(),
		Token:            uuid.New(),
		Priority:         req.Priority,
		MessageType:      req.MessageType,
		Channel:          req.Channel,
		Gateway:          decision.Gateway,
		IPPool:           decision.IPPool,
		Recipient:        recipient,
		RecipientAddress: address,
		Subject:          req.Subject,
		Template:         req.Template,
		ContentData:      content,
		SourceType:       req.SourceType,
		SourceID:         req.SourceID,
		Status:           domain.StatusPending,
		ScheduledFor:     scheduledFor,
		Attempts:         0,
		MaxAttempts:      maxAttempts,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func (s *EnqueueService) publishEvent(ctx context.Context, subject string, msg *domain.QueuedMessage, errMsg string) {
	event := MessageEvent{
		MessageID: msg.ID,
		Token:     msg.Token,
		Channel:   msg.Channel,
		Gateway:   msg.Gateway,
		Status:    msg.Status,
		Error:     errMsg,
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.broker.Publish(ctx, subject, data); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish message event", "subject", subject, "error", err)
	}
}

func (s *EnqueueService) publishDispatch(ctx context.Context, priority domain.Priority, batchLimit int) {
	cmd := DispatchCommand{Priority: priority, BatchLimit: batchLimit}
	data, err := json.Marshal(cmd)
	if err != nil {
		return
	}
	if err := s.broker.Publish(ctx, DispatchSubject(priority), data); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish immediate dispatch", "priority", priority, "error", err)
		return
	}
	dispatchCommandsTotal.WithLabelValues(string(priority)).Inc()
}

// validateRecipient checks address shape per channel. Returns "" when valid.
func validateRecipient(channel domain.Channel, address string) string {
	if address == "" {
		return "recipient address is empty"
	}
	switch channel {
	case domain.ChannelEmail:
		if _, err := mail.ParseAddress(address); err != nil {
			return "recipient address is not a valid email address"
		}
	case domain.ChannelSMS:
		if !e164Pattern.MatchString(address) {
			return "recipient address is not a valid E.164 phone number"
		}
	case domain.ChannelPush:
		// any non-empty device token is accepted
	default:
		return fmt.Sprintf("unknown channel %q", channel)
	}
	return ""
}
