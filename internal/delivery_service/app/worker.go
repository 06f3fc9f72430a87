package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/commsuite/delivery-engine/internal/platform/messagebroker"
	"github.com/commsuite/delivery-engine/internal/delivery_service/adapters/channel"
	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

// rateLimitDeferral is how long a rate-limited message waits before it is
// eligible again. The deferral does not burn an attempt.
const rateLimitDeferral = 30 * time.Second

// WorkerConfig tunes the claim-and-send worker.
type WorkerConfig struct {
	BatchSize        int           // default claim size when a command carries none
	SendTimeout      time.Duration // per-message gateway call budget
	StuckLockTimeout time.Duration // must exceed SendTimeout; see NewWorker
}

// Worker consumes dispatch commands, claims eligible batches and drives each
// claimed message through exactly one send attempt.
type Worker struct {
	msgRepo     domain.MessageQueueRepository
	factory     *channel.Factory
	router      *ChannelRouter
	rateLimiter *RateLimiter
	broker      messagebroker.Broker
	cfg         WorkerConfig
	logger      *slog.Logger
}

// NewWorker validates that the stuck-lock timeout exceeds the send timeout;
// otherwise the reaper could release a row whose send is still in flight.
func NewWorker(
	msgRepo domain.MessageQueueRepository,
	factory *channel.Factory,
	router *ChannelRouter,
	rateLimiter *RateLimiter,
	broker messagebroker.Broker,
	cfg WorkerConfig,
	logger *slog.Logger,
) (*Worker, error) {
	if cfg.SendTimeout <= 0 {
		return nil, fmt.Errorf("worker send timeout must be positive, got %s", cfg.SendTimeout)
	}
	if cfg.StuckLockTimeout <= cfg.SendTimeout {
		return nil, fmt.Errorf("stuck lock timeout (%s) must exceed send timeout (%s)", cfg.StuckLockTimeout, cfg.SendTimeout)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Worker{
		msgRepo:     msgRepo,
		factory:     factory,
		router:      router,
		rateLimiter: rateLimiter,
		broker:      broker,
		cfg:         cfg,
		logger:      logger.With("component", "delivery_worker"),
	}, nil
}

// Start subscribes the worker to all dispatch subjects within the shared
// queue group. The returned subscription stays live until unsubscribed.
func (w *Worker) Start(ctx context.Context) (messagebroker.Subscription, error) {
	sub, err := w.broker.QueueSubscribe(DispatchSubjectPrefix+"*", DispatchQueueGroup, func(subject string, data []byte) {
		var cmd DispatchCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			w.logger.Error("Failed to decode dispatch command", "subject", subject, "error", err)
			return
		}
		w.ProcessDispatch(ctx, &cmd)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to dispatch subjects: %w", err)
	}
	w.logger.InfoContext(ctx, "Worker subscribed", "subject", DispatchSubjectPrefix+"*", "queue_group", DispatchQueueGroup)
	return sub, nil
}

// ProcessDispatch claims one batch for the command's priority and sends it.
// Claiming a full batch means more backlog likely remains, so the worker
// resubmits one follow-up command for the same tier.
func (w *Worker) ProcessDispatch(ctx context.Context, cmd *DispatchCommand) {
	limit := cmd.BatchLimit
	if limit <= 0 {
		limit = w.cfg.BatchSize
	}

	lockToken := uuid.New()
	claimed, err := w.msgRepo.ClaimBatch(ctx, cmd.Priority, limit, lockToken, time.Now())
	if err != nil {
		if !errors.Is(err, domain.ErrNoEligibleMessages) {
			w.logger.ErrorContext(ctx, "Failed to claim batch", "priority", cmd.Priority, "error", err)
		}
		return
	}

	w.logger.InfoContext(ctx, "Claimed batch", "priority", cmd.Priority, "count", len(claimed), "lock_token", lockToken)

	for _, group := range groupByGateway(claimed) {
		w.processGroup(ctx, group, lockToken)
	}

	if len(claimed) == limit {
		w.resubmit(ctx, cmd.Priority, limit)
	}
}

// gatewayGroup is the claimed subset bound for one (channel, gateway) pair.
type gatewayGroup struct {
	channel  domain.Channel
	gateway  string
	messages []*domain.QueuedMessage
}

func groupByGateway(msgs []*domain.QueuedMessage) []*gatewayGroup {
	index := make(map[string]*gatewayGroup)
	var groups []*gatewayGroup
	for _, msg := range msgs {
		key := string(msg.Channel) + ":" + msg.Gateway
		group, ok := index[key]
		if !ok {
			group = &gatewayGroup{channel: msg.Channel, gateway: msg.Gateway}
			index[key] = group
			groups = append(groups, group)
		}
		group.messages = append(group.messages, msg)
	}
	return groups
}

func (w *Worker) processGroup(ctx context.Context, group *gatewayGroup, lockToken uuid.UUID) {
	ch, err := w.factory.Resolve(group.channel, group.gateway)
	if err != nil {
		w.logger.ErrorContext(ctx, "No channel adapter for claimed messages", "channel", group.channel, "gateway", group.gateway, "error", err)
		for _, msg := range group.messages {
			w.deferMessage(ctx, msg, lockToken, "no adapter registered for gateway "+group.gateway)
		}
		return
	}

	for _, msg := range group.messages {
		if !w.rateLimiter.CanSend(ctx, "gateway", group.gateway) {
			rateLimitDeferralsTotal.WithLabelValues("gateway", group.gateway).Inc()
			w.deferMessage(ctx, msg, lockToken, "rate limit reached for gateway "+group.gateway)
			continue
		}

		result := w.attemptSend(ctx, ch, msg)
		if result.Success {
			w.handleSuccess(ctx, msg, result, lockToken)
			w.rateLimiter.RecordSend(ctx, "gateway", group.gateway)
		} else {
			w.handleFailure(ctx, msg, result.ErrorMessage, lockToken)
		}
	}
}

// attemptSend runs one gateway call under the send timeout. A panic inside an
// adapter becomes a failure result rather than taking down the batch.
func (w *Worker) attemptSend(ctx context.Context, ch channel.Channel, msg *domain.QueuedMessage) (result *channel.SendResult) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.ErrorContext(ctx, "Channel adapter panicked", "channel", msg.Channel, "gateway", msg.Gateway, "message_id", msg.ID, "panic", r)
			result = &channel.SendResult{Success: false, ErrorMessage: fmt.Sprintf("adapter panic: %v", r)}
		}
	}()

	sendCtx, cancel := context.WithTimeout(ctx, w.cfg.SendTimeout)
	defer cancel()

	start := time.Now()
	res, err := ch.Send(sendCtx, msg)
	sendDuration.WithLabelValues(string(msg.Channel), msg.Gateway).Observe(time.Since(start).Seconds())
	if err != nil {
		return &channel.SendResult{Success: false, ErrorMessage: err.Error()}
	}
	return res
}

func (w *Worker) handleSuccess(ctx context.Context, msg *domain.QueuedMessage, result *channel.SendResult, lockToken uuid.UUID) {
	sentAt := time.Now()
	if err := w.msgRepo.MarkSent(ctx, msg.ID, lockToken, result.ExternalID, sentAt); err != nil {
		w.logger.ErrorContext(ctx, "Failed to mark message sent", "message_id", msg.ID, "error", err)
		return
	}
	messagesSentTotal.WithLabelValues(string(msg.Channel), msg.Gateway).Inc()

	msg.Status = domain.StatusSent
	w.publishEvent(ctx, EventSubjectSent, msg, "")
}

func (w *Worker) handleFailure(ctx context.Context, msg *domain.QueuedMessage, errMsg string, lockToken uuid.UUID) {
	attempts := msg.Attempts + 1

	if attempts >= msg.MaxAttempts {
		if err := w.msgRepo.MarkFailed(ctx, msg.ID, lockToken, attempts, errMsg); err != nil {
			w.logger.ErrorContext(ctx, "Failed to mark message failed", "message_id", msg.ID, "error", err)
			return
		}
		messagesFailedTotal.WithLabelValues(string(msg.Channel), msg.Gateway).Inc()
		w.logger.WarnContext(ctx, "Message exhausted its attempts",
			"message_id", msg.ID, "channel", msg.Channel, "gateway", msg.Gateway, "attempts", attempts, "error", errMsg)

		msg.Status = domain.StatusFailed
		w.publishEvent(ctx, EventSubjectFailed, msg, errMsg)

		w.failover(ctx, msg)
		return
	}

	nextRetryAt := time.Now().Add(domain.RetryBackoff(attempts))
	if err := w.msgRepo.ScheduleRetry(ctx, msg.ID, lockToken, attempts, nextRetryAt, errMsg); err != nil {
		w.logger.ErrorContext(ctx, "Failed to schedule retry", "message_id", msg.ID, "error", err)
		return
	}
	messagesRetriedTotal.WithLabelValues(string(msg.Channel), msg.Gateway).Inc()
	w.logger.InfoContext(ctx, "Send attempt failed, retry scheduled",
		"message_id", msg.ID, "attempts", attempts, "next_retry_at", nextRetryAt, "error", errMsg)
}

// failover re-queues an exhausted message as a brand-new pending message on
// the channel's failover gateway. Only messages that exhausted the primary
// gateway qualify; the clone carries a fresh token and a zeroed attempt
// counter.
func (w *Worker) failover(ctx context.Context, msg *domain.QueuedMessage) {
	failoverGateway := w.router.FailoverGateway(msg.Channel, msg.Gateway)
	if failoverGateway == "" {
		return
	}

	now := time.Now()
	clone := *msg
	clone.ID = uuid.New()
	clone.Token = uuid.New()
	clone.Gateway = failoverGateway
	clone.Status = domain.StatusPending
	clone.LockToken = nil
	clone.LockedAt = nil
	clone.ScheduledFor = now
	clone.NextRetryAt = nil
	clone.Attempts = 0
	clone.LastError = nil
	clone.SentAt = nil
	clone.DeliveredAt = nil
	clone.ExternalID = nil
	clone.CreatedAt = now
	clone.UpdatedAt = now

	if err := w.msgRepo.Create(ctx, &clone); err != nil {
		w.logger.ErrorContext(ctx, "Failed to enqueue failover message", "original_id", msg.ID, "gateway", failoverGateway, "error", err)
		return
	}
	messagesEnqueuedTotal.WithLabelValues(string(clone.Channel), string(clone.Priority)).Inc()
	w.logger.InfoContext(ctx, "Failover message queued",
		"original_id", msg.ID, "failover_id", clone.ID, "gateway", failoverGateway)

	w.publishEvent(ctx, EventSubjectQueued, &clone, "")
}

// deferMessage returns a claimed message to pending without consuming an
// attempt, with a short eligibility floor.
func (w *Worker) deferMessage(ctx context.Context, msg *domain.QueuedMessage, lockToken uuid.UUID, reason string) {
	nextAt := time.Now().Add(rateLimitDeferral)
	if err := w.msgRepo.ScheduleRetry(ctx, msg.ID, lockToken, msg.Attempts, nextAt, reason); err != nil {
		w.logger.ErrorContext(ctx, "Failed to defer message", "message_id", msg.ID, "error", err)
	}
}

func (w *Worker) resubmit(ctx context.Context, priority domain.Priority, batchLimit int) {
	cmd := DispatchCommand{Priority: priority, BatchLimit: batchLimit}
	data, err := json.Marshal(cmd)
	if err != nil {
		return
	}
	if err := w.broker.Publish(ctx, DispatchSubject(priority), data); err != nil {
		w.logger.WarnContext(ctx, "Failed to resubmit dispatch command", "priority", priority, "error", err)
		return
	}
	dispatchCommandsTotal.WithLabelValues(string(priority)).Inc()
}

func (w *Worker) publishEvent(ctx context.Context, subject string, msg *domain.QueuedMessage, errMsg string) {
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
	if err := w.broker.Publish(ctx, subject, data); err != nil {
		w.logger.WarnContext(ctx, "Failed to publish message event", "subject", subject, "error", err)
	}
}
