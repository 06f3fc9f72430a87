package app

import (
	"github.com/google/uuid"

	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

// NATS subjects. Dispatch commands fan out per priority tier so the worker
// queue group can be scaled independently of the scheduler.
const (
	DispatchSubjectPrefix = "delivery.dispatch." // + priority, e.g. delivery.dispatch.P1
	DispatchQueueGroup    = "delivery_workers"

	EventSubjectQueued = "delivery.events.queued"
	EventSubjectSent   = "delivery.events.sent"
	EventSubjectFailed = "delivery.events.failed"
)

// DispatchSubject returns the command subject for one priority tier.
func DispatchSubject(p domain.Priority) string {
	return DispatchSubjectPrefix + string(p)
}

// DispatchCommand instructs a worker to claim and send one batch.
type DispatchCommand struct {
	Priority   domain.Priority `json:"priority"`
	BatchLimit int             `json:"batch_limit"`
}

// MessageEvent is the lifecycle notification published on the event subjects.
type MessageEvent struct {
	MessageID uuid.UUID            `json:"message_id"`
	Token     uuid.UUID            `json:"token"`
	Channel   domain.Channel       `json:"channel"`
	Gateway   string               `json:"gateway"`
	Status    domain.MessageStatus `json:"status"`
	Error     string               `json:"error,omitempty"`
}
