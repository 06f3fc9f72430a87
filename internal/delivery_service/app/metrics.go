package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_messages_enqueued_total",
		Help: "Total messages accepted into the queue.",
	}, []string{"channel", "priority"})

	messagesSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_messages_sent_total",
		Help: "Total messages handed to a gateway successfully.",
	}, []string{"channel", "gateway"})

	messagesFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_messages_failed_total",
		Help: "Total messages that exhausted their attempts.",
	}, []string{"channel", "gateway"})

	messagesRetriedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_messages_retried_total",
		Help: "Total send attempts rescheduled with backoff.",
	}, []string{"channel", "gateway"})

	messagesSuppressedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_messages_suppressed_total",
		Help: "Total enqueue requests rejected by the suppression registry.",
	}, []string{"channel"})

	rateLimitDeferralsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_rate_limit_deferrals_total",
		Help: "Total claimed messages returned to the queue by rate limiting.",
	}, []string{"limit_type", "limit_key"})

	dispatchCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_dispatch_commands_total",
		Help: "Total dispatch commands published per priority tier.",
	}, []string{"priority"})

	sendDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "delivery_send_duration_seconds",
		Help:    "Gateway send call latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel", "gateway"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "delivery_queue_depth",
		Help: "Eligible backlog per priority tier, sampled each dispatch tick.",
	}, []string{"priority"})

	stuckMessagesReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "delivery_stuck_messages_released_total",
		Help: "Total processing rows returned to pending by the reaper.",
	})

	webhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_webhook_events_total",
		Help: "Total provider callback events ingested.",
	}, []string{"source", "event_type"})
)
