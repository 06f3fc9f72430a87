package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/commsuite/delivery-engine/internal/platform/messagebroker"
	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

// DispatcherConfig tunes the priority scheduler.
type DispatcherConfig struct {
	Interval       time.Duration // tick period
	BatchUnit      int           // backlog rows per dispatch command
	MaxParallel    int           // dispatch command ceiling per tier per tick
	BacklogCeiling int           // tier depth above which lower tiers starve
}

// PriorityDispatcher converts queue backlog into dispatch commands on a fixed
// tick. P0 always gets exactly one command; P1 scales with its backlog; each
// lower tier runs only while the tier above it is under the backlog ceiling.
type PriorityDispatcher struct {
	msgRepo domain.MessageQueueRepository
	broker  messagebroker.Broker
	cfg     DispatcherConfig
	logger  *slog.Logger
}

func NewPriorityDispatcher(msgRepo domain.MessageQueueRepository, broker messagebroker.Broker, cfg DispatcherConfig, logger *slog.Logger) *PriorityDispatcher {
	if cfg.BatchUnit <= 0 {
		cfg.BatchUnit = 100
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 10
	}
	if cfg.BacklogCeiling <= 0 {
		cfg.BacklogCeiling = 5000
	}
	return &PriorityDispatcher{
		msgRepo: msgRepo,
		broker:  broker,
		cfg:     cfg,
		logger:  logger.With("component", "priority_dispatcher"),
	}
}

// Run ticks until the context is cancelled.
func (d *PriorityDispatcher) Run(ctx context.Context) {
	d.logger.InfoContext(ctx, "Priority dispatcher started", "interval", d.cfg.Interval)
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.InfoContext(ctx, "Priority dispatcher stopping")
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Tick publishes this cycle's dispatch commands.
func (d *PriorityDispatcher) Tick(ctx context.Context) {
	now := time.Now()

	// P0 is dispatched unconditionally so an emergency is never more than
	// one tick away even if the enqueue-time fast path was lost.
	d.publish(ctx, domain.PriorityP0, d.cfg.BatchUnit, 1)

	starved := false
	var previousDepth int
	for i, priority := range domain.DispatchOrder {
		if priority == domain.PriorityP0 {
			continue
		}

		depth, err := d.msgRepo.CountEligible(ctx, priority, now)
		if err != nil {
			d.logger.ErrorContext(ctx, "Failed to count eligible backlog", "priority", priority, "error", err)
			return
		}
		queueDepth.WithLabelValues(string(priority)).Set(float64(depth))

		// A tier runs only while every tier above it is under the ceiling.
		if i > 1 && previousDepth > d.cfg.BacklogCeiling {
			starved = true
		}
		previousDepth = depth
		if starved {
			d.logger.DebugContext(ctx, "Tier starved this tick", "priority", priority, "depth", depth)
			continue
		}
		if depth == 0 {
			continue
		}

		dispatches := (depth + d.cfg.BatchUnit - 1) / d.cfg.BatchUnit
		if dispatches > d.cfg.MaxParallel {
			dispatches = d.cfg.MaxParallel
		}
		d.publish(ctx, priority, d.cfg.BatchUnit, dispatches)
	}
}

func (d *PriorityDispatcher) publish(ctx context.Context, priority domain.Priority, batchLimit, count int) {
	cmd := DispatchCommand{Priority: priority, BatchLimit: batchLimit}
	data, err := json.Marshal(cmd)
	if err != nil {
		return
	}
	for i := 0; i < count; i++ {
		if err := d.broker.Publish(ctx, DispatchSubject(priority), data); err != nil {
			d.logger.ErrorContext(ctx, "Failed to publish dispatch command", "priority", priority, "error", err)
			return
		}
		dispatchCommandsTotal.WithLabelValues(string(priority)).Inc()
	}
}
