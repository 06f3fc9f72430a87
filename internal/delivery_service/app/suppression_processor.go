package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

// softBounceThreshold is how many soft bounces an address accumulates before
// it is suppressed.
const softBounceThreshold = 3

// SuppressionProcessor promotes delivery events into suppression entries on a
// fixed schedule: hard bounces and complaints immediately, soft bounces once
// an address crosses the threshold. Promotion is idempotent.
type SuppressionProcessor struct {
	eventRepo domain.DeliveryEventRepository
	registry  *SuppressionRegistry
	suppRepo  domain.SuppressionRepository
	interval  time.Duration
	lookback  time.Duration
	logger    *slog.Logger
}

func NewSuppressionProcessor(
	eventRepo domain.DeliveryEventRepository,
	registry *SuppressionRegistry,
	suppRepo domain.SuppressionRepository,
	interval time.Duration,
	logger *slog.Logger,
) *SuppressionProcessor {
	return &SuppressionProcessor{
		eventRepo: eventRepo,
		registry:  registry,
		suppRepo:  suppRepo,
		interval:  interval,
		lookback:  24 * time.Hour,
		logger:    logger.With("component", "suppression_processor"),
	}
}

// Run processes events on each tick until the context is cancelled.
func (p *SuppressionProcessor) Run(ctx context.Context) {
	p.logger.InfoContext(ctx, "Suppression processor started", "interval", p.interval)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "Suppression processor stopping")
			return
		case <-ticker.C:
			p.ProcessEvents(ctx)
		}
	}
}

// ProcessEvents runs one promotion pass over the recent event window.
func (p *SuppressionProcessor) ProcessEvents(ctx context.Context) {
	since := time.Now().Add(-p.lookback)

	hard, err := p.eventRepo.HardBouncedAddresses(ctx, since)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to load hard bounced addresses", "error", err)
	} else {
		p.promote(ctx, hard, domain.ReasonBounceHard)
	}

	complained, err := p.eventRepo.ComplainedAddresses(ctx, since)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to load complained addresses", "error", err)
	} else {
		p.promote(ctx, complained, domain.ReasonComplaint)
	}

	soft, err := p.eventRepo.SoftBounceCounts(ctx, since)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to load soft bounce counts", "error", err)
		return
	}
	var overThreshold []domain.BouncedAddress
	for _, addr := range soft {
		if addr.Count >= softBounceThreshold {
			overThreshold = append(overThreshold, addr)
		}
	}
	p.promote(ctx, overThreshold, domain.ReasonBounceSoft)
}

func (p *SuppressionProcessor) promote(ctx context.Context, addrs []domain.BouncedAddress, reason domain.SuppressionReason) {
	now := time.Now()
	for _, addr := range addrs {
		exists, err := p.suppRepo.HasAnyActive(ctx, addr.Channel, addr.Address, now)
		if err != nil {
			p.logger.ErrorContext(ctx, "Failed to check existing suppression", "channel", addr.Channel, "error", err)
			continue
		}
		if exists {
			continue
		}
		if err := p.registry.AddSuppression(ctx, addr.Channel, addr.Address, nil, reason, "suppression_processor", nil); err != nil {
			p.logger.ErrorContext(ctx, "Failed to add suppression entry", "channel", addr.Channel, "reason", reason, "error", err)
		}
	}
}
