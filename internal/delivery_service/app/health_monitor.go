package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

// healthyThreshold is the minimum success rate, per window, for a gateway to
// be considered healthy.
const healthyThreshold = 95.0

// GatewayPair identifies one monitored (channel, gateway) combination.
type GatewayPair struct {
	Channel domain.Channel
	Gateway string
}

// DefaultGatewayPairs lists every gateway the engine routes to.
var DefaultGatewayPairs = []GatewayPair{
	{domain.ChannelEmail, GatewayPostal},
	{domain.ChannelEmail, GatewaySES},
	{domain.ChannelSMS, GatewayTwilio},
	{domain.ChannelPush, GatewayFirebase},
}

// ChannelHealthMonitor recomputes per-gateway health snapshots on a fixed
// schedule. The router reads the snapshots; it never computes health inline.
type ChannelHealthMonitor struct {
	msgRepo    domain.MessageQueueRepository
	healthRepo domain.ChannelHealthRepository
	pairs      []GatewayPair
	interval   time.Duration
	logger     *slog.Logger
}

func NewChannelHealthMonitor(
	msgRepo domain.MessageQueueRepository,
	healthRepo domain.ChannelHealthRepository,
	pairs []GatewayPair,
	interval time.Duration,
	logger *slog.Logger,
) *ChannelHealthMonitor {
	if len(pairs) == 0 {
		pairs = DefaultGatewayPairs
	}
	return &ChannelHealthMonitor{
		msgRepo:    msgRepo,
		healthRepo: healthRepo,
		pairs:      pairs,
		interval:   interval,
		logger:     logger.With("component", "channel_health_monitor"),
	}
}

// Run recomputes all snapshots on each tick until the context is cancelled.
// An initial pass runs immediately so the router has data after startup.
func (m *ChannelHealthMonitor) Run(ctx context.Context) {
	m.logger.InfoContext(ctx, "Channel health monitor started", "interval", m.interval, "pairs", len(m.pairs))
	m.CheckAll(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.InfoContext(ctx, "Channel health monitor stopping")
			return
		case <-ticker.C:
			m.CheckAll(ctx)
		}
	}
}

// CheckAll recomputes and upserts the snapshot for every monitored pair.
func (m *ChannelHealthMonitor) CheckAll(ctx context.Context) {
	for _, pair := range m.pairs {
		if err := m.check(ctx, pair); err != nil {
			m.logger.ErrorContext(ctx, "Health check failed", "channel", pair.Channel, "gateway", pair.Gateway, "error", err)
		}
	}
}

func (m *ChannelHealthMonitor) check(ctx context.Context, pair GatewayPair) error {
	now := time.Now()

	outcome1h, err := m.msgRepo.SendOutcomes(ctx, pair.Channel, pair.Gateway, now.Add(-time.Hour))
	if err != nil {
		return err
	}
	outcome24h, err := m.msgRepo.SendOutcomes(ctx, pair.Channel, pair.Gateway, now.Add(-24*time.Hour))
	if err != nil {
		return err
	}
	latency, err := m.msgRepo.AvgDeliveryLatencyMs(ctx, pair.Channel, pair.Gateway, now.Add(-time.Hour))
	if err != nil {
		return err
	}

	rate1h := successRate(outcome1h)
	rate24h := successRate(outcome24h)

	health := &domain.ChannelHealth{
		Channel:        pair.Channel,
		Gateway:        pair.Gateway,
		SuccessRate1h:  rate1h,
		SuccessRate24h: rate24h,
		AvgLatencyMs:   latency,
		IsHealthy:      meetsThreshold(rate1h) && meetsThreshold(rate24h),
		LastCheckedAt:  now,
	}

	if err := m.healthRepo.Upsert(ctx, health); err != nil {
		return err
	}

	if !health.IsHealthy {
		m.logger.WarnContext(ctx, "Gateway unhealthy",
			"channel", pair.Channel, "gateway", pair.Gateway,
			"success_rate_1h", deref(rate1h), "success_rate_24h", deref(rate24h))
	}
	return nil
}

// successRate returns nil for an empty window; the verdict treats nil as 100%.
func successRate(outcome *domain.SendOutcome) *float64 {
	if outcome == nil || outcome.Total == 0 {
		return nil
	}
	rate := float64(outcome.Successful) / float64(outcome.Total) * 100
	return &rate
}

func meetsThreshold(rate *float64) bool {
	return rate == nil || *rate >= healthyThreshold
}

func deref(rate *float64) float64 {
	if rate == nil {
		return 100
	}
	return *rate
}
