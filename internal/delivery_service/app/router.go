package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

const (
	GatewayPostal   = "postal"
	GatewaySES      = "ses"
	GatewayTwilio   = "twilio"
	GatewayFirebase = "firebase"
)

// ipPoolByType maps message types to the sending IP pool used for email.
// Types without an entry share the default pool.
var ipPoolByType = map[string]string{
	domain.MessageTypeEmergency:     "emergency",
	domain.MessageTypeAlert:         "alerts",
	domain.MessageTypeNewsletter:    "newsletters",
	domain.MessageTypeCampaign:      "campaigns",
	domain.MessageTypeTransactional: "transactional",
}

const defaultIPPool = "default"

// RoutingDecision is the gateway assignment made at enqueue time.
type RoutingDecision struct {
	Gateway         string
	IPPool          string
	FailoverGateway string
}

// ChannelRouter picks the gateway and IP pool for a message at enqueue time.
// SMS and push have a single gateway each; email routes between the primary
// and failover gateway based on recorded channel health.
type ChannelRouter struct {
	healthRepo domain.ChannelHealthRepository
	logger     *slog.Logger
}

func NewChannelRouter(healthRepo domain.ChannelHealthRepository, logger *slog.Logger) *ChannelRouter {
	return &ChannelRouter{
		healthRepo: healthRepo,
		logger:     logger.With("component", "channel_router"),
	}
}

// Route decides the gateway and IP pool for the given channel and message
// type. A non-empty ipPoolOverride wins over the type mapping.
func (r *ChannelRouter) Route(ctx context.Context, channel domain.Channel, messageType, ipPoolOverride string) (*RoutingDecision, error) {
	switch channel {
	case domain.ChannelSMS:
		return &RoutingDecision{Gateway: GatewayTwilio}, nil
	case domain.ChannelPush:
		return &RoutingDecision{Gateway: GatewayFirebase}, nil
	case domain.ChannelEmail:
		gateway := r.routeEmail(ctx, messageType)
		pool := ipPoolOverride
		if pool == "" {
			pool = r.emailIPPool(messageType)
		}
		return &RoutingDecision{
			Gateway:         gateway,
			IPPool:          pool,
			FailoverGateway: alternateGateway(channel, gateway),
		}, nil
	}
	return nil, domain.ErrUnknownChannel
}

// FailoverGateway returns the gateway a worker may re-enqueue an exhausted
// message on. Only a message that exhausted the primary gateway fails over;
// an exhausted failover message stays failed, otherwise a dual-gateway outage
// would clone messages back and forth between the two without bound.
func (r *ChannelRouter) FailoverGateway(channel domain.Channel, gateway string) string {
	if channel == domain.ChannelEmail && gateway == GatewayPostal {
		return GatewaySES
	}
	return ""
}

// alternateGateway is the informational "other gateway" in a routing
// decision, regardless of which one the message was routed to.
func alternateGateway(channel domain.Channel, gateway string) string {
	if channel != domain.ChannelEmail {
		return ""
	}
	switch gateway {
	case GatewayPostal:
		return GatewaySES
	case GatewaySES:
		return GatewayPostal
	}
	return ""
}

func (r *ChannelRouter) routeEmail(ctx context.Context, messageType string) string {
	primaryHealthy := r.isHealthy(ctx, domain.ChannelEmail, GatewayPostal)

	// Emergency and transactional traffic is latency sensitive enough to
	// route around a degraded primary. Everything else stays on the primary
	// unless it is actually unhealthy.
	switch messageType {
	case domain.MessageTypeEmergency, domain.MessageTypeTransactional:
		if primaryHealthy {
			return GatewayPostal
		}
		if r.isHealthy(ctx, domain.ChannelEmail, GatewaySES) {
			r.logger.WarnContext(ctx, "Routing around unhealthy primary email gateway", "message_type", messageType)
			return GatewaySES
		}
		return GatewayPostal
	default:
		if primaryHealthy {
			return GatewayPostal
		}
		r.logger.WarnContext(ctx, "Primary email gateway unhealthy, using failover", "message_type", messageType)
		return GatewaySES
	}
}

func (r *ChannelRouter) emailIPPool(messageType string) string {
	if pool, ok := ipPoolByType[messageType]; ok {
		return pool
	}
	return defaultIPPool
}

// isHealthy treats a missing snapshot as healthy so a fresh deployment with
// no traffic history routes normally.
func (r *ChannelRouter) isHealthy(ctx context.Context, channel domain.Channel, gateway string) bool {
	health, err := r.healthRepo.Get(ctx, channel, gateway)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			r.logger.ErrorContext(ctx, "Failed to read channel health, assuming healthy", "channel", channel, "gateway", gateway, "error", err)
		}
		return true
	}
	return health.IsHealthy
}
