package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func healthSnapshot(ch domain.Channel, gateway string, healthy bool) *domain.ChannelHealth {
	return &domain.ChannelHealth{Channel: ch, Gateway: gateway, IsHealthy: healthy}
}

func TestChannelRouter_FixedGateways(t *testing.T) {
	healthRepo := new(MockChannelHealthRepository)
	router := NewChannelRouter(healthRepo, newTestLogger())

	smsDecision, err := router.Route(context.Background(), domain.ChannelSMS, domain.MessageTypeAlert, "")
	require.NoError(t, err)
	assert.Equal(t, GatewayTwilio, smsDecision.Gateway)
	assert.Empty(t, smsDecision.FailoverGateway)

	pushDecision, err := router.Route(context.Background(), domain.ChannelPush, domain.MessageTypeAlert, "")
	require.NoError(t, err)
	assert.Equal(t, GatewayFirebase, pushDecision.Gateway)

	healthRepo.AssertNotCalled(t, "Get")
}

func TestChannelRouter_UnknownChannel(t *testing.T) {
	router := NewChannelRouter(new(MockChannelHealthRepository), newTestLogger())

	_, err := router.Route(context.Background(), domain.Channel("fax"), domain.MessageTypeAlert, "")
	assert.ErrorIs(t, err, domain.ErrUnknownChannel)
}

func TestChannelRouter_EmailHealthyPrimary(t *testing.T) {
	healthRepo := new(MockChannelHealthRepository)
	healthRepo.On("Get", mock.Anything, domain.ChannelEmail, GatewayPostal).
		Return(healthSnapshot(domain.ChannelEmail, GatewayPostal, true), nil)
	router := NewChannelRouter(healthRepo, newTestLogger())

	decision, err := router.Route(context.Background(), domain.ChannelEmail, domain.MessageTypeNewsletter, "")
	require.NoError(t, err)
	assert.Equal(t, GatewayPostal, decision.Gateway)
	assert.Equal(t, "newsletters", decision.IPPool)
	assert.Equal(t, GatewaySES, decision.FailoverGateway)
}

func TestChannelRouter_EmailUnhealthyPrimaryFallsOver(t *testing.T) {
	healthRepo := new(MockChannelHealthRepository)
	healthRepo.On("Get", mock.Anything, domain.ChannelEmail, GatewayPostal).
		Return(healthSnapshot(domain.ChannelEmail, GatewayPostal, false), nil)
	router := NewChannelRouter(healthRepo, newTestLogger())

	decision, err := router.Route(context.Background(), domain.ChannelEmail, domain.MessageTypeCampaign, "")
	require.NoError(t, err)
	assert.Equal(t, GatewaySES, decision.Gateway)
	assert.Equal(t, "campaigns", decision.IPPool)
	assert.Equal(t, GatewayPostal, decision.FailoverGateway)
}

func TestChannelRouter_EmergencyPrefersHealthyGateway(t *testing.T) {
	healthRepo := new(MockChannelHealthRepository)
	healthRepo.On("Get", mock.Anything, domain.ChannelEmail, GatewayPostal).
		Return(healthSnapshot(domain.ChannelEmail, GatewayPostal, false), nil)
	healthRepo.On("Get", mock.Anything, domain.ChannelEmail, GatewaySES).
		Return(healthSnapshot(domain.ChannelEmail, GatewaySES, true), nil)
	router := NewChannelRouter(healthRepo, newTestLogger())

	decision, err := router.Route(context.Background(), domain.ChannelEmail, domain.MessageTypeEmergency, "")
	require.NoError(t, err)
	assert.Equal(t, GatewaySES, decision.Gateway)
	assert.Equal(t, "emergency", decision.IPPool)
}

func TestChannelRouter_EmergencyBothUnhealthyStaysOnPrimary(t *testing.T) {
	healthRepo := new(MockChannelHealthRepository)
	healthRepo.On("Get", mock.Anything, domain.ChannelEmail, GatewayPostal).
		Return(healthSnapshot(domain.ChannelEmail, GatewayPostal, false), nil)
	healthRepo.On("Get", mock.Anything, domain.ChannelEmail, GatewaySES).
		Return(healthSnapshot(domain.ChannelEmail, GatewaySES, false), nil)
	router := NewChannelRouter(healthRepo, newTestLogger())

	decision, err := router.Route(context.Background(), domain.ChannelEmail, domain.MessageTypeTransactional, "")
	require.NoError(t, err)
	assert.Equal(t, GatewayPostal, decision.Gateway)
}

func TestChannelRouter_MissingHealthRowCountsAsHealthy(t *testing.T) {
	healthRepo := new(MockChannelHealthRepository)
	healthRepo.On("Get", mock.Anything, domain.ChannelEmail, GatewayPostal).
		Return(nil, domain.ErrNotFound)
	router := NewChannelRouter(healthRepo, newTestLogger())

	decision, err := router.Route(context.Background(), domain.ChannelEmail, "digest", "")
	require.NoError(t, err)
	assert.Equal(t, GatewayPostal, decision.Gateway)
	assert.Equal(t, "default", decision.IPPool)
}

func TestChannelRouter_IPPoolOverride(t *testing.T) {
	healthRepo := new(MockChannelHealthRepository)
	healthRepo.On("Get", mock.Anything, domain.ChannelEmail, GatewayPostal).
		Return(healthSnapshot(domain.ChannelEmail, GatewayPostal, true), nil)
	router := NewChannelRouter(healthRepo, newTestLogger())

	decision, err := router.Route(context.Background(), domain.ChannelEmail, domain.MessageTypeNewsletter, "dedicated-7")
	require.NoError(t, err)
	assert.Equal(t, "dedicated-7", decision.IPPool)
}

func TestChannelRouter_FailoverOnlyFromPrimary(t *testing.T) {
	router := NewChannelRouter(new(MockChannelHealthRepository), newTestLogger())

	assert.Equal(t, GatewaySES, router.FailoverGateway(domain.ChannelEmail, GatewayPostal))
	assert.Empty(t, router.FailoverGateway(domain.ChannelEmail, GatewaySES))
	assert.Empty(t, router.FailoverGateway(domain.ChannelSMS, GatewayTwilio))
	assert.Empty(t, router.FailoverGateway(domain.ChannelPush, GatewayFirebase))
}
