package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/commsuite/delivery-engine/internal/platform/messagebroker"
	"github.com/commsuite/delivery-engine/internal/delivery_service/adapters/channel"
	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

// --- Mocks shared by the app package tests ---

type MockMessageQueueRepository struct {
	mock.Mock
}

func (m *MockMessageQueueRepository) Create(ctx context.Context, msg *domain.QueuedMessage) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

func (m *MockMessageQueueRepository) CreateBatch(ctx context.Context, msgs []*domain.QueuedMessage) (int, error) {
	args := m.Called(ctx, msgs)
	return args.Int(0), args.Error(1)
}

func (m *MockMessageQueueRepository) GetByToken(ctx context.Context, token uuid.UUID) (*domain.QueuedMessage, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QueuedMessage), args.Error(1)
}

func (m *MockMessageQueueRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.QueuedMessage, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QueuedMessage), args.Error(1)
}

func (m *MockMessageQueueRepository) CancelByToken(ctx context.Context, token uuid.UUID, reason string) (bool, error) {
	args := m.Called(ctx, token, reason)
	return args.Bool(0), args.Error(1)
}

func (m *MockMessageQueueRepository) ClaimBatch(ctx context.Context, priority domain.Priority, limit int, lockToken uuid.UUID, now time.Time) ([]*domain.QueuedMessage, error) {
	args := m.Called(ctx, priority, limit, lockToken, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.QueuedMessage), args.Error(1)
}

func (m *MockMessageQueueRepository) MarkSent(ctx context.Context, id uuid.UUID, lockToken uuid.UUID, externalID string, sentAt time.Time) error {
	args := m.Called(ctx, id, lockToken, externalID, sentAt)
	return args.Error(0)
}

func (m *MockMessageQueueRepository) MarkFailed(ctx context.Context, id uuid.UUID, lockToken uuid.UUID, attempts int, lastError string) error {
	args := m.Called(ctx, id, lockToken, attempts, lastError)
	return args.Error(0)
}

func (m *MockMessageQueueRepository) ScheduleRetry(ctx context.Context, id uuid.UUID, lockToken uuid.UUID, attempts int, nextRetryAt time.Time, lastError string) error {
	args := m.Called(ctx, id, lockToken, attempts, nextRetryAt, lastError)
	return args.Error(0)
}

func (m *MockMessageQueueRepository) MarkDelivered(ctx context.Context, id uuid.UUID, deliveredAt time.Time) error {
	args := m.Called(ctx, id, deliveredAt)
	return args.Error(0)
}

func (m *MockMessageQueueRepository) SetStatus(ctx context.Context, id uuid.UUID, status domain.MessageStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockMessageQueueRepository) CountEligible(ctx context.Context, priority domain.Priority, now time.Time) (int, error) {
	args := m.Called(ctx, priority, now)
	return args.Int(0), args.Error(1)
}

func (m *MockMessageQueueRepository) QueueStats(ctx context.Context) ([]domain.QueueStat, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.QueueStat), args.Error(1)
}

func (m *MockMessageQueueRepository) ReleaseStuck(ctx context.Context, lockedBefore time.Time) (int64, error) {
	args := m.Called(ctx, lockedBefore)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMessageQueueRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMessageQueueRepository) SendOutcomes(ctx context.Context, ch domain.Channel, gateway string, since time.Time) (*domain.SendOutcome, error) {
	args := m.Called(ctx, ch, gateway, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SendOutcome), args.Error(1)
}

func (m *MockMessageQueueRepository) AvgDeliveryLatencyMs(ctx context.Context, ch domain.Channel, gateway string, since time.Time) (*float64, error) {
	args := m.Called(ctx, ch, gateway, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*float64), args.Error(1)
}

type MockSuppressionRepository struct {
	mock.Mock
}

func (m *MockSuppressionRepository) FindActive(ctx context.Context, ch domain.Channel, address string, scope *string, now time.Time) (*domain.SuppressionEntry, error) {
	args := m.Called(ctx, ch, address, scope, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SuppressionEntry), args.Error(1)
}

func (m *MockSuppressionRepository) Create(ctx context.Context, entry *domain.SuppressionEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockSuppressionRepository) HasAnyActive(ctx context.Context, ch domain.Channel, address string, now time.Time) (bool, error) {
	args := m.Called(ctx, ch, address, now)
	return args.Bool(0), args.Error(1)
}

type MockChannelHealthRepository struct {
	mock.Mock
}

func (m *MockChannelHealthRepository) Get(ctx context.Context, ch domain.Channel, gateway string) (*domain.ChannelHealth, error) {
	args := m.Called(ctx, ch, gateway)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ChannelHealth), args.Error(1)
}

func (m *MockChannelHealthRepository) GetAll(ctx context.Context) ([]*domain.ChannelHealth, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ChannelHealth), args.Error(1)
}

func (m *MockChannelHealthRepository) Upsert(ctx context.Context, health *domain.ChannelHealth) error {
	args := m.Called(ctx, health)
	return args.Error(0)
}

type MockRateLimitRepository struct {
	mock.Mock
}

func (m *MockRateLimitRepository) GetActiveRule(ctx context.Context, limitType, limitKey string) (*domain.RateLimitRule, error) {
	args := m.Called(ctx, limitType, limitKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RateLimitRule), args.Error(1)
}

type MockDeliveryEventRepository struct {
	mock.Mock
}

func (m *MockDeliveryEventRepository) Create(ctx context.Context, event *domain.DeliveryEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockDeliveryEventRepository) HardBouncedAddresses(ctx context.Context, since time.Time) ([]domain.BouncedAddress, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.BouncedAddress), args.Error(1)
}

func (m *MockDeliveryEventRepository) ComplainedAddresses(ctx context.Context, since time.Time) ([]domain.BouncedAddress, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.BouncedAddress), args.Error(1)
}

func (m *MockDeliveryEventRepository) SoftBounceCounts(ctx context.Context, since time.Time) ([]domain.BouncedAddress, error) {
	args := m.Called(ctx, since)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.BouncedAddress), args.Error(1)
}

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Publish(ctx context.Context, subject string, data []byte) error {
	args := m.Called(ctx, subject, data)
	return args.Error(0)
}

func (m *MockBroker) QueueSubscribe(subject, queueGroup string, handler func(subject string, data []byte)) (messagebroker.Subscription, error) {
	args := m.Called(subject, queueGroup, handler)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(messagebroker.Subscription), args.Error(1)
}

type MockCacheClient struct {
	mock.Mock
}

func (m *MockCacheClient) Get(ctx context.Context, key string) (string, error) {
	args := m.Called(ctx, key)
	return args.String(0), args.Error(1)
}

func (m *MockCacheClient) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}

func (m *MockCacheClient) Delete(ctx context.Context, keys ...string) error {
	callArgs := make([]interface{}, 0, len(keys)+1)
	callArgs = append(callArgs, ctx)
	for _, k := range keys {
		callArgs = append(callArgs, k)
	}
	args := m.Called(callArgs...)
	return args.Error(0)
}

func (m *MockCacheClient) Incr(ctx context.Context, key string) (int64, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockCacheClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	args := m.Called(ctx, key, ttl)
	return args.Error(0)
}

func (m *MockCacheClient) GetInt(ctx context.Context, key string) (int64, error) {
	args := m.Called(ctx, key)
	return args.Get(0).(int64), args.Error(1)
}

type MockChannel struct {
	mock.Mock
	GatewayName string
}

func (m *MockChannel) Send(ctx context.Context, msg *domain.QueuedMessage) (*channel.SendResult, error) {
	args := m.Called(ctx, msg)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*channel.SendResult), args.Error(1)
}

func (m *MockChannel) Name() string { return m.GatewayName }
