package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/commsuite/delivery-engine/internal/delivery_service/adapters/channel"
	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

type workerFixture struct {
	worker   *Worker
	msgRepo  *MockMessageQueueRepository
	rateRepo *MockRateLimitRepository
	cache    *MockCacheClient
	broker   *MockBroker
	factory  *channel.Factory
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	logger := newTestLogger()
	msgRepo := new(MockMessageQueueRepository)
	rateRepo := new(MockRateLimitRepository)
	cacheClient := new(MockCacheClient)
	broker := new(MockBroker)
	healthRepo := new(MockChannelHealthRepository)
	factory := channel.NewFactory()

	router := NewChannelRouter(healthRepo, logger)
	rateLimiter := NewRateLimiter(rateRepo, cacheClient, logger)

	worker, err := NewWorker(msgRepo, factory, router, rateLimiter, broker, WorkerConfig{
		BatchSize:        50,
		SendTimeout:      5 * time.Second,
		StuckLockTimeout: 10 * time.Minute,
	}, logger)
	require.NoError(t, err)

	return &workerFixture{
		worker:   worker,
		msgRepo:  msgRepo,
		rateRepo: rateRepo,
		cache:    cacheClient,
		broker:   broker,
		factory:  factory,
	}
}

// unlimited removes rate limiting from the picture.
func (f *workerFixture) unlimited() {
	f.rateRepo.On("GetActiveRule", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, domain.ErrNotFound)
	f.cache.On("Incr", mock.Anything, mock.Anything).Return(int64(1), nil).Maybe()
	f.cache.On("Expire", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
}

func claimedMessage(ch domain.Channel, gateway string, attempts, maxAttempts int) *domain.QueuedMessage {
	return &domain.QueuedMessage{
		ID:               uuid.New(),
		Token:            uuid.New(),
		Priority:         domain.PriorityP2,
		MessageType:      domain.MessageTypeAlert,
		Channel:          ch,
		Gateway:          gateway,
		RecipientAddress: "resident@example.com",
		Status:           domain.StatusProcessing,
		Attempts:         attempts,
		MaxAttempts:      maxAttempts,
	}
}

func TestWorker_ConstructionRejectsShortStuckTimeout(t *testing.T) {
	_, err := NewWorker(new(MockMessageQueueRepository), channel.NewFactory(), nil, nil, new(MockBroker), WorkerConfig{
		SendTimeout:      time.Minute,
		StuckLockTimeout: 30 * time.Second,
	}, newTestLogger())
	assert.Error(t, err)
}

func TestWorker_SuccessfulSendMarksSent(t *testing.T) {
	f := newWorkerFixture(t)
	f.unlimited()

	msg := claimedMessage(domain.ChannelEmail, GatewayPostal, 0, 3)
	mockChannel := &MockChannel{GatewayName: GatewayPostal}
	mockChannel.On("Send", mock.Anything, msg).
		Return(&channel.SendResult{Success: true, ExternalID: "postal-abc"}, nil)
	f.factory.Register(domain.ChannelEmail, GatewayPostal, mockChannel)

	f.msgRepo.On("ClaimBatch", mock.Anything, domain.PriorityP2, 50, mock.Anything, mock.Anything).
		Return([]*domain.QueuedMessage{msg}, nil)
	f.msgRepo.On("MarkSent", mock.Anything, msg.ID, mock.Anything, "postal-abc", mock.Anything).Return(nil)
	f.broker.On("Publish", mock.Anything, EventSubjectSent, mock.Anything).Return(nil)

	f.worker.ProcessDispatch(context.Background(), &DispatchCommand{Priority: domain.PriorityP2, BatchLimit: 50})

	f.msgRepo.AssertCalled(t, "MarkSent", mock.Anything, msg.ID, mock.Anything, "postal-abc", mock.Anything)
	f.broker.AssertCalled(t, "Publish", mock.Anything, EventSubjectSent, mock.Anything)
}

func TestWorker_FailureSchedulesRetryWithBackoff(t *testing.T) {
	f := newWorkerFixture(t)
	f.unlimited()

	msg := claimedMessage(domain.ChannelEmail, GatewayPostal, 0, 3)
	mockChannel := &MockChannel{GatewayName: GatewayPostal}
	mockChannel.On("Send", mock.Anything, msg).
		Return(&channel.SendResult{Success: false, ErrorMessage: "gateway timeout"}, nil)
	f.factory.Register(domain.ChannelEmail, GatewayPostal, mockChannel)

	f.msgRepo.On("ClaimBatch", mock.Anything, domain.PriorityP2, 50, mock.Anything, mock.Anything).
		Return([]*domain.QueuedMessage{msg}, nil)

	before := time.Now()
	f.msgRepo.On("ScheduleRetry", mock.Anything, msg.ID, mock.Anything, 1, mock.MatchedBy(func(next time.Time) bool {
		// first retry backs off 2^1 = 2 minutes
		return next.Sub(before) >= 2*time.Minute && next.Sub(before) < 3*time.Minute
	}), "gateway timeout").Return(nil)

	f.worker.ProcessDispatch(context.Background(), &DispatchCommand{Priority: domain.PriorityP2, BatchLimit: 50})

	f.msgRepo.AssertExpectations(t)
	f.msgRepo.AssertNotCalled(t, "MarkFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestWorker_ExhaustedEmailFailsOverToAlternateGateway(t *testing.T) {
	f := newWorkerFixture(t)
	f.unlimited()

	msg := claimedMessage(domain.ChannelEmail, GatewayPostal, 2, 3)
	mockChannel := &MockChannel{GatewayName: GatewayPostal}
	mockChannel.On("Send", mock.Anything, msg).
		Return(&channel.SendResult{Success: false, ErrorMessage: "rejected"}, nil)
	f.factory.Register(domain.ChannelEmail, GatewayPostal, mockChannel)

	f.msgRepo.On("ClaimBatch", mock.Anything, domain.PriorityP2, 50, mock.Anything, mock.Anything).
		Return([]*domain.QueuedMessage{msg}, nil)
	f.msgRepo.On("MarkFailed", mock.Anything, msg.ID, mock.Anything, 3, "rejected").Return(nil)

	var failoverMsg *domain.QueuedMessage
	f.msgRepo.On("Create", mock.Anything, mock.AnythingOfType("*domain.QueuedMessage")).
		Run(func(args mock.Arguments) { failoverMsg = args.Get(1).(*domain.QueuedMessage) }).
		Return(nil)
	f.broker.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	f.worker.ProcessDispatch(context.Background(), &DispatchCommand{Priority: domain.PriorityP2, BatchLimit: 50})

	require.NotNil(t, failoverMsg)
	assert.Equal(t, GatewaySES, failoverMsg.Gateway)
	assert.Equal(t, domain.StatusPending, failoverMsg.Status)
	assert.Equal(t, 0, failoverMsg.Attempts)
	assert.NotEqual(t, msg.ID, failoverMsg.ID)
	assert.NotEqual(t, msg.Token, failoverMsg.Token)
	f.broker.AssertCalled(t, "Publish", mock.Anything, EventSubjectFailed, mock.Anything)
}

func TestWorker_ExhaustedSMSHasNoFailover(t *testing.T) {
	f := newWorkerFixture(t)
	f.unlimited()

	msg := claimedMessage(domain.ChannelSMS, GatewayTwilio, 2, 3)
	msg.RecipientAddress = "+15550002222"
	mockChannel := &MockChannel{GatewayName: GatewayTwilio}
	mockChannel.On("Send", mock.Anything, msg).
		Return(&channel.SendResult{Success: false, ErrorMessage: "undeliverable"}, nil)
	f.factory.Register(domain.ChannelSMS, GatewayTwilio, mockChannel)

	f.msgRepo.On("ClaimBatch", mock.Anything, domain.PriorityP2, 50, mock.Anything, mock.Anything).
		Return([]*domain.QueuedMessage{msg}, nil)
	f.msgRepo.On("MarkFailed", mock.Anything, msg.ID, mock.Anything, 3, "undeliverable").Return(nil)
	f.broker.On("Publish", mock.Anything, EventSubjectFailed, mock.Anything).Return(nil)

	f.worker.ProcessDispatch(context.Background(), &DispatchCommand{Priority: domain.PriorityP2, BatchLimit: 50})

	f.msgRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestWorker_RateLimitedMessageDeferredWithoutBurningAttempt(t *testing.T) {
	f := newWorkerFixture(t)

	perSecond := 10
	f.rateRepo.On("GetActiveRule", mock.Anything, "gateway", GatewayTwilio).
		Return(&domain.RateLimitRule{LimitType: "gateway", LimitKey: GatewayTwilio, MaxPerSecond: &perSecond, IsActive: true}, nil)
	f.cache.On("GetInt", mock.Anything, mock.Anything).Return(int64(10), nil)

	msg := claimedMessage(domain.ChannelSMS, GatewayTwilio, 1, 3)
	msg.RecipientAddress = "+15550002222"
	mockChannel := &MockChannel{GatewayName: GatewayTwilio}
	f.factory.Register(domain.ChannelSMS, GatewayTwilio, mockChannel)

	f.msgRepo.On("ClaimBatch", mock.Anything, domain.PriorityP2, 50, mock.Anything, mock.Anything).
		Return([]*domain.QueuedMessage{msg}, nil)
	f.msgRepo.On("ScheduleRetry", mock.Anything, msg.ID, mock.Anything, 1, mock.Anything, mock.Anything).Return(nil)

	f.worker.ProcessDispatch(context.Background(), &DispatchCommand{Priority: domain.PriorityP2, BatchLimit: 50})

	// attempts stay at 1 and the adapter is never called
	f.msgRepo.AssertCalled(t, "ScheduleRetry", mock.Anything, msg.ID, mock.Anything, 1, mock.Anything, mock.Anything)
	mockChannel.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestWorker_PanickingAdapterBecomesFailure(t *testing.T) {
	f := newWorkerFixture(t)
	f.unlimited()

	msg := claimedMessage(domain.ChannelEmail, GatewayPostal, 0, 3)
	mockChannel := &MockChannel{GatewayName: GatewayPostal}
	mockChannel.On("Send", mock.Anything, msg).
		Run(func(mock.Arguments) { panic("adapter exploded") }).
		Return(nil, nil)
	f.factory.Register(domain.ChannelEmail, GatewayPostal, mockChannel)

	f.msgRepo.On("ClaimBatch", mock.Anything, domain.PriorityP2, 50, mock.Anything, mock.Anything).
		Return([]*domain.QueuedMessage{msg}, nil)
	f.msgRepo.On("ScheduleRetry", mock.Anything, msg.ID, mock.Anything, 1, mock.Anything, mock.Anything).Return(nil)

	assert.NotPanics(t, func() {
		f.worker.ProcessDispatch(context.Background(), &DispatchCommand{Priority: domain.PriorityP2, BatchLimit: 50})
	})
	f.msgRepo.AssertCalled(t, "ScheduleRetry", mock.Anything, msg.ID, mock.Anything, 1, mock.Anything, mock.Anything)
}

func TestWorker_FullBatchResubmitsDispatch(t *testing.T) {
	f := newWorkerFixture(t)
	f.unlimited()

	batch := make([]*domain.QueuedMessage, 2)
	mockChannel := &MockChannel{GatewayName: GatewayPostal}
	for i := range batch {
		batch[i] = claimedMessage(domain.ChannelEmail, GatewayPostal, 0, 3)
		mockChannel.On("Send", mock.Anything, batch[i]).
			Return(&channel.SendResult{Success: true, ExternalID: "ext"}, nil)
	}
	f.factory.Register(domain.ChannelEmail, GatewayPostal, mockChannel)

	f.msgRepo.On("ClaimBatch", mock.Anything, domain.PriorityP2, 2, mock.Anything, mock.Anything).
		Return(batch, nil)
	f.msgRepo.On("MarkSent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.broker.On("Publish", mock.Anything, EventSubjectSent, mock.Anything).Return(nil)
	f.broker.On("Publish", mock.Anything, DispatchSubject(domain.PriorityP2), mock.Anything).Return(nil)

	f.worker.ProcessDispatch(context.Background(), &DispatchCommand{Priority: domain.PriorityP2, BatchLimit: 2})

	f.broker.AssertCalled(t, "Publish", mock.Anything, DispatchSubject(domain.PriorityP2), mock.Anything)
}

func TestWorker_NoEligibleMessagesIsQuiet(t *testing.T) {
	f := newWorkerFixture(t)
	f.msgRepo.On("ClaimBatch", mock.Anything, domain.PriorityP4, 50, mock.Anything, mock.Anything).
		Return(nil, domain.ErrNoEligibleMessages)

	f.worker.ProcessDispatch(context.Background(), &DispatchCommand{Priority: domain.PriorityP4, BatchLimit: 50})

	f.broker.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestWorker_ExhaustedFailoverEmailStaysFailed(t *testing.T) {
	f := newWorkerFixture(t)
	f.unlimited()

	msg := claimedMessage(domain.ChannelEmail, GatewaySES, 2, 3)
	mockChannel := &MockChannel{GatewayName: GatewaySES}
	mockChannel.On("Send", mock.Anything, msg).
		Return(&channel.SendResult{Success: false, ErrorMessage: "rejected"}, nil)
	f.factory.Register(domain.ChannelEmail, GatewaySES, mockChannel)

	f.msgRepo.On("ClaimBatch", mock.Anything, domain.PriorityP2, 50, mock.Anything, mock.Anything).
		Return([]*domain.QueuedMessage{msg}, nil)
	f.msgRepo.On("MarkFailed", mock.Anything, msg.ID, mock.Anything, 3, "rejected").Return(nil)
	f.broker.On("Publish", mock.Anything, EventSubjectFailed, mock.Anything).Return(nil)

	f.worker.ProcessDispatch(context.Background(), &DispatchCommand{Priority: domain.PriorityP2, BatchLimit: 50})

	// no clone back onto the primary; a dual outage must not ping-pong
	// messages between the two gateways
	f.msgRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestWorker_WriteBacksCarryClaimLockToken(t *testing.T) {
	f := newWorkerFixture(t)
	f.unlimited()

	msg := claimedMessage(domain.ChannelEmail, GatewayPostal, 0, 3)
	mockChannel := &MockChannel{GatewayName: GatewayPostal}
	mockChannel.On("Send", mock.Anything, msg).
		Return(&channel.SendResult{Success: true, ExternalID: "postal-abc"}, nil)
	f.factory.Register(domain.ChannelEmail, GatewayPostal, mockChannel)

	var claimToken uuid.UUID
	f.msgRepo.On("ClaimBatch", mock.Anything, domain.PriorityP2, 50, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { claimToken = args.Get(3).(uuid.UUID) }).
		Return([]*domain.QueuedMessage{msg}, nil)
	f.msgRepo.On("MarkSent", mock.Anything, msg.ID, mock.MatchedBy(func(token uuid.UUID) bool {
		return token == claimToken && token != uuid.Nil
	}), "postal-abc", mock.Anything).Return(nil)
	f.broker.On("Publish", mock.Anything, EventSubjectSent, mock.Anything).Return(nil)

	f.worker.ProcessDispatch(context.Background(), &DispatchCommand{Priority: domain.PriorityP2, BatchLimit: 50})

	f.msgRepo.AssertExpectations(t)
}
