package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

func TestRateLimiter_NoRuleMeansUnlimited(t *testing.T) {
	ruleRepo := new(MockRateLimitRepository)
	cacheClient := new(MockCacheClient)
	ruleRepo.On("GetActiveRule", mock.Anything, "gateway", "postal").Return(nil, domain.ErrNotFound)

	limiter := NewRateLimiter(ruleRepo, cacheClient, newTestLogger())
	assert.True(t, limiter.CanSend(context.Background(), "gateway", "postal"))
	cacheClient.AssertNotCalled(t, "GetInt", mock.Anything, mock.Anything)
}

func TestRateLimiter_UnderCeilingAllows(t *testing.T) {
	ruleRepo := new(MockRateLimitRepository)
	cacheClient := new(MockCacheClient)
	perMinute := 100
	ruleRepo.On("GetActiveRule", mock.Anything, "gateway", "twilio").
		Return(&domain.RateLimitRule{LimitType: "gateway", LimitKey: "twilio", MaxPerMinute: &perMinute, IsActive: true}, nil)
	cacheClient.On("GetInt", mock.Anything, mock.Anything).Return(int64(42), nil)

	limiter := NewRateLimiter(ruleRepo, cacheClient, newTestLogger())
	assert.True(t, limiter.CanSend(context.Background(), "gateway", "twilio"))
}

func TestRateLimiter_AtCeilingBlocks(t *testing.T) {
	ruleRepo := new(MockRateLimitRepository)
	cacheClient := new(MockCacheClient)
	perHour := 1000
	ruleRepo.On("GetActiveRule", mock.Anything, "gateway", "ses").
		Return(&domain.RateLimitRule{LimitType: "gateway", LimitKey: "ses", MaxPerHour: &perHour, IsActive: true}, nil)
	cacheClient.On("GetInt", mock.Anything, mock.Anything).Return(int64(1000), nil)

	limiter := NewRateLimiter(ruleRepo, cacheClient, newTestLogger())
	assert.False(t, limiter.CanSend(context.Background(), "gateway", "ses"))
}

func TestRateLimiter_OnlyConfiguredWindowsChecked(t *testing.T) {
	ruleRepo := new(MockRateLimitRepository)
	cacheClient := new(MockCacheClient)
	perDay := 50000
	ruleRepo.On("GetActiveRule", mock.Anything, "community", "hoa-42").
		Return(&domain.RateLimitRule{LimitType: "community", LimitKey: "hoa-42", MaxPerDay: &perDay, IsActive: true}, nil)
	cacheClient.On("GetInt", mock.Anything, mock.Anything).Return(int64(0), nil).Once()

	limiter := NewRateLimiter(ruleRepo, cacheClient, newTestLogger())
	assert.True(t, limiter.CanSend(context.Background(), "community", "hoa-42"))
	cacheClient.AssertNumberOfCalls(t, "GetInt", 1)
}

func TestRateLimiter_RuleLookupErrorFailsOpen(t *testing.T) {
	ruleRepo := new(MockRateLimitRepository)
	cacheClient := new(MockCacheClient)
	ruleRepo.On("GetActiveRule", mock.Anything, "gateway", "postal").Return(nil, assert.AnError)

	limiter := NewRateLimiter(ruleRepo, cacheClient, newTestLogger())
	assert.True(t, limiter.CanSend(context.Background(), "gateway", "postal"))
}

func TestRateLimiter_RecordSendTouchesEveryWindow(t *testing.T) {
	ruleRepo := new(MockRateLimitRepository)
	cacheClient := new(MockCacheClient)
	cacheClient.On("Incr", mock.Anything, mock.Anything).Return(int64(1), nil)
	cacheClient.On("Expire", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	limiter := NewRateLimiter(ruleRepo, cacheClient, newTestLogger())
	limiter.RecordSend(context.Background(), "gateway", "postal")

	cacheClient.AssertNumberOfCalls(t, "Incr", 4)
	cacheClient.AssertNumberOfCalls(t, "Expire", 4)
}

func TestRateLimiter_WindowKeysRollOver(t *testing.T) {
	limiter := NewRateLimiter(new(MockRateLimitRepository), new(MockCacheClient), newTestLogger())
	w := rateWindow{"minute", time.Minute}

	base := time.Date(2026, 8, 29, 10, 30, 59, 0, time.UTC)
	sameWindow := limiter.counterKey("gateway", "postal", w, base.Add(-59*time.Second))
	current := limiter.counterKey("gateway", "postal", w, base)
	nextWindow := limiter.counterKey("gateway", "postal", w, base.Add(time.Second))

	assert.Equal(t, sameWindow, current)
	assert.NotEqual(t, current, nextWindow)
}
