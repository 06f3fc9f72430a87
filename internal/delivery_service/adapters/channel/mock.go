package channel

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

// MockChannel accepts every message without talking to a real gateway.
// Used in development deployments and smoke tests.
type MockChannel struct {
	logger *slog.Logger
	name   string
}

func NewMockChannel(logger *slog.Logger, name string) *MockChannel {
	return &MockChannel{logger: logger.With("channel", name), name: name}
}

func (m *MockChannel) Send(ctx context.Context, msg *domain.QueuedMessage) (*SendResult, error) {
	externalID := "mock-" + uuid.NewString()
	m.logger.InfoContext(ctx, "Mock send", "recipient", msg.RecipientAddress, "external_id", externalID)
	return &SendResult{Success: true, ExternalID: externalID}, nil
}

func (m *MockChannel) Name() string { return m.name }
