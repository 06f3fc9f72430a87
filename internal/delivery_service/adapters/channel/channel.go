package channel

import (
	"context"
	"fmt"

	"github.com/commsuite/delivery-engine/internal/delivery_service/domain"
)

// SendResult is the typed outcome of a gateway submission. Transport
// failures are reported here (or as a returned error); they never escape
// the worker as panics.
type SendResult struct {
	Success      bool
	ExternalID   string
	ErrorMessage string
}

// Channel is a concrete send capability for one (channel, gateway) pair.
type Channel interface {
	Send(ctx context.Context, msg *domain.QueuedMessage) (*SendResult, error)
	Name() string
}

// Factory resolves (channel, gateway) pairs to adapters.
type Factory struct {
	adapters map[string]Channel
}

func NewFactory() *Factory {
	return &Factory{adapters: make(map[string]Channel)}
}

// Register binds an adapter to a (channel, gateway) pair.
func (f *Factory) Register(ch domain.Channel, gateway string, adapter Channel) {
	f.adapters[key(ch, gateway)] = adapter
}

// Resolve returns the adapter for a (channel, gateway) pair, or
// domain.ErrUnknownGateway.
func (f *Factory) Resolve(ch domain.Channel, gateway string) (Channel, error) {
	adapter, ok := f.adapters[key(ch, gateway)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrUnknownGateway, ch, gateway)
	}
	return adapter, nil
}

func key(ch domain.Channel, gateway string) string {
	return string(ch) + ":" + gateway
}
