package messagebroker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Broker is the publish/subscribe capability consumed by the delivery
// engine: dispatch commands and lifecycle notifications both travel
// through it. Satisfied by NATSClient in production and by mocks in tests.
type Broker interface {
	Publish(ctx context.Context, subject string, data []byte) error
	QueueSubscribe(subject, queueGroup string, handler func(subject string, data []byte)) (Subscription, error)
}

// Subscription is the handle returned by QueueSubscribe.
type Subscription interface {
	Unsubscribe() error
}

// NATSClient wraps a core NATS connection.
type NATSClient struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNATSClient connects to NATS with reconnect handling.
// natsURL example: "nats://localhost:4222".
func NewNATSClient(natsURL, appName string, logger *slog.Logger) (*NATSClient, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name(appName),
		nats.Timeout(5*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", natsURL, err)
	}

	return &NATSClient{conn: nc, logger: logger}, nil
}

// Publish sends data to the given subject.
func (c *NATSClient) Publish(ctx context.Context, subject string, data []byte) error {
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to subject %q: %w", subject, err)
	}
	return nil
}

// QueueSubscribe subscribes to a subject within a queue group so that each
// message is delivered to exactly one member of the group.
func (c *NATSClient) QueueSubscribe(subject, queueGroup string, handler func(subject string, data []byte)) (Subscription, error) {
	sub, err := c.conn.QueueSubscribe(subject, queueGroup, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to subject %q (group %q): %w", subject, queueGroup, err)
	}
	return sub, nil
}

// Close drains the connection so buffered publishes are flushed first.
func (c *NATSClient) Close() {
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Drain(); err != nil {
			c.logger.Warn("Failed to drain NATS connection", "error", err)
			c.conn.Close()
		}
	}
}
