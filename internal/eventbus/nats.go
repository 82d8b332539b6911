package eventbus

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Bus owns the NATS connection and its JetStream context
type Bus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
}

// Connect dials NATS and opens a JetStream context
func Connect(url string, logger *zap.Logger) (*Bus, error) {
	nc, err := nats.Connect(url,
		nats.Name("imagearena-api"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(3),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("NATS and JetStream initialized", zap.String("url", url))
	return &Bus{nc: nc, js: js, logger: logger}, nil
}

// Ping reports whether the connection is usable
func (b *Bus) Ping() error {
	if b == nil || b.nc == nil {
		return nats.ErrConnectionClosed
	}
	return b.nc.FlushTimeout(2 * time.Second)
}

// Close closes the NATS connection
func (b *Bus) Close() {
	if b != nil && b.nc != nil {
		b.nc.Close()
	}
}
