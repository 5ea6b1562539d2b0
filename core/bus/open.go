package bus

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Open dials the broker selected by cfg.Driver and wraps it in a Handle.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Handle, error) {
	var dial Dialer
	switch cfg.Driver {
	case DriverAMQP, "":
		dial = AMQPDialer(cfg)
	case DriverNATS:
		dial = NATSDialer(cfg)
	default:
		return nil, fmt.Errorf("unsupported bus driver: %s", cfg.Driver)
	}

	h, err := NewHandle(ctx, dial, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Connected to message bus",
		zap.String("driver", cfg.Driver),
		zap.String("ingest", cfg.Exchange+"/"+cfg.RoutingKey),
		zap.String("deletion", cfg.DeleteExchange+"/"+cfg.DeleteRoutingKey),
	)
	return h, nil
}
