package main

import (
	"context"
	"fmt"
	"log/slog"

	"bankflow/internal/common/events"
	"bankflow/internal/common/kafka"
	"bankflow/internal/common/nats"
)

// eventBus is whichever transport BUS_DRIVER selected
type eventBus struct {
	events.Publisher
	events.Consumer
	healthCheck func() error
	close       func()
}

func openBus(ctx context.Context, cfg Config, logger *slog.Logger) (*eventBus, error) {
	switch cfg.BusDriver {
	case "jetstream", "nats":
		client, err := nats.New(ctx, cfg.NATS, cfg.Retry, logger)
		if err != nil {
			return nil, err
		}
		return &eventBus{
			Publisher:   client,
			Consumer:    client,
			healthCheck: client.HealthCheck,
			close:       client.Close,
		}, nil

	case "kafka":
		bus := kafka.New(cfg.Kafka, cfg.Retry, logger)
		return &eventBus{
			Publisher:   bus,
			Consumer:    bus,
			healthCheck: func() error { return nil },
			close: func() {
				if err := bus.Close(); err != nil {
					logger.Error("closing kafka writers", "error", err)
				}
			},
		}, nil
	}
	return nil, fmt.Errorf("unknown BUS_DRIVER %q", cfg.BusDriver)
}
