package outbox

import (
	"context"
	"log/slog"
	"time"

	"bankflow/internal/common/events"
	"bankflow/internal/common/metrics"
)

// Group is the consumer group of the outbox's own subscriptions
const Group = "outbox"

// Store is the outbox persistence the relay drains and prunes
type Store interface {
	Drain(ctx context.Context, limit int, deliver func([]*events.Event) (int, error)) (int, error)
	DeletePublished(ctx context.Context, before time.Time) (int64, error)
	DeleteProcessed(ctx context.Context, before time.Time) (int64, error)
	ForgetOwner(ctx context.Context, ownerID string) (int64, error)
}

// Relay publishes committed outbox entries to the bus in commit order.
type Relay struct {
	store     Store
	publisher events.Publisher
	cfg       Config
	now       func() time.Time
	logger    *slog.Logger
}

// NewRelay creates a new relay
func NewRelay(store Store, publisher events.Publisher, cfg Config, logger *slog.Logger) *Relay {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Minute
	}
	return &Relay{
		store:     store,
		publisher: publisher,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

// Run polls the outbox until ctx is done. A full batch is followed
// immediately by another drain instead of waiting for the next tick.
// Retention sweeps run on their own, slower tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	sweep := time.NewTicker(r.cfg.SweepInterval)
	defer sweep.Stop()

	r.logger.Info("outbox relay started", "interval", r.cfg.PollInterval, "batch", r.cfg.BatchSize)

	for {
		n, err := r.Flush(ctx)
		if err != nil && ctx.Err() == nil {
			r.logger.Error("outbox flush failed", "error", err)
		}
		if err == nil && n == r.cfg.BatchSize {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-sweep.C:
			if err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("outbox sweep failed", "error", err)
			}
		case <-ticker.C:
		}
	}
}

// Flush publishes one batch and returns how many events went out. It stops
// at the first publish failure so later events never overtake earlier ones.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	var publishErr error
	n, err := r.store.Drain(ctx, r.cfg.BatchSize, func(batch []*events.Event) (int, error) {
		for i, evt := range batch {
			if err := r.publisher.Publish(ctx, evt); err != nil {
				r.logger.Warn("outbox publish failed",
					"event_id", evt.ID,
					"topic", evt.Topic,
					"error", err,
				)
				publishErr = err
				return i, err
			}
			metrics.EventsPublished.WithLabelValues(string(evt.Topic)).Inc()
		}
		return len(batch), nil
	})
	if err != nil {
		return n, err
	}
	return n, publishErr
}

// Sweep deletes published entries past Retention and processed-event
// records past InboxRetention. A zero retention keeps rows forever.
func (r *Relay) Sweep(ctx context.Context) error {
	now := r.now()

	if r.cfg.Retention > 0 {
		n, err := r.store.DeletePublished(ctx, now.Add(-r.cfg.Retention))
		if err != nil {
			return err
		}
		if n > 0 {
			r.logger.Info("outbox entries pruned", "count", n)
		}
	}

	if r.cfg.InboxRetention > 0 {
		n, err := r.store.DeleteProcessed(ctx, now.Add(-r.cfg.InboxRetention))
		if err != nil {
			return err
		}
		if n > 0 {
			r.logger.Info("processed events pruned", "count", n)
		}
	}
	return nil
}

// Routes subscribes the outbox to the account-deletion fan-out so a deleted
// owner's published payloads do not wait for retention.
func (r *Relay) Routes() []events.Route {
	return []events.Route{{Topic: events.TopicDeleteUser, Handler: r.handleDeleteUser}}
}

func (r *Relay) handleDeleteUser(ctx context.Context, evt *events.Event) error {
	var data events.AccountDeleted
	if err := evt.DecodeData(&data); err != nil {
		return err
	}
	n, err := r.store.ForgetOwner(ctx, data.OwnerID)
	if err != nil {
		return err
	}
	r.logger.Info("outbox purged", "owner_id", data.OwnerID, "count", n)
	return nil
}
