package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"bankflow/internal/common/events"
)

// Group is the notification stage's consumer group
const Group = "notification"

const defaultListLimit = 50

// Service stores and serves owner notifications
type Service struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a new notification service
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// Deliver stores message for ownerID once per event. Notices for a deleted
// owner are dropped.
func (s *Service) Deliver(ctx context.Context, evt *events.Event, ownerID, message string) error {
	return s.store.InTx(ctx, func(tx Tx) error {
		fresh, err := tx.MarkProcessed(ctx, Group, evt.ID)
		if err != nil || !fresh {
			return err
		}
		deleted, err := tx.IsDeleted(ctx, ownerID)
		if err != nil {
			return err
		}
		if deleted {
			s.logger.Info("notice for deleted owner dropped", "owner_id", ownerID, "topic", evt.Topic)
			return nil
		}

		n := &Notification{
			ID:        ulid.Make().String(),
			OwnerID:   ownerID,
			Message:   message,
			Visible:   true,
			CreatedAt: s.now(),
		}
		if err := tx.Insert(ctx, n); err != nil {
			return err
		}
		s.logger.Info("notification stored", "owner_id", ownerID, "topic", evt.Topic, "notification_id", n.ID)
		return nil
	})
}

// Hide hides one notification; an unknown id is ignored
func (s *Service) Hide(ctx context.Context, ownerID, id string) error {
	hidden, err := s.store.Hide(ctx, ownerID, id)
	if err != nil {
		return err
	}
	if !hidden {
		s.logger.Debug("hide of unknown notification ignored", "owner_id", ownerID, "notification_id", id)
	}
	return nil
}

// MarkAllViewed marks the owner's notifications viewed
func (s *Service) MarkAllViewed(ctx context.Context, ownerID string) error {
	_, err := s.store.MarkAllViewed(ctx, ownerID)
	return err
}

// CountUnviewed counts visible unviewed notifications
func (s *Service) CountUnviewed(ctx context.Context, ownerID string) (int, error) {
	return s.store.CountUnviewed(ctx, ownerID)
}

// ListVisible returns visible notifications, newest first
func (s *Service) ListVisible(ctx context.Context, ownerID string, limit int) ([]*Notification, error) {
	return s.store.List(ctx, ownerID, true, normalizeLimit(limit))
}

// ListHidden returns hidden notifications, newest first
func (s *Service) ListHidden(ctx context.Context, ownerID string, limit int) ([]*Notification, error) {
	return s.store.List(ctx, ownerID, false, normalizeLimit(limit))
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

// Purge deletes every notification of the owner
func (s *Service) Purge(ctx context.Context, evt *events.Event, ownerID string) error {
	return s.store.InTx(ctx, func(tx Tx) error {
		fresh, err := tx.MarkProcessed(ctx, Group, evt.ID)
		if err != nil || !fresh {
			return err
		}
		n, err := tx.DeleteByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		if err := tx.MarkDeleted(ctx, ownerID); err != nil {
			return err
		}
		s.logger.Info("notifications purged", "owner_id", ownerID, "rows", n)
		return nil
	})
}
