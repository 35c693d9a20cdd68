package credit

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"bankflow/internal/common/events"
	"bankflow/internal/common/money"
)

// Group is the credit stage's consumer group
const Group = "credit"

const defaultPendingLimit = 100

// Service reviews credit applications
type Service struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a new credit service
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// Submit records a pending application unless one is already pending
func (s *Service) Submit(ctx context.Context, evt *events.Event, d events.CreditDocumentsSubmitted) error {
	if d.Income.IsNegative() {
		return events.Permanent(errors.New("negative declared income"))
	}

	return s.store.InTx(ctx, func(tx Tx) error {
		fresh, err := tx.MarkProcessed(ctx, Group, evt.ID)
		if err != nil || !fresh {
			return err
		}

		now := s.now()
		app := &Application{
			ID:          ulid.Make().String(),
			OwnerID:     d.OwnerID,
			FullName:    d.FullName,
			TaxID:       d.TaxID,
			BirthDate:   d.BirthDate,
			Occupation:  d.Occupation,
			Income:      d.Income,
			IncomeProof: d.IncomeProof,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		inserted, err := tx.InsertPending(ctx, app)
		if err != nil {
			return err
		}
		if !inserted {
			s.logger.Info("credit submission ignored, review already pending", "owner_id", d.OwnerID)
			return nil
		}
		s.logger.Info("credit documents submitted", "owner_id", d.OwnerID, "application_id", app.ID)
		return nil
	})
}

// Approve approves a pending application; the card stage grants the limit.
func (s *Service) Approve(ctx context.Context, id string) (*Application, error) {
	return s.resolve(ctx, id, StatusApproved, func(ctx context.Context, a *Application) (*events.Event, error) {
		return events.NewEvent(ctx, events.TopicApprovedLimitCard, a.OwnerID, events.LimitApproved{
			OwnerID: a.OwnerID,
			Income:  a.Income,
		})
	})
}

// Reject rejects a pending application
func (s *Service) Reject(ctx context.Context, id string) (*Application, error) {
	return s.resolve(ctx, id, StatusRejected, func(ctx context.Context, a *Application) (*events.Event, error) {
		return events.NewEvent(ctx, events.TopicRejectedLimitCard, a.OwnerID, events.LimitRejected{OwnerID: a.OwnerID})
	})
}

func (s *Service) resolve(ctx context.Context, id string, to Status, decision func(context.Context, *Application) (*events.Event, error)) (*Application, error) {
	var out *Application
	err := s.store.InTx(ctx, func(tx Tx) error {
		app, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := app.resolve(to, s.now()); err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, app); err != nil {
			return err
		}
		evt, err := decision(ctx, app)
		if err != nil {
			return err
		}
		out = app
		return tx.Enqueue(ctx, evt)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("credit application resolved", "application_id", id, "owner_id", out.OwnerID, "status", to)
	return out, nil
}

// Status reports the state of the owner's latest application
func (s *Service) Status(ctx context.Context, ownerID string) (Status, error) {
	app, err := s.store.Latest(ctx, ownerID)
	if errors.Is(err, ErrNotFound) {
		return StatusNone, nil
	}
	if err != nil {
		return "", err
	}
	return app.Status, nil
}

// ListPending returns the review queue, oldest first
func (s *Service) ListPending(ctx context.Context, limit int) ([]*Application, error) {
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	return s.store.ListPending(ctx, limit)
}

// PreviewLimit is the limit the owner's latest application would grant
func (s *Service) PreviewLimit(ctx context.Context, ownerID string) (decimal.Decimal, error) {
	app, err := s.store.Latest(ctx, ownerID)
	if err != nil {
		return decimal.Zero, err
	}
	return money.CreditLimitFor(app.Income), nil
}

// Purge deletes every application of the owner
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
		s.logger.Info("credit applications purged", "owner_id", ownerID, "rows", n)
		return nil
	})
}
