package document

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"bankflow/internal/common/events"
)

// Group is the document stage's consumer group
const Group = "document"

// DefaultPendingLimit caps ListPending when the caller passes no limit.
const DefaultPendingLimit = 100

// Service reviews account-opening documents
type Service struct {
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a new document service
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// Submit records a pending submission. It is a no-op while the owner still
// has one pending, including when a concurrent submit wins the race.
func (s *Service) Submit(ctx context.Context, evt *events.Event, d events.DocumentsSubmitted) error {
	return s.store.InTx(ctx, func(tx Tx) error {
		fresh, err := tx.MarkProcessed(ctx, Group, evt.ID)
		if err != nil || !fresh {
			return err
		}

		now := s.now()
		doc := &Document{
			ID:           ulid.Make().String(),
			OwnerID:      d.OwnerID,
			FullName:     d.FullName,
			NationalID:   d.NationalID,
			TaxID:        d.TaxID,
			AddressProof: d.AddressProof,
			IncomeProof:  d.IncomeProof,
			Status:       StatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		inserted, err := tx.InsertPending(ctx, doc)
		if err != nil {
			return err
		}
		if !inserted {
			s.logger.Info("submission ignored, review already pending", "owner_id", d.OwnerID)
			return nil
		}
		s.logger.Info("documents submitted", "owner_id", d.OwnerID, "document_id", doc.ID)
		return nil
	})
}

// Approve approves a pending document and approves the owner's card
func (s *Service) Approve(ctx context.Context, id string) (*Document, error) {
	return s.resolve(ctx, id, StatusApproved, events.TopicApprovedCard)
}

// Reject rejects a pending document and cancels the owner's card
func (s *Service) Reject(ctx context.Context, id string) (*Document, error) {
	return s.resolve(ctx, id, StatusRejected, events.TopicCanceledCard)
}

func (s *Service) resolve(ctx context.Context, id string, to Status, topic events.Topic) (*Document, error) {
	var out *Document
	err := s.store.InTx(ctx, func(tx Tx) error {
		doc, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := doc.Resolve(to, s.now()); err != nil {
			return err
		}
		if err := tx.UpdateStatus(ctx, doc); err != nil {
			return err
		}

		evt, err := events.NewEvent(ctx, topic, doc.OwnerID, events.CardDecision{
			OwnerID:    doc.OwnerID,
			FullName:   doc.FullName,
			NationalID: doc.NationalID,
			TaxID:      doc.TaxID,
		})
		if err != nil {
			return err
		}
		out = doc
		return tx.Enqueue(ctx, evt)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("document resolved", "document_id", id, "owner_id", out.OwnerID, "status", to)
	return out, nil
}

// Status reports the state of the owner's latest submission
func (s *Service) Status(ctx context.Context, ownerID string) (Status, error) {
	doc, err := s.store.Latest(ctx, ownerID)
	if errors.Is(err, ErrNotFound) {
		return StatusNone, nil
	}
	if err != nil {
		return "", err
	}
	return doc.Status, nil
}

// ListPending returns the review queue, oldest first
func (s *Service) ListPending(ctx context.Context, limit int) ([]*Document, error) {
	if limit <= 0 {
		limit = DefaultPendingLimit
	}
	return s.store.ListPending(ctx, limit)
}

// Purge deletes every submission of the owner
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
		s.logger.Info("documents purged", "owner_id", ownerID, "rows", n)
		return nil
	})
}
