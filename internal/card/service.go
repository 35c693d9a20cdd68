package card

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"bankflow/internal/common/events"
)

const (
	// Group is the card stage's consumer group
	Group = "card"

	debitConsumer = "card-credit-debit"
)

var errInsufficient = errors.New("insufficient credit")

// Service applies card lifecycle events and serves card operations
type Service struct {
	store  Store
	gen    Generator
	now    func() time.Time
	logger *slog.Logger
}

// NewService creates a new card service
func NewService(store Store, gen Generator, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		gen:    gen,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger,
	}
}

// once applies fn at most once per event. A redelivered event commits nothing.
func (s *Service) once(ctx context.Context, evt *events.Event, fn func(tx Tx) error) error {
	return s.store.InTx(ctx, func(tx Tx) error {
		fresh, err := tx.MarkProcessed(ctx, Group, evt.ID)
		if err != nil {
			return err
		}
		if !fresh {
			s.logger.Debug("duplicate delivery skipped", "event_id", evt.ID, "topic", evt.Topic)
			return nil
		}
		return fn(tx)
	})
}

func (s *Service) notify(ctx context.Context, tx Tx, topic events.Topic, ownerID string) error {
	evt, err := events.NewEvent(ctx, topic, ownerID, events.OwnerNotice{OwnerID: ownerID})
	if err != nil {
		return err
	}
	return tx.Enqueue(ctx, evt)
}

// ApplyApproval issues a card for a first approval and reactivates a blocked
// or canceled one. An approved card is left alone and nobody is notified.
func (s *Service) ApplyApproval(ctx context.Context, evt *events.Event, d events.CardDecision) error {
	return s.once(ctx, evt, func(tx Tx) error {
		now := s.now()

		existing, err := tx.GetForUpdate(ctx, d.OwnerID)
		switch {
		case errors.Is(err, ErrNotFound):
			deleted, err := tx.IsDeleted(ctx, d.OwnerID)
			if err != nil {
				return err
			}
			if deleted {
				s.logger.Info("approval for deleted owner skipped", "owner_id", d.OwnerID, "event_id", evt.ID)
				return nil
			}
			creds, err := s.gen.Generate(now)
			if err != nil {
				return err
			}
			c := &Card{
				ID:         ulid.Make().String(),
				OwnerID:    d.OwnerID,
				FullName:   d.FullName,
				NationalID: d.NationalID,
				TaxID:      d.TaxID,
				Number:     creds.Number,
				Expiry:     creds.Expiry,
				CVV:        creds.CVV,
				Kind:       KindDebit,
				Status:     StatusApproved,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := tx.Insert(ctx, c); err != nil {
				return err
			}
			s.logger.Info("card issued", "owner_id", d.OwnerID, "card_id", c.ID)
		case err != nil:
			return err
		default:
			if !existing.Reactivate(now) {
				s.logger.Info("card already approved", "owner_id", d.OwnerID)
				return nil
			}
			if err := tx.Update(ctx, existing); err != nil {
				return err
			}
			s.logger.Info("card reactivated", "owner_id", d.OwnerID, "card_id", existing.ID)
		}

		return s.notify(ctx, tx, events.TopicNotificationCardApproved, d.OwnerID)
	})
}

// ApplyCancellation cancels an approved card
func (s *Service) ApplyCancellation(ctx context.Context, evt *events.Event, d events.CardDecision) error {
	return s.once(ctx, evt, func(tx Tx) error {
		c, err := tx.GetForUpdate(ctx, d.OwnerID)
		if errors.Is(err, ErrNotFound) {
			s.logger.Info("cancellation for owner without card", "owner_id", d.OwnerID)
			return nil
		}
		if err != nil {
			return err
		}

		if !c.Cancel(s.now()) {
			return nil
		}
		if err := tx.Update(ctx, c); err != nil {
			return err
		}
		s.logger.Info("card canceled", "owner_id", d.OwnerID, "card_id", c.ID)
		return s.notify(ctx, tx, events.TopicNotificationCardCanceled, d.OwnerID)
	})
}

// ApplyLimitApproved grants a credit line of 30% of the declared income. A
// missing card is an error so the event is redelivered once the card exists.
func (s *Service) ApplyLimitApproved(ctx context.Context, evt *events.Event, d events.LimitApproved) error {
	return s.once(ctx, evt, func(tx Tx) error {
		c, err := tx.GetForUpdate(ctx, d.OwnerID)
		if err != nil {
			return fmt.Errorf("granting limit to %s: %w", d.OwnerID, err)
		}

		c.GrantLimit(d.Income, s.now())
		if err := tx.Update(ctx, c); err != nil {
			return err
		}
		s.logger.Info("credit limit granted", "owner_id", d.OwnerID, "limit", c.CreditLimit.String())
		return s.notify(ctx, tx, events.TopicNotificationLimitApproved, d.OwnerID)
	})
}

// ApplyLimitRejected removes the credit line
func (s *Service) ApplyLimitRejected(ctx context.Context, evt *events.Event, d events.LimitRejected) error {
	return s.once(ctx, evt, func(tx Tx) error {
		c, err := tx.GetForUpdate(ctx, d.OwnerID)
		if errors.Is(err, ErrNotFound) {
			// nothing to revoke; the owner still hears about the decision
			return s.notify(ctx, tx, events.TopicNotificationLimitRejected, d.OwnerID)
		}
		if err != nil {
			return err
		}

		c.RevokeLimit(s.now())
		if err := tx.Update(ctx, c); err != nil {
			return err
		}
		s.logger.Info("credit limit revoked", "owner_id", d.OwnerID)
		return s.notify(ctx, tx, events.TopicNotificationLimitRejected, d.OwnerID)
	})
}

// ApplySettlement restores a settled amount to the credit line
func (s *Service) ApplySettlement(ctx context.Context, evt *events.Event, d events.CreditSettled) error {
	return s.once(ctx, evt, func(tx Tx) error {
		c, err := tx.GetForUpdate(ctx, d.OwnerID)
		if err != nil {
			return fmt.Errorf("settling credit for %s: %w", d.OwnerID, err)
		}

		c.Settle(d.Amount, s.now())
		if err := tx.Update(ctx, c); err != nil {
			return err
		}
		s.logger.Info("credit settled",
			"owner_id", d.OwnerID,
			"payment_id", d.PaymentID,
			"amount", d.Amount.String(),
		)
		return nil
	})
}

// Purge deletes every card the owner holds and tombstones the owner
func (s *Service) Purge(ctx context.Context, evt *events.Event, ownerID string) error {
	return s.once(ctx, evt, func(tx Tx) error {
		n, err := tx.DeleteByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		if err := tx.MarkDeleted(ctx, ownerID); err != nil {
			return err
		}
		s.logger.Info("cards purged", "owner_id", ownerID, "rows", n)
		return nil
	})
}

// Toggle blocks an approved card or unblocks a blocked one
func (s *Service) Toggle(ctx context.Context, ownerID string) (*Card, error) {
	var out *Card
	err := s.store.InTx(ctx, func(tx Tx) error {
		c, err := tx.GetForUpdate(ctx, ownerID)
		if err != nil {
			return err
		}
		if err := c.Toggle(s.now()); err != nil {
			return err
		}
		if err := tx.Update(ctx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("card toggled", "owner_id", ownerID, "status", out.Status)
	return out, nil
}

// DebitCredit charges amount plus fee to the owner's credit line. reference
// identifies the payment; a repeated reference that already succeeded
// reports OK again without charging twice.
func (s *Service) DebitCredit(ctx context.Context, ownerID string, amount decimal.Decimal, reference string) (DebitOutcome, error) {
	outcome := DebitOK
	err := s.store.InTx(ctx, func(tx Tx) error {
		if reference != "" {
			fresh, err := tx.MarkProcessed(ctx, debitConsumer, reference)
			if err != nil {
				return err
			}
			if !fresh {
				return nil
			}
		}

		c, err := tx.GetForUpdate(ctx, ownerID)
		if err != nil {
			return err
		}

		outcome = c.Debit(amount, s.now())
		if outcome != DebitOK {
			// roll back the reference so a later retry can still succeed
			return errInsufficient
		}
		return tx.Update(ctx, c)
	})

	switch {
	case errors.Is(err, ErrNotFound):
		return DebitNotFound, nil
	case errors.Is(err, errInsufficient):
		return outcome, nil
	case err != nil:
		return "", err
	}

	s.logger.Info("credit debited", "owner_id", ownerID, "amount", amount.String(), "reference", reference)
	return DebitOK, nil
}

// Status reports the card state, EMPTY when the owner has none
func (s *Service) Status(ctx context.Context, ownerID string) (Status, error) {
	c, err := s.store.Get(ctx, ownerID)
	if errors.Is(err, ErrNotFound) {
		return StatusEmpty, nil
	}
	if err != nil {
		return "", err
	}
	return c.Status, nil
}

// Get returns the owner's card
func (s *Service) Get(ctx context.Context, ownerID string) (*Card, error) {
	return s.store.Get(ctx, ownerID)
}
