// Package registration emits the account events of the user lifecycle:
// email verification, document submissions and account deletion.
package registration

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"bankflow/internal/common/database"
	"bankflow/internal/common/events"
	"bankflow/internal/common/outbox"
)

// ErrInvalidSubmission is returned for a submission that cannot be reviewed
var ErrInvalidSubmission = errors.New("invalid submission")

// Outbox stores events for the relay
type Outbox interface {
	// Emit stores evts atomically.
	Emit(ctx context.Context, evts ...*events.Event) error
}

// PostgresOutbox implements Outbox using PostgreSQL.
type PostgresOutbox struct {
	db *database.DB
}

// NewPostgresOutbox creates a new PostgreSQL outbox.
func NewPostgresOutbox(db *database.DB) *PostgresOutbox {
	return &PostgresOutbox{db: db}
}

// Emit enqueues evts in one transaction
func (o *PostgresOutbox) Emit(ctx context.Context, evts ...*events.Event) error {
	return o.db.WithTx(ctx, func(tx pgx.Tx) error {
		for _, evt := range evts {
			if err := outbox.Enqueue(ctx, tx, evt); err != nil {
				return err
			}
		}
		return nil
	})
}

// Service publishes registration events
type Service struct {
	outbox Outbox
	logger *slog.Logger
}

// NewService creates a new registration service
func NewService(outbox Outbox, logger *slog.Logger) *Service {
	return &Service{outbox: outbox, logger: logger}
}

// VerifyEmail opens the owner's wallet and welcomes them
func (s *Service) VerifyEmail(ctx context.Context, ownerID, fullName string) error {
	wallet, err := events.NewEvent(ctx, events.TopicCreationWallet, ownerID, events.WalletRequested{OwnerID: ownerID})
	if err != nil {
		return err
	}
	welcome, err := events.NewEvent(ctx, events.TopicWelcome, ownerID, events.Welcome{OwnerID: ownerID, FullName: fullName})
	if err != nil {
		return err
	}
	if err := s.outbox.Emit(ctx, wallet, welcome); err != nil {
		return err
	}

	s.logger.Info("email verified", "owner_id", ownerID)
	return nil
}

// SubmitDocuments sends the account-opening documents to review
func (s *Service) SubmitDocuments(ctx context.Context, d events.DocumentsSubmitted) error {
	evt, err := events.NewEvent(ctx, events.TopicDocumentsAnalysis, d.OwnerID, d)
	if err != nil {
		return err
	}
	if err := s.outbox.Emit(ctx, evt); err != nil {
		return err
	}

	s.logger.Info("documents sent to review", "owner_id", d.OwnerID)
	return nil
}

// SubmitCreditDocuments sends a credit-line application to review
func (s *Service) SubmitCreditDocuments(ctx context.Context, d events.CreditDocumentsSubmitted) error {
	if !d.Income.IsPositive() {
		return ErrInvalidSubmission
	}

	evt, err := events.NewEvent(ctx, events.TopicCreditDocumentsAnalysis, d.OwnerID, d)
	if err != nil {
		return err
	}
	if err := s.outbox.Emit(ctx, evt); err != nil {
		return err
	}

	s.logger.Info("credit documents sent to review", "owner_id", d.OwnerID)
	return nil
}

// DeleteAccount asks every stage to forget the owner
func (s *Service) DeleteAccount(ctx context.Context, ownerID string) error {
	evt, err := events.NewEvent(ctx, events.TopicDeleteUser, ownerID, events.AccountDeleted{OwnerID: ownerID})
	if err != nil {
		return err
	}
	if err := s.outbox.Emit(ctx, evt); err != nil {
		return err
	}

	s.logger.Info("account deletion requested", "owner_id", ownerID)
	return nil
}
