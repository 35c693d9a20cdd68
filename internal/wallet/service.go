package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"bankflow/internal/card"
	"bankflow/internal/common/events"
	"bankflow/internal/common/metrics"
	"bankflow/internal/common/money"
	"bankflow/internal/identity"
)

// Group is the wallet stage's consumer group
const Group = "wallet"

const defaultListLimit = 50

// CardLedger debits the sender's credit line. reference makes the call safe
// to repeat.
type CardLedger interface {
	DebitCredit(ctx context.Context, ownerID string, amount decimal.Decimal, reference string) (card.DebitOutcome, error)
}

// Resolver finds the customer behind a payment key
type Resolver interface {
	FindIdentity(ctx context.Context, key string) (*identity.Identity, error)
}

// PayRequest is a payment order from the sender
type PayRequest struct {
	Key    string          `json:"key"`
	Amount decimal.Decimal `json:"amount"`
	Method Method          `json:"method"`
}

// Service owns wallets and payments
type Service struct {
	store     Store
	cards     CardLedger
	directory Resolver
	now       func() time.Time
	logger    *slog.Logger
}

// NewService creates a new wallet service
func NewService(store Store, cards CardLedger, directory Resolver, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		cards:     cards,
		directory: directory,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger,
	}
}

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

// CreateWallet opens the owner's wallet with the opening bonus. An existing
// wallet is never recreated, and neither is a purged one.
func (s *Service) CreateWallet(ctx context.Context, evt *events.Event, ownerID string) error {
	return s.once(ctx, evt, func(tx Tx) error {
		deleted, err := tx.IsDeleted(ctx, ownerID)
		if err != nil {
			return err
		}
		if deleted {
			s.logger.Info("wallet creation for deleted owner skipped", "owner_id", ownerID, "event_id", evt.ID)
			return nil
		}

		now := s.now()
		created, err := tx.InsertWallet(ctx, &Wallet{
			OwnerID:   ownerID,
			Balance:   money.OpeningBonus,
			CreatedAt: now,
			UpdatedAt: now,
		})
		if err != nil {
			return err
		}
		if created {
			s.logger.Info("wallet created", "owner_id", ownerID, "balance", money.Format(money.OpeningBonus))
		}
		return nil
	})
}

// Pay sends req.Amount from senderID to the owner behind req.Key. A credit
// line payment is debited on the card before anything is written here.
func (s *Service) Pay(ctx context.Context, senderID string, req PayRequest) (*Payment, error) {
	p, err := s.pay(ctx, senderID, req)
	metrics.Payments.WithLabelValues(string(req.Method), paymentOutcome(err)).Inc()
	return p, err
}

func (s *Service) pay(ctx context.Context, senderID string, req PayRequest) (*Payment, error) {
	key := strings.TrimSpace(req.Key)
	if key == "" {
		return nil, fmt.Errorf("%w: payment key is required", ErrInvalidPayment)
	}
	if err := money.ValidateAmount(req.Amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayment, err)
	}
	if !req.Method.Valid() {
		return nil, fmt.Errorf("%w: unknown method %q", ErrInvalidPayment, req.Method)
	}

	if _, err := s.store.Get(ctx, senderID); err != nil {
		return nil, fmt.Errorf("sender %w", err)
	}
	sender, err := s.lookup(ctx, senderID)
	if err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	receiver, err := s.lookup(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("receiver: %w", err)
	}
	if receiver.OwnerID == senderID {
		return nil, fmt.Errorf("%w: cannot pay yourself", ErrInvalidPayment)
	}
	if _, err := s.store.Get(ctx, receiver.OwnerID); err != nil {
		return nil, fmt.Errorf("receiver %w", err)
	}

	payment := &Payment{
		ID:         ulid.Make().String(),
		OwnerID:    senderID,
		SenderID:   senderID,
		ReceiverID: receiver.OwnerID,
		Amount:     req.Amount,
		Method:     req.Method,
		Direction:  DirectionSent,
		CreatedAt:  s.now(),
	}

	if req.Method == MethodCreditLine {
		outcome, err := s.cards.DebitCredit(ctx, senderID, req.Amount, payment.ID)
		if err != nil {
			return nil, fmt.Errorf("debiting credit line: %w", err)
		}
		switch outcome {
		case card.DebitInsufficient:
			return nil, ErrInsufficientFunds
		case card.DebitNotFound:
			return nil, fmt.Errorf("card: %w", ErrNotFound)
		}
	}

	err = s.store.InTx(ctx, func(tx Tx) error {
		if req.Method == MethodInstantTransfer {
			w, err := tx.GetForUpdate(ctx, senderID)
			if err != nil {
				return err
			}
			if err := w.Debit(req.Amount, payment.CreatedAt); err != nil {
				return err
			}
			if err := tx.UpdateBalance(ctx, w); err != nil {
				return err
			}
		}

		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}
		evt, err := events.NewEvent(ctx, events.TopicReceivePayment, receiver.OwnerID, events.PaymentSent{
			PaymentID:  payment.ID,
			SenderID:   senderID,
			SenderName: sender.FullName,
			ReceiverID: receiver.OwnerID,
			Amount:     req.Amount,
			Method:     string(req.Method),
		})
		if err != nil {
			return err
		}
		return tx.Enqueue(ctx, evt)
	})
	if err != nil {
		if req.Method == MethodCreditLine {
			s.logger.Error("credit line debited but payment not recorded",
				"payment_id", payment.ID,
				"sender_id", senderID,
				"amount", req.Amount.String(),
				"error", err,
			)
		}
		return nil, err
	}

	s.logger.Info("payment sent",
		"payment_id", payment.ID,
		"sender_id", senderID,
		"receiver_id", receiver.OwnerID,
		"method", req.Method,
		"amount", req.Amount.String(),
	)
	return payment, nil
}

func (s *Service) lookup(ctx context.Context, key string) (*identity.Identity, error) {
	id, err := s.directory.FindIdentity(ctx, key)
	if errors.Is(err, identity.ErrNotFound) {
		return nil, fmt.Errorf("identity %q: %w", key, ErrNotFound)
	}
	return id, err
}

func paymentOutcome(err error) string {
	switch {
	case err == nil:
		return "sent"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidPayment):
		return "invalid"
	default:
		return "error"
	}
}

// OnReceivePayment credits the receiver and records the RECEIVED leg.
func (s *Service) OnReceivePayment(ctx context.Context, evt *events.Event, d events.PaymentSent) error {
	return s.once(ctx, evt, func(tx Tx) error {
		now := s.now()

		w, err := tx.GetForUpdate(ctx, d.ReceiverID)
		if err != nil {
			return fmt.Errorf("crediting payment %s: %w", d.PaymentID, err)
		}
		w.Credit(d.Amount, now)
		if err := tx.UpdateBalance(ctx, w); err != nil {
			return err
		}

		if err := tx.InsertPayment(ctx, &Payment{
			ID:         ulid.Make().String(),
			OwnerID:    d.ReceiverID,
			SenderID:   d.SenderID,
			ReceiverID: d.ReceiverID,
			Amount:     d.Amount,
			Method:     Method(d.Method),
			Direction:  DirectionReceived,
			Reference:  d.PaymentID,
			CreatedAt:  now,
		}); err != nil {
			return err
		}

		notice, err := events.NewEvent(ctx, events.TopicNotificationReceivePayment, d.ReceiverID, events.PaymentReceivedNotice{
			OwnerID:    d.ReceiverID,
			SenderName: d.SenderName,
			Amount:     d.Amount,
		})
		if err != nil {
			return err
		}

		s.logger.Info("payment received", "payment_id", d.PaymentID, "receiver_id", d.ReceiverID, "amount", d.Amount.String())
		return tx.Enqueue(ctx, notice)
	})
}

// SettleCredit pays amount of the owner's credit line from the balance
func (s *Service) SettleCredit(ctx context.Context, ownerID string, amount decimal.Decimal) (*Payment, error) {
	if err := money.ValidateAmount(amount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayment, err)
	}

	payment := &Payment{
		ID:        ulid.Make().String(),
		OwnerID:   ownerID,
		SenderID:  ownerID,
		Amount:    amount,
		Method:    MethodInstantTransfer,
		Direction: DirectionSent,
		CreatedAt: s.now(),
	}

	err := s.store.InTx(ctx, func(tx Tx) error {
		w, err := tx.GetForUpdate(ctx, ownerID)
		if err != nil {
			return err
		}
		if err := w.Debit(amount, payment.CreatedAt); err != nil {
			return err
		}
		if err := tx.UpdateBalance(ctx, w); err != nil {
			return err
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}

		evt, err := events.NewEvent(ctx, events.TopicPaymentLimitCard, ownerID, events.CreditSettled{
			OwnerID:   ownerID,
			PaymentID: payment.ID,
			Amount:    amount,
		})
		if err != nil {
			return err
		}
		return tx.Enqueue(ctx, evt)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("credit settled from balance", "owner_id", ownerID, "payment_id", payment.ID, "amount", amount.String())
	return payment, nil
}

// Balance returns the owner's wallet
func (s *Service) Balance(ctx context.Context, ownerID string) (*Wallet, error) {
	return s.store.Get(ctx, ownerID)
}

// ListSent returns the owner's sent legs, newest first
func (s *Service) ListSent(ctx context.Context, ownerID string, limit int) ([]*Payment, error) {
	return s.list(ctx, ownerID, DirectionSent, limit)
}

// ListReceived returns the owner's received legs, newest first
func (s *Service) ListReceived(ctx context.Context, ownerID string, limit int) ([]*Payment, error) {
	return s.list(ctx, ownerID, DirectionReceived, limit)
}

func (s *Service) list(ctx context.Context, ownerID string, direction Direction, limit int) ([]*Payment, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.store.ListPayments(ctx, ownerID, direction, limit)
}

// Purge deletes the owner's wallet and payment legs and tombstones the owner
func (s *Service) Purge(ctx context.Context, evt *events.Event, ownerID string) error {
	return s.once(ctx, evt, func(tx Tx) error {
		n, err := tx.DeleteByOwner(ctx, ownerID)
		if err != nil {
			return err
		}
		if err := tx.MarkDeleted(ctx, ownerID); err != nil {
			return err
		}
		s.logger.Info("wallet purged", "owner_id", ownerID, "rows", n)
		return nil
	})
}
