package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"bankflow/internal/common/database"
	"bankflow/internal/common/events"
	"bankflow/internal/common/inbox"
	"bankflow/internal/common/outbox"
)

// Store is the wallet stage's persistence
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Get(ctx context.Context, ownerID string) (*Wallet, error)
	// ListPayments returns the owner's legs in one direction, newest first.
	ListPayments(ctx context.Context, ownerID string, direction Direction, limit int) ([]*Payment, error)
}

// Tx is the set of operations available inside a wallet transaction
type Tx interface {
	MarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	// InsertWallet creates w unless the owner already has a wallet.
	InsertWallet(ctx context.Context, w *Wallet) (bool, error)
	// GetForUpdate loads and row-locks the owner's wallet.
	GetForUpdate(ctx context.Context, ownerID string) (*Wallet, error)
	UpdateBalance(ctx context.Context, w *Wallet) error
	InsertPayment(ctx context.Context, p *Payment) error
	// DeleteByOwner removes the wallet and every payment leg the owner holds.
	DeleteByOwner(ctx context.Context, ownerID string) (int64, error)
	// MarkDeleted tombstones the owner so later creation events are skipped.
	MarkDeleted(ctx context.Context, ownerID string) error
	IsDeleted(ctx context.Context, ownerID string) (bool, error)
	Enqueue(ctx context.Context, evt *events.Event) error
}

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new PostgreSQL store.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// InTx runs fn in a transaction
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

// Get retrieves the owner's wallet
func (s *PostgresStore) Get(ctx context.Context, ownerID string) (*Wallet, error) {
	row := s.db.QueryRow(ctx, `SELECT owner_id, balance, created_at, updated_at FROM wallets WHERE owner_id = $1`, ownerID)
	return scanWallet(row)
}

// ListPayments lists payment legs
func (s *PostgresStore) ListPayments(ctx context.Context, ownerID string, direction Direction, limit int) ([]*Payment, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, owner_id, sender_id, receiver_id, amount, method, direction, reference, created_at
		FROM payments
		WHERE owner_id = $1 AND direction = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, ownerID, direction, limit)
	if err != nil {
		return nil, fmt.Errorf("listing payments: %w", err)
	}
	defer rows.Close()

	var out []*Payment
	for rows.Next() {
		var p Payment
		var receiverID *string
		if err := rows.Scan(
			&p.ID, &p.OwnerID, &p.SenderID, &receiverID, &p.Amount, &p.Method, &p.Direction, &p.Reference, &p.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning payment: %w", err)
		}
		if receiverID != nil {
			p.ReceiverID = *receiverID
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) MarkProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	return inbox.MarkProcessed(ctx, t.tx, consumer, eventID)
}

func (t *pgTx) MarkDeleted(ctx context.Context, ownerID string) error {
	return inbox.MarkDeleted(ctx, t.tx, Group, ownerID)
}

func (t *pgTx) IsDeleted(ctx context.Context, ownerID string) (bool, error) {
	return inbox.IsDeleted(ctx, t.tx, Group, ownerID)
}

func (t *pgTx) Enqueue(ctx context.Context, evt *events.Event) error {
	return outbox.Enqueue(ctx, t.tx, evt)
}

func (t *pgTx) InsertWallet(ctx context.Context, w *Wallet) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO wallets (owner_id, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id) DO NOTHING
	`, w.OwnerID, w.Balance, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("inserting wallet: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) GetForUpdate(ctx context.Context, ownerID string) (*Wallet, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT owner_id, balance, created_at, updated_at FROM wallets WHERE owner_id = $1 FOR UPDATE
	`, ownerID)
	return scanWallet(row)
}

func (t *pgTx) UpdateBalance(ctx context.Context, w *Wallet) error {
	tag, err := t.tx.Exec(ctx, `UPDATE wallets SET balance = $2, updated_at = $3 WHERE owner_id = $1`,
		w.OwnerID, w.Balance, w.UpdatedAt)
	if err != nil {
		if database.IsCheckViolation(err) {
			return ErrInsufficientFunds
		}
		return fmt.Errorf("updating balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("wallet %s: %w", w.OwnerID, ErrNotFound)
	}
	return nil
}

func (t *pgTx) InsertPayment(ctx context.Context, p *Payment) error {
	var receiverID *string
	if p.ReceiverID != "" {
		receiverID = &p.ReceiverID
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payments (id, owner_id, sender_id, receiver_id, amount, method, direction, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, p.ID, p.OwnerID, p.SenderID, receiverID, p.Amount, p.Method, p.Direction, p.Reference, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting payment: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteByOwner(ctx context.Context, ownerID string) (int64, error) {
	payments, err := t.tx.Exec(ctx, `DELETE FROM payments WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("deleting payments: %w", err)
	}
	wallets, err := t.tx.Exec(ctx, `DELETE FROM wallets WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("deleting wallet: %w", err)
	}
	return payments.RowsAffected() + wallets.RowsAffected(), nil
}

func scanWallet(row pgx.Row) (*Wallet, error) {
	var w Wallet
	if err := row.Scan(&w.OwnerID, &w.Balance, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("wallet: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("scanning wallet: %w", err)
	}
	return &w, nil
}
