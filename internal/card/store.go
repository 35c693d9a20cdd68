package card

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"bankflow/internal/common/database"
	"bankflow/internal/common/events"
	"bankflow/internal/common/inbox"
	"bankflow/internal/common/outbox"
)

// Store is the card stage's persistence
type Store interface {
	// InTx runs fn in one transaction; nothing fn did persists if it errors.
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Get(ctx context.Context, ownerID string) (*Card, error)
}

// Tx is the set of operations available inside a card transaction
type Tx interface {
	MarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	// GetForUpdate loads and row-locks the owner's card.
	GetForUpdate(ctx context.Context, ownerID string) (*Card, error)
	Insert(ctx context.Context, c *Card) error
	Update(ctx context.Context, c *Card) error
	DeleteByOwner(ctx context.Context, ownerID string) (int64, error)
	// MarkDeleted tombstones the owner so a late approval does not issue a
	// new card.
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

const cardColumns = `
	id, owner_id, full_name, national_id, tax_id, number, expiry, cvv,
	kind, status, credit_limit, created_at, updated_at
`

// Get retrieves the owner's card
func (s *PostgresStore) Get(ctx context.Context, ownerID string) (*Card, error) {
	row := s.db.QueryRow(ctx, `SELECT `+cardColumns+` FROM cards WHERE owner_id = $1`, ownerID)
	return scanCard(row)
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

func (t *pgTx) GetForUpdate(ctx context.Context, ownerID string) (*Card, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+cardColumns+` FROM cards WHERE owner_id = $1 FOR UPDATE`, ownerID)
	return scanCard(row)
}

func (t *pgTx) Insert(ctx context.Context, c *Card) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO cards (`+cardColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		c.ID, c.OwnerID, c.FullName, c.NationalID, c.TaxID, c.Number, c.Expiry, c.CVV,
		c.Kind, c.Status, nullDecimal(c.CreditLimit), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return fmt.Errorf("card for owner %s: %w", c.OwnerID, database.ErrAlreadyExists)
		}
		return fmt.Errorf("inserting card: %w", err)
	}
	return nil
}

func (t *pgTx) Update(ctx context.Context, c *Card) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE cards
		SET full_name = $2, national_id = $3, tax_id = $4,
		    kind = $5, status = $6, credit_limit = $7, updated_at = $8
		WHERE id = $1
	`, c.ID, c.FullName, c.NationalID, c.TaxID, c.Kind, c.Status, nullDecimal(c.CreditLimit), c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating card: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteByOwner(ctx context.Context, ownerID string) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM cards WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("deleting cards: %w", err)
	}
	return tag.RowsAffected(), nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func scanCard(row pgx.Row) (*Card, error) {
	var c Card
	var limit decimal.NullDecimal
	err := row.Scan(
		&c.ID, &c.OwnerID, &c.FullName, &c.NationalID, &c.TaxID, &c.Number, &c.Expiry, &c.CVV,
		&c.Kind, &c.Status, &limit, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning card: %w", err)
	}
	if limit.Valid {
		c.CreditLimit = &limit.Decimal
	}
	return &c, nil
}
