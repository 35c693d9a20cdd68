package credit

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

// Store is the credit stage's persistence
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	Latest(ctx context.Context, ownerID string) (*Application, error)
	ListPending(ctx context.Context, limit int) ([]*Application, error)
}

// Tx is the set of operations available inside a credit transaction
type Tx interface {
	MarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	InsertPending(ctx context.Context, a *Application) (bool, error)
	GetForUpdate(ctx context.Context, id string) (*Application, error)
	UpdateStatus(ctx context.Context, a *Application) error
	DeleteByOwner(ctx context.Context, ownerID string) (int64, error)
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

const applicationColumns = `
	id, owner_id, full_name, tax_id, birth_date, occupation, income, income_proof,
	status, created_at, updated_at
`

// Latest retrieves the owner's newest application
func (s *PostgresStore) Latest(ctx context.Context, ownerID string) (*Application, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+applicationColumns+`
		FROM credit_documents
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, ownerID)
	return scanApplication(row)
}

// ListPending returns pending applications, oldest first
func (s *PostgresStore) ListPending(ctx context.Context, limit int) ([]*Application, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+applicationColumns+`
		FROM credit_documents
		WHERE status = 'PENDING'
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending applications: %w", err)
	}
	defer rows.Close()

	var out []*Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) MarkProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	return inbox.MarkProcessed(ctx, t.tx, consumer, eventID)
}

func (t *pgTx) Enqueue(ctx context.Context, evt *events.Event) error {
	return outbox.Enqueue(ctx, t.tx, evt)
}

func (t *pgTx) InsertPending(ctx context.Context, a *Application) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO credit_documents (`+applicationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (owner_id) WHERE status = 'PENDING' DO NOTHING
	`,
		a.ID, a.OwnerID, a.FullName, a.TaxID, a.BirthDate, a.Occupation, a.Income, a.IncomeProof,
		a.Status, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if database.IsCheckViolation(err) {
			return false, fmt.Errorf("application for %s: %w", a.OwnerID, database.ErrConflict)
		}
		return false, fmt.Errorf("inserting credit application: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) GetForUpdate(ctx context.Context, id string) (*Application, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+applicationColumns+` FROM credit_documents WHERE id = $1 FOR UPDATE`, id)
	return scanApplication(row)
}

func (t *pgTx) UpdateStatus(ctx context.Context, a *Application) error {
	tag, err := t.tx.Exec(ctx, `UPDATE credit_documents SET status = $2, updated_at = $3 WHERE id = $1`,
		a.ID, a.Status, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating application status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteByOwner(ctx context.Context, ownerID string) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM credit_documents WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("deleting credit applications: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanApplication(row pgx.Row) (*Application, error) {
	var a Application
	err := row.Scan(
		&a.ID, &a.OwnerID, &a.FullName, &a.TaxID, &a.BirthDate, &a.Occupation, &a.Income, &a.IncomeProof,
		&a.Status, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning credit application: %w", err)
	}
	return &a, nil
}
