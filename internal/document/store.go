package document

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

// Store is the document stage's persistence
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	// Latest returns the owner's most recent submission.
	Latest(ctx context.Context, ownerID string) (*Document, error)
	ListPending(ctx context.Context, limit int) ([]*Document, error)
}

// Tx is the set of operations available inside a document transaction
type Tx interface {
	MarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	// InsertPending stores d unless the owner already has a pending
	// submission, reporting whether it was stored.
	InsertPending(ctx context.Context, d *Document) (bool, error)
	GetForUpdate(ctx context.Context, id string) (*Document, error)
	UpdateStatus(ctx context.Context, d *Document) error
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

const documentColumns = `
	id, owner_id, full_name, national_id, tax_id, address_proof, income_proof,
	status, created_at, updated_at
`

// Latest retrieves the owner's newest document
func (s *PostgresStore) Latest(ctx context.Context, ownerID string) (*Document, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, ownerID)
	return scanDocument(row)
}

// ListPending returns pending documents, oldest first
func (s *PostgresStore) ListPending(ctx context.Context, limit int) ([]*Document, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE status = 'PENDING'
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending documents: %w", err)
	}
	defer rows.Close()

	var out []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
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

func (t *pgTx) InsertPending(ctx context.Context, d *Document) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (owner_id) WHERE status = 'PENDING' DO NOTHING
	`,
		d.ID, d.OwnerID, d.FullName, d.NationalID, d.TaxID, d.AddressProof, d.IncomeProof,
		d.Status, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("inserting document: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) GetForUpdate(ctx context.Context, id string) (*Document, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1 FOR UPDATE`, id)
	return scanDocument(row)
}

func (t *pgTx) UpdateStatus(ctx context.Context, d *Document) error {
	tag, err := t.tx.Exec(ctx, `UPDATE documents SET status = $2, updated_at = $3 WHERE id = $1`,
		d.ID, d.Status, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("updating document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *pgTx) DeleteByOwner(ctx context.Context, ownerID string) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM documents WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("deleting documents: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanDocument(row pgx.Row) (*Document, error) {
	var d Document
	err := row.Scan(
		&d.ID, &d.OwnerID, &d.FullName, &d.NationalID, &d.TaxID, &d.AddressProof, &d.IncomeProof,
		&d.Status, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning document: %w", err)
	}
	return &d, nil
}
