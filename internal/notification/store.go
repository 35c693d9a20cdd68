package notification

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"bankflow/internal/common/database"
	"bankflow/internal/common/inbox"
)

// Store is the notification stage's persistence
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	List(ctx context.Context, ownerID string, visible bool, limit int) ([]*Notification, error)
	CountUnviewed(ctx context.Context, ownerID string) (int, error)
	Hide(ctx context.Context, ownerID, id string) (bool, error)
	MarkAllViewed(ctx context.Context, ownerID string) (int64, error)
}

// Tx is the set of operations available inside a notification transaction
type Tx interface {
	MarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	Insert(ctx context.Context, n *Notification) error
	DeleteByOwner(ctx context.Context, ownerID string) (int64, error)
	MarkDeleted(ctx context.Context, ownerID string) error
	IsDeleted(ctx context.Context, ownerID string) (bool, error)
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

// List returns the owner's visible or hidden notifications, newest first
func (s *PostgresStore) List(ctx context.Context, ownerID string, visible bool, limit int) ([]*Notification, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, owner_id, message, viewed, visible, created_at
		FROM notifications
		WHERE owner_id = $1 AND visible = $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, ownerID, visible, limit)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.OwnerID, &n.Message, &n.Viewed, &n.Visible, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning notification: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}

// CountUnviewed counts visible notifications the owner has not seen
func (s *PostgresStore) CountUnviewed(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM notifications WHERE owner_id = $1 AND visible AND NOT viewed
	`, ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting notifications: %w", err)
	}
	return n, nil
}

// Hide hides one of the owner's notifications
func (s *PostgresStore) Hide(ctx context.Context, ownerID, id string) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE notifications SET visible = FALSE WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return false, fmt.Errorf("hiding notification: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkAllViewed marks every notification of the owner viewed
func (s *PostgresStore) MarkAllViewed(ctx context.Context, ownerID string) (int64, error) {
	tag, err := s.db.Exec(ctx, `UPDATE notifications SET viewed = TRUE WHERE owner_id = $1 AND NOT viewed`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("marking notifications viewed: %w", err)
	}
	return tag.RowsAffected(), nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) MarkProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	return inbox.MarkProcessed(ctx, t.tx, consumer, eventID)
}

func (t *pgTx) Insert(ctx context.Context, n *Notification) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO notifications (id, owner_id, message, viewed, visible, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, n.ID, n.OwnerID, n.Message, n.Viewed, n.Visible, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting notification: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteByOwner(ctx context.Context, ownerID string) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM notifications WHERE owner_id = $1`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("deleting notifications: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) MarkDeleted(ctx context.Context, ownerID string) error {
	return inbox.MarkDeleted(ctx, t.tx, Group, ownerID)
}

func (t *pgTx) IsDeleted(ctx context.Context, ownerID string) (bool, error) {
	return inbox.IsDeleted(ctx, t.tx, Group, ownerID)
}
