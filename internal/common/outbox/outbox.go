// Package outbox stores events in the producer's transaction and relays them
// to the bus after commit.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"bankflow/internal/common/database"
	"bankflow/internal/common/events"
	"bankflow/internal/common/inbox"
)

// Config holds relay configuration
type Config struct {
	PollInterval time.Duration `envconfig:"OUTBOX_POLL_INTERVAL" default:"500ms"`
	BatchSize    int           `envconfig:"OUTBOX_BATCH_SIZE" default:"100"`

	// Published entries older than Retention are deleted. Processed-event
	// records are kept for InboxRetention, which must outlast the bus's
	// redelivery window or a late redelivery would be applied twice.
	Retention      time.Duration `envconfig:"OUTBOX_RETENTION" default:"72h"`
	InboxRetention time.Duration `envconfig:"INBOX_RETENTION" default:"336h"`
	SweepInterval  time.Duration `envconfig:"OUTBOX_SWEEP_INTERVAL" default:"10m"`
}

// Enqueue writes evt to the outbox inside the caller's transaction.
func Enqueue(ctx context.Context, q database.Querier, evt *events.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshaling outbox event: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO outbox_events (id, topic, owner_id, payload, created_at, attempts)
		VALUES ($1, $2, $3, $4, $5, 0)
	`, evt.ID, evt.Topic, evt.OwnerID, payload, evt.OccurredAt)
	if err != nil {
		return fmt.Errorf("enqueueing %s event: %w", evt.Topic, err)
	}
	return nil
}

// PostgresStore drains the outbox table
type PostgresStore struct {
	db *database.DB
}

// NewPostgresStore creates a new outbox store
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Drain locks up to limit unpublished entries, oldest first, and hands the
// decoded events to deliver. deliver reports how many leading events it
// published; those are stamped published and the next one, if deliver
// failed on it, gets its attempt count and error recorded. Rows locked by
// another relay are skipped.
func (s *PostgresStore) Drain(ctx context.Context, limit int, deliver func([]*events.Event) (int, error)) (int, error) {
	var published int
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, payload
			FROM outbox_events
			WHERE published_at IS NULL
			ORDER BY created_at, id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		`, limit)
		if err != nil {
			return fmt.Errorf("selecting outbox batch: %w", err)
		}

		var batch []*events.Event
		for rows.Next() {
			var id string
			var payload []byte
			if err := rows.Scan(&id, &payload); err != nil {
				rows.Close()
				return fmt.Errorf("scanning outbox entry: %w", err)
			}
			var evt events.Event
			if err := json.Unmarshal(payload, &evt); err != nil {
				rows.Close()
				return fmt.Errorf("decoding outbox entry %s: %w", id, err)
			}
			batch = append(batch, &evt)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		n, deliverErr := deliver(batch)
		if n > 0 {
			ids := make([]string, n)
			for i := 0; i < n; i++ {
				ids[i] = batch[i].ID
			}
			if _, err := tx.Exec(ctx, `
				UPDATE outbox_events
				SET published_at = now(), attempts = attempts + 1, last_error = NULL
				WHERE id = ANY($1)
			`, ids); err != nil {
				return fmt.Errorf("marking outbox entries published: %w", err)
			}
		}
		if deliverErr != nil && n < len(batch) {
			if _, err := tx.Exec(ctx, `
				UPDATE outbox_events SET attempts = attempts + 1, last_error = $2 WHERE id = $1
			`, batch[n].ID, deliverErr.Error()); err != nil {
				return fmt.Errorf("recording outbox failure: %w", err)
			}
		}
		published = n
		return nil
	})
	return published, err
}

// DeletePublished removes entries published before the cutoff.
func (s *PostgresStore) DeletePublished(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM outbox_events WHERE published_at IS NOT NULL AND published_at < $1
	`, before)
	if err != nil {
		return 0, fmt.Errorf("deleting published outbox entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteProcessed removes processed-event records older than the cutoff.
func (s *PostgresStore) DeleteProcessed(ctx context.Context, before time.Time) (int64, error) {
	return inbox.DeleteBefore(ctx, s.db, before)
}

// ForgetOwner removes the owner's published entries. Unpublished ones are
// left for the relay and go with the next retention sweep.
func (s *PostgresStore) ForgetOwner(ctx context.Context, ownerID string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM outbox_events WHERE owner_id = $1 AND published_at IS NOT NULL
	`, ownerID)
	if err != nil {
		return 0, fmt.Errorf("deleting outbox entries of %s: %w", ownerID, err)
	}
	return tag.RowsAffected(), nil
}
