// Package inbox records which events a consumer has already applied.
package inbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"bankflow/internal/common/database"
)

// MarkProcessed records (consumer, eventID) inside the caller's transaction.
// It returns false when the pair was already recorded, in which case the
// caller must skip its mutation. A concurrent transaction inserting the same
// pair blocks here until the first one commits or rolls back.
func MarkProcessed(ctx context.Context, q database.Querier, consumer, eventID string) (bool, error) {
	tag, err := q.Exec(ctx, `
		INSERT INTO processed_events (consumer, event_id, processed_at)
		VALUES ($1, $2, now())
		ON CONFLICT (consumer, event_id) DO NOTHING
	`, consumer, eventID)
	if err != nil {
		return false, fmt.Errorf("recording processed event %s for %s: %w", eventID, consumer, err)
	}
	return tag.RowsAffected() == 1, nil
}

// DeleteBefore drops records processed before the cutoff.
func DeleteBefore(ctx context.Context, q database.Querier, before time.Time) (int64, error) {
	tag, err := q.Exec(ctx, `DELETE FROM processed_events WHERE processed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("deleting processed events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// MarkDeleted records that consumer purged ownerID. Only a digest of the id
// is stored.
func MarkDeleted(ctx context.Context, q database.Querier, consumer, ownerID string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO deleted_owners (consumer, owner_digest, deleted_at)
		VALUES ($1, $2, now())
		ON CONFLICT (consumer, owner_digest) DO NOTHING
	`, consumer, OwnerDigest(ownerID))
	if err != nil {
		return fmt.Errorf("recording deleted owner for %s: %w", consumer, err)
	}
	return nil
}

// IsDeleted reports whether consumer already purged ownerID.
func IsDeleted(ctx context.Context, q database.Querier, consumer, ownerID string) (bool, error) {
	var deleted bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM deleted_owners WHERE consumer = $1 AND owner_digest = $2)
	`, consumer, OwnerDigest(ownerID)).Scan(&deleted)
	if err != nil {
		return false, fmt.Errorf("checking deleted owner for %s: %w", consumer, err)
	}
	return deleted, nil
}

// OwnerDigest is the hex sha256 of ownerID
func OwnerDigest(ownerID string) string {
	sum := sha256.Sum256([]byte(ownerID))
	return hex.EncodeToString(sum[:])
}
