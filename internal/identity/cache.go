package identity

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"bankflow/internal/common/events"
)

const (
	lookupNamespace = "identity"
	ownerNamespace  = "identity-keys"
)

// Backend is the slice of the Redis cache the directory cache uses
type Backend interface {
	Get(ctx context.Context, namespace, key string) (string, bool, error)
	Set(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, namespace string, keys ...string) error
	AddToSet(ctx context.Context, namespace, key string, ttl time.Duration, members ...string) error
	SetMembers(ctx context.Context, namespace, key string) ([]string, error)
}

// CachedDirectory caches successful lookups. Each owner keeps a set of the
// keys cached for it so a deleted account can be evicted completely.
// Cache failures fall through to the directory.
type CachedDirectory struct {
	next    Directory
	backend Backend
	ttl     time.Duration
	logger  *slog.Logger
}

// NewCachedDirectory wraps next with a cache
func NewCachedDirectory(next Directory, backend Backend, ttl time.Duration, logger *slog.Logger) *CachedDirectory {
	return &CachedDirectory{next: next, backend: backend, ttl: ttl, logger: logger}
}

// FindIdentity serves key from cache when possible
func (d *CachedDirectory) FindIdentity(ctx context.Context, key string) (*Identity, error) {
	if raw, found, err := d.backend.Get(ctx, lookupNamespace, key); err == nil && found {
		var id Identity
		if err := json.Unmarshal([]byte(raw), &id); err == nil {
			return &id, nil
		}
	} else if err != nil {
		d.logger.Warn("identity cache read failed", "error", err)
	}

	id, err := d.next.FindIdentity(ctx, key)
	if err != nil {
		return nil, err
	}

	raw, _ := json.Marshal(id)
	if err := d.backend.Set(ctx, lookupNamespace, key, raw, d.ttl); err != nil {
		d.logger.Warn("identity cache write failed", "error", err)
		return id, nil
	}
	if err := d.backend.AddToSet(ctx, ownerNamespace, id.OwnerID, d.ttl, key); err != nil {
		d.logger.Warn("identity cache index failed", "error", err)
	}
	return id, nil
}

// VerifyCredential is never cached
func (d *CachedDirectory) VerifyCredential(ctx context.Context, ownerID, secret string) error {
	return d.next.VerifyCredential(ctx, ownerID, secret)
}

// Forget evicts every cached lookup that resolved to ownerID
func (d *CachedDirectory) Forget(ctx context.Context, ownerID string) error {
	keys, err := d.backend.SetMembers(ctx, ownerNamespace, ownerID)
	if err != nil {
		return err
	}
	if err := d.backend.Delete(ctx, lookupNamespace, keys...); err != nil {
		return err
	}
	return d.backend.Delete(ctx, ownerNamespace, ownerID)
}

// Routes subscribes the cache to the account-deletion fan-out
func (d *CachedDirectory) Routes() []events.Route {
	return []events.Route{{Topic: events.TopicDeleteUser, Handler: d.handleDeleteUser}}
}

func (d *CachedDirectory) handleDeleteUser(ctx context.Context, evt *events.Event) error {
	var data events.AccountDeleted
	if err := evt.DecodeData(&data); err != nil {
		return err
	}
	if err := d.Forget(ctx, data.OwnerID); err != nil {
		return err
	}
	d.logger.Info("identity cache purged", "owner_id", data.OwnerID)
	return nil
}
