package card

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"bankflow/internal/common/events"
)

// memStore is an in-memory Store. InTx holds one lock for the whole
// transaction and restores a snapshot when fn fails.
type memStore struct {
	mu        sync.Mutex
	cards     map[string]Card
	processed map[string]bool
	deleted   map[string]bool
	outbox    []*events.Event
}

func newMemStore() *memStore {
	return &memStore{cards: map[string]Card{}, processed: map[string]bool{}, deleted: map[string]bool{}}
}

func (m *memStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cards := make(map[string]Card, len(m.cards))
	for k, v := range m.cards {
		cards[k] = v
	}
	processed := make(map[string]bool, len(m.processed))
	for k, v := range m.processed {
		processed[k] = v
	}
	deleted := make(map[string]bool, len(m.deleted))
	for k, v := range m.deleted {
		deleted[k] = v
	}
	outboxLen := len(m.outbox)

	if err := fn(&memTx{m: m}); err != nil {
		m.cards, m.processed, m.deleted, m.outbox = cards, processed, deleted, m.outbox[:outboxLen]
		return err
	}
	return nil
}

func (m *memStore) Get(_ context.Context, ownerID string) (*Card, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[ownerID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (m *memStore) card(ownerID string) (Card, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[ownerID]
	return c, ok
}

func (m *memStore) published(topic events.Topic) []*events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*events.Event
	for _, e := range m.outbox {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

type memTx struct {
	m *memStore
}

func (t *memTx) MarkProcessed(_ context.Context, consumer, eventID string) (bool, error) {
	key := consumer + "/" + eventID
	if t.m.processed[key] {
		return false, nil
	}
	t.m.processed[key] = true
	return true, nil
}

func (t *memTx) GetForUpdate(_ context.Context, ownerID string) (*Card, error) {
	c, ok := t.m.cards[ownerID]
	if !ok {
		return nil, ErrNotFound
	}
	return &c, nil
}

func (t *memTx) Insert(_ context.Context, c *Card) error {
	if _, ok := t.m.cards[c.OwnerID]; ok {
		return fmt.Errorf("duplicate card for %s", c.OwnerID)
	}
	t.m.cards[c.OwnerID] = *c
	return nil
}

func (t *memTx) Update(_ context.Context, c *Card) error {
	if _, ok := t.m.cards[c.OwnerID]; !ok {
		return ErrNotFound
	}
	t.m.cards[c.OwnerID] = *c
	return nil
}

func (t *memTx) DeleteByOwner(_ context.Context, ownerID string) (int64, error) {
	if _, ok := t.m.cards[ownerID]; !ok {
		return 0, nil
	}
	delete(t.m.cards, ownerID)
	return 1, nil
}

func (t *memTx) MarkDeleted(_ context.Context, ownerID string) error {
	t.m.deleted[ownerID] = true
	return nil
}

func (t *memTx) IsDeleted(_ context.Context, ownerID string) (bool, error) {
	return t.m.deleted[ownerID], nil
}

func (t *memTx) Enqueue(_ context.Context, evt *events.Event) error {
	t.m.outbox = append(t.m.outbox, evt)
	return nil
}

// sequenceGenerator hands out predictable credentials
type sequenceGenerator struct {
	mu sync.Mutex
	n  int
}

func (g *sequenceGenerator) Generate(now time.Time) (Credentials, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return Credentials{
		Number: fmt.Sprintf("4000 0000 0000 %04d", g.n),
		Expiry: ExpiryFrom(now),
		CVV:    fmt.Sprintf("%03d", g.n),
	}, nil
}

var fixedNow = time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestService() (*Service, *memStore, *sequenceGenerator) {
	store := newMemStore()
	gen := &sequenceGenerator{}
	svc := NewService(store, gen, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return fixedNow }
	return svc, store, gen
}
