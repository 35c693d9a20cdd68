package document

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"bankflow/internal/common/events"
)

// memStore keeps documents in memory and enforces one pending document per
// owner the way the partial unique index does.
type memStore struct {
	mu        sync.Mutex
	docs      map[string]Document
	processed map[string]bool
	outbox    []*events.Event
}

func newMemStore() *memStore {
	return &memStore{docs: map[string]Document{}, processed: map[string]bool{}}
}

func (m *memStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	docs := make(map[string]Document, len(m.docs))
	for k, v := range m.docs {
		docs[k] = v
	}
	processed := make(map[string]bool, len(m.processed))
	for k, v := range m.processed {
		processed[k] = v
	}
	outboxLen := len(m.outbox)

	if err := fn(&memTx{m: m}); err != nil {
		m.docs, m.processed, m.outbox = docs, processed, m.outbox[:outboxLen]
		return err
	}
	return nil
}

func (m *memStore) sorted() []Document {
	out := make([]Document, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memStore) Latest(_ context.Context, ownerID string) (*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Document
	for _, d := range m.sorted() {
		if d.OwnerID == ownerID {
			d := d
			latest = &d
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (m *memStore) ListPending(_ context.Context, limit int) ([]*Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Document
	for _, d := range m.sorted() {
		if d.Status == StatusPending && len(out) < limit {
			d := d
			out = append(out, &d)
		}
	}
	return out, nil
}

func (m *memStore) ofOwner(ownerID string) []Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Document
	for _, d := range m.sorted() {
		if d.OwnerID == ownerID {
			out = append(out, d)
		}
	}
	return out
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

func (t *memTx) InsertPending(_ context.Context, d *Document) (bool, error) {
	for _, existing := range t.m.docs {
		if existing.OwnerID == d.OwnerID && existing.Status == StatusPending {
			return false, nil
		}
	}
	t.m.docs[d.ID] = *d
	return true, nil
}

func (t *memTx) GetForUpdate(_ context.Context, id string) (*Document, error) {
	d, ok := t.m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &d, nil
}

func (t *memTx) UpdateStatus(_ context.Context, d *Document) error {
	existing, ok := t.m.docs[d.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Status, existing.UpdatedAt = d.Status, d.UpdatedAt
	t.m.docs[d.ID] = existing
	return nil
}

func (t *memTx) DeleteByOwner(_ context.Context, ownerID string) (int64, error) {
	var n int64
	for id, d := range t.m.docs {
		if d.OwnerID == ownerID {
			delete(t.m.docs, id)
			n++
		}
	}
	return n, nil
}

func (t *memTx) Enqueue(_ context.Context, evt *events.Event) error {
	t.m.outbox = append(t.m.outbox, evt)
	return nil
}

func newTestService() (*Service, *memStore) {
	store := newMemStore()
	svc := NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	svc.now = func() time.Time { return time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC) }
	return svc, store
}
