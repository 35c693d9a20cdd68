package wallet

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"bankflow/internal/card"
	"bankflow/internal/common/events"
	"bankflow/internal/identity"
)

type memStore struct {
	mu        sync.Mutex
	wallets   map[string]Wallet
	payments  []Payment
	processed map[string]bool
	deleted   map[string]bool
	outbox    []*events.Event
}

func newMemStore() *memStore {
	return &memStore{wallets: map[string]Wallet{}, processed: map[string]bool{}, deleted: map[string]bool{}}
}

func (m *memStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wallets := make(map[string]Wallet, len(m.wallets))
	for k, v := range m.wallets {
		wallets[k] = v
	}
	processed := make(map[string]bool, len(m.processed))
	for k, v := range m.processed {
		processed[k] = v
	}
	deleted := make(map[string]bool, len(m.deleted))
	for k, v := range m.deleted {
		deleted[k] = v
	}
	payments := append([]Payment(nil), m.payments...)
	outboxLen := len(m.outbox)

	if err := fn(&memTx{m: m}); err != nil {
		m.wallets, m.processed, m.deleted, m.payments, m.outbox = wallets, processed, deleted, payments, m.outbox[:outboxLen]
		return err
	}
	return nil
}

func (m *memStore) Get(_ context.Context, ownerID string) (*Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[ownerID]
	if !ok {
		return nil, fmt.Errorf("wallet: %w", ErrNotFound)
	}
	return &w, nil
}

func (m *memStore) ListPayments(_ context.Context, ownerID string, direction Direction, limit int) ([]*Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Payment
	for i := len(m.payments) - 1; i >= 0 && len(out) < limit; i-- {
		p := m.payments[i]
		if p.OwnerID == ownerID && p.Direction == direction {
			out = append(out, &p)
		}
	}
	return out, nil
}

func (m *memStore) setBalance(ownerID, balance string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[ownerID] = Wallet{OwnerID: ownerID, Balance: decimal.RequireFromString(balance)}
}

func (m *memStore) balance(ownerID string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallets[ownerID].Balance
}

func (m *memStore) legs(ownerID string, direction Direction) []Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Payment
	for _, p := range m.payments {
		if p.OwnerID == ownerID && p.Direction == direction {
			out = append(out, p)
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

func (t *memTx) InsertWallet(_ context.Context, w *Wallet) (bool, error) {
	if _, ok := t.m.wallets[w.OwnerID]; ok {
		return false, nil
	}
	t.m.wallets[w.OwnerID] = *w
	return true, nil
}

func (t *memTx) GetForUpdate(_ context.Context, ownerID string) (*Wallet, error) {
	w, ok := t.m.wallets[ownerID]
	if !ok {
		return nil, fmt.Errorf("wallet: %w", ErrNotFound)
	}
	return &w, nil
}

func (t *memTx) UpdateBalance(_ context.Context, w *Wallet) error {
	if w.Balance.IsNegative() {
		return ErrInsufficientFunds
	}
	t.m.wallets[w.OwnerID] = *w
	return nil
}

func (t *memTx) InsertPayment(_ context.Context, p *Payment) error {
	t.m.payments = append(t.m.payments, *p)
	return nil
}

func (t *memTx) DeleteByOwner(_ context.Context, ownerID string) (int64, error) {
	var n int64
	kept := t.m.payments[:0]
	for _, p := range t.m.payments {
		if p.OwnerID == ownerID {
			n++
			continue
		}
		kept = append(kept, p)
	}
	t.m.payments = kept
	if _, ok := t.m.wallets[ownerID]; ok {
		delete(t.m.wallets, ownerID)
		n++
	}
	return n, nil
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

// fakeCards answers credit debits with a fixed outcome and records calls
type fakeCards struct {
	mu      sync.Mutex
	outcome card.DebitOutcome
	err     error
	calls   []string
}

func (f *fakeCards) DebitCredit(_ context.Context, ownerID string, amount decimal.Decimal, reference string) (card.DebitOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, ownerID+":"+amount.String()+":"+reference)
	return f.outcome, f.err
}

// directory resolves keys from a fixed list
type directory []identity.Identity

func (d directory) FindIdentity(_ context.Context, key string) (*identity.Identity, error) {
	for _, id := range d {
		if id.OwnerID == key || id.Email == key || id.TaxID == key {
			id := id
			return &id, nil
		}
	}
	return nil, identity.ErrNotFound
}

var people = directory{
	{OwnerID: "ana", FullName: "Ana Souza", Email: "ana@example.com", TaxID: "111"},
	{OwnerID: "bob", FullName: "Bob Lima", Email: "bob@example.com", TaxID: "222"},
	{OwnerID: "cid", FullName: "Cid Rocha", Email: "cid@example.com", TaxID: "333"},
}

func newTestService() (*Service, *memStore, *fakeCards) {
	store := newMemStore()
	cards := &fakeCards{outcome: card.DebitOK}
	svc := NewService(store, cards, people, slog.New(slog.NewTextHandler(io.Discard, nil)))

	var mu sync.Mutex
	tick := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick = tick.Add(time.Second)
		return tick
	}
	return svc, store, cards
}

// relay delivers every outbox event on topic to the service's own routes,
// in order, as the bus would.
func relay(svc *Service, store *memStore, topic events.Topic) error {
	pending := store.published(topic)
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].ID < pending[j].ID })
	for _, evt := range pending {
		for _, route := range svc.Routes() {
			if route.Topic == evt.Topic {
				if err := route.Handler(events.ContextWithCause(context.Background(), evt), evt); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
