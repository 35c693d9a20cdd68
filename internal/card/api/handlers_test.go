package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankflow/internal/card"
	"bankflow/internal/common/events"
	"bankflow/internal/common/middleware"
)

// cardStore keeps cards by owner; GetForUpdate hands out copies so only
// Update persists a change.
type cardStore struct {
	cards     map[string]card.Card
	processed map[string]bool
}

func (s *cardStore) InTx(ctx context.Context, fn func(tx card.Tx) error) error {
	processed := make(map[string]bool, len(s.processed))
	for k, v := range s.processed {
		processed[k] = v
	}
	if err := fn(s); err != nil {
		s.processed = processed
		return err
	}
	return nil
}

func (s *cardStore) Get(_ context.Context, ownerID string) (*card.Card, error) {
	c, ok := s.cards[ownerID]
	if !ok {
		return nil, card.ErrNotFound
	}
	return &c, nil
}

func (s *cardStore) MarkProcessed(_ context.Context, consumer, eventID string) (bool, error) {
	key := consumer + "/" + eventID
	if s.processed[key] {
		return false, nil
	}
	s.processed[key] = true
	return true, nil
}

func (s *cardStore) GetForUpdate(ctx context.Context, ownerID string) (*card.Card, error) {
	return s.Get(ctx, ownerID)
}

func (s *cardStore) Insert(_ context.Context, c *card.Card) error {
	s.cards[c.OwnerID] = *c
	return nil
}

func (s *cardStore) Update(_ context.Context, c *card.Card) error {
	s.cards[c.OwnerID] = *c
	return nil
}

func (s *cardStore) DeleteByOwner(_ context.Context, ownerID string) (int64, error) {
	delete(s.cards, ownerID)
	return 1, nil
}

func (s *cardStore) MarkDeleted(context.Context, string) error       { return nil }
func (s *cardStore) IsDeleted(context.Context, string) (bool, error) { return false, nil }
func (s *cardStore) Enqueue(context.Context, *events.Event) error    { return nil }

const serviceToken = "svc-token"

func newRouter(t *testing.T) (http.Handler, *cardStore) {
	t.Helper()
	limit := decimal.RequireFromString("105")
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	store := &cardStore{
		processed: map[string]bool{},
		cards: map[string]card.Card{
			"ana": {ID: "c1", OwnerID: "ana", Kind: card.KindMultiple, Status: card.StatusApproved, CreditLimit: &limit, CVV: "123", CreatedAt: now, UpdatedAt: now},
			"bob": {ID: "c2", OwnerID: "bob", Kind: card.KindDebit, Status: card.StatusCanceled, CreatedAt: now, UpdatedAt: now},
		},
	}
	svc := card.NewService(store, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Mount("/cards", h.Routes(middleware.Owner(nil)))
	r.Mount("/internal/cards", h.InternalRoutes(middleware.ServiceToken(serviceToken)))
	return r, store
}

// send calls an owner route as owner, or anonymously when owner is empty.
func send(h http.Handler, method, path, owner string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if owner != "" {
		req.Header.Set(middleware.HeaderOwnerID, owner)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func debit(h http.Handler, ownerID, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/internal/cards/"+ownerID+"/debit", strings.NewReader(body))
	if token != "" {
		req.Header.Set(middleware.HeaderServiceToken, token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDebitCredit(t *testing.T) {
	h, store := newRouter(t)

	rec := debit(h, "ana", serviceToken, `{"amount":"100","reference":"p1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":{"outcome":"OK"}}`, rec.Body.String())
	assert.True(t, store.cards["ana"].CreditLimit.IsZero())

	rec = debit(h, "ana", serviceToken, `{"amount":"100","reference":"p1"}`)
	assert.JSONEq(t, `{"data":{"outcome":"OK"}}`, rec.Body.String(), "replayed reference")
	assert.True(t, store.cards["ana"].CreditLimit.IsZero())

	rec = debit(h, "ana", serviceToken, `{"amount":"1","reference":"p2"}`)
	assert.JSONEq(t, `{"data":{"outcome":"INSUFFICIENT"}}`, rec.Body.String())

	rec = debit(h, "cid", serviceToken, `{"amount":"1","reference":"p3"}`)
	assert.JSONEq(t, `{"data":{"outcome":"NOT_FOUND"}}`, rec.Body.String())
}

func TestDebitCredit_RequiresServiceToken(t *testing.T) {
	h, store := newRouter(t)

	assert.Equal(t, http.StatusUnauthorized, debit(h, "ana", "", `{"amount":"10","reference":"p1"}`).Code)
	assert.Equal(t, http.StatusUnauthorized, debit(h, "ana", "guess", `{"amount":"10","reference":"p1"}`).Code)
	assert.True(t, store.cards["ana"].CreditLimit.Equal(decimal.RequireFromString("105")))

	// the debit is not reachable through the owner routes
	rec := send(h, http.MethodPost, "/cards/ana/debit", "ana")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDebitCredit_BadRequests(t *testing.T) {
	h, _ := newRouter(t)

	assert.Equal(t, http.StatusUnprocessableEntity, debit(h, "ana", serviceToken, `{"amount":"10"}`).Code)
	assert.Equal(t, http.StatusBadRequest, debit(h, "ana", serviceToken, `{"amount":"-1","reference":"p"}`).Code)
	assert.Equal(t, http.StatusBadRequest, debit(h, "ana", serviceToken, `{"amount":`).Code)
}

func TestOwnerRoutes_RequireOwner(t *testing.T) {
	h, store := newRouter(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/cards"},
		{http.MethodGet, "/cards/status"},
		{http.MethodGet, "/cards/limit"},
		{http.MethodPost, "/cards/toggle"},
	} {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rec := send(h, tc.method, tc.path, "")
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.NotContains(t, rec.Body.String(), "123")
		})
	}
	assert.Equal(t, card.StatusApproved, store.cards["ana"].Status)
}

func TestCardQueries(t *testing.T) {
	h, _ := newRouter(t)

	rec := send(h, http.MethodGet, "/cards/status", "ana")
	assert.JSONEq(t, `{"data":{"status":"APPROVED"}}`, rec.Body.String())

	rec = send(h, http.MethodGet, "/cards/status", "nobody")
	assert.JSONEq(t, `{"data":{"status":"EMPTY"}}`, rec.Body.String())

	rec = send(h, http.MethodGet, "/cards/limit", "ana")
	assert.JSONEq(t, `{"data":{"kind":"MULTIPLE","limit":"105"}}`, rec.Body.String())

	rec = send(h, http.MethodGet, "/cards/limit", "bob")
	assert.JSONEq(t, `{"data":{"kind":"DEBIT","limit":null}}`, rec.Body.String())

	rec = send(h, http.MethodGet, "/cards", "ana")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"owner_id":"ana"`)

	assert.Equal(t, http.StatusNotFound, send(h, http.MethodGet, "/cards", "nobody").Code)
}

func TestToggle(t *testing.T) {
	h, store := newRouter(t)

	rec := send(h, http.MethodPost, "/cards/toggle", "ana")
	assert.JSONEq(t, `{"data":{"status":"BLOCKED"}}`, rec.Body.String())

	rec = send(h, http.MethodPost, "/cards/toggle", "ana")
	assert.JSONEq(t, `{"data":{"status":"APPROVED"}}`, rec.Body.String())

	assert.Equal(t, http.StatusConflict, send(h, http.MethodPost, "/cards/toggle", "bob").Code)
	assert.Equal(t, http.StatusNotFound, send(h, http.MethodPost, "/cards/toggle", "nobody").Code)
	assert.Equal(t, card.StatusCanceled, store.cards["bob"].Status)
}
