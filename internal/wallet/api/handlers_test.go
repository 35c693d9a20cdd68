package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankflow/internal/card"
	"bankflow/internal/common/events"
	"bankflow/internal/common/middleware"
	"bankflow/internal/identity"
	"bankflow/internal/wallet"
)

// walletStore keeps balances in a map; it serves the handlers, not the
// concurrency rules.
type walletStore struct {
	balances map[string]decimal.Decimal
	payments []*wallet.Payment
}

func (s *walletStore) InTx(ctx context.Context, fn func(tx wallet.Tx) error) error { return fn(s) }

func (s *walletStore) Get(_ context.Context, ownerID string) (*wallet.Wallet, error) {
	b, ok := s.balances[ownerID]
	if !ok {
		return nil, wallet.ErrNotFound
	}
	return &wallet.Wallet{OwnerID: ownerID, Balance: b}, nil
}

func (s *walletStore) ListPayments(_ context.Context, ownerID string, direction wallet.Direction, _ int) ([]*wallet.Payment, error) {
	var out []*wallet.Payment
	for _, p := range s.payments {
		if p.OwnerID == ownerID && p.Direction == direction {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *walletStore) MarkProcessed(context.Context, string, string) (bool, error) { return true, nil }

func (s *walletStore) InsertWallet(_ context.Context, w *wallet.Wallet) (bool, error) {
	s.balances[w.OwnerID] = w.Balance
	return true, nil
}

func (s *walletStore) GetForUpdate(ctx context.Context, ownerID string) (*wallet.Wallet, error) {
	return s.Get(ctx, ownerID)
}

func (s *walletStore) UpdateBalance(_ context.Context, w *wallet.Wallet) error {
	s.balances[w.OwnerID] = w.Balance
	return nil
}

func (s *walletStore) InsertPayment(_ context.Context, p *wallet.Payment) error {
	s.payments = append(s.payments, p)
	return nil
}

func (s *walletStore) DeleteByOwner(context.Context, string) (int64, error) { return 0, nil }
func (s *walletStore) MarkDeleted(context.Context, string) error            { return nil }
func (s *walletStore) IsDeleted(context.Context, string) (bool, error)      { return false, nil }
func (s *walletStore) Enqueue(context.Context, *events.Event) error         { return nil }

type stubCards struct{ outcome card.DebitOutcome }

func (c stubCards) DebitCredit(context.Context, string, decimal.Decimal, string) (card.DebitOutcome, error) {
	return c.outcome, nil
}

type stubDirectory struct{}

func (stubDirectory) FindIdentity(_ context.Context, key string) (*identity.Identity, error) {
	switch key {
	case "ana", "bob":
		return &identity.Identity{OwnerID: key, FullName: strings.ToUpper(key)}, nil
	}
	return nil, identity.ErrNotFound
}

func newRouter(cards card.DebitOutcome) (http.Handler, *walletStore) {
	store := &walletStore{balances: map[string]decimal.Decimal{
		"ana": decimal.NewFromInt(100),
		"bob": decimal.NewFromInt(50),
	}}
	svc := wallet.NewService(store, stubCards{outcome: cards}, stubDirectory{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewHandler(svc).Routes(middleware.Owner(nil)), store
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(middleware.HeaderOwnerID, "ana")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error.Code
}

func TestPay_Outcomes(t *testing.T) {
	tests := []struct {
		name   string
		cards  card.DebitOutcome
		body   string
		status int
		code   string
	}{
		{"instant transfer", card.DebitOK, `{"key":"bob","amount":"40","method":"INSTANT_TRANSFER"}`, http.StatusCreated, ""},
		{"credit line", card.DebitOK, `{"key":"bob","amount":"40","method":"CREDIT_LINE"}`, http.StatusCreated, ""},
		{"overdraft", card.DebitOK, `{"key":"bob","amount":"100.01","method":"INSTANT_TRANSFER"}`, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"},
		{"credit insufficient", card.DebitInsufficient, `{"key":"bob","amount":"1","method":"CREDIT_LINE"}`, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS"},
		{"no card", card.DebitNotFound, `{"key":"bob","amount":"1","method":"CREDIT_LINE"}`, http.StatusNotFound, "NOT_FOUND"},
		{"unknown receiver", card.DebitOK, `{"key":"zed","amount":"1","method":"INSTANT_TRANSFER"}`, http.StatusNotFound, "NOT_FOUND"},
		{"blank key", card.DebitOK, `{"key":"","amount":"1","method":"INSTANT_TRANSFER"}`, http.StatusBadRequest, "BAD_REQUEST"},
		{"malformed", card.DebitOK, `{"key":`, http.StatusBadRequest, "BAD_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, _ := newRouter(tt.cards)
			rec := do(router, http.MethodPost, "/payments", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != "" {
				assert.Equal(t, tt.code, errorCode(t, rec))
			}
		})
	}
}

func TestBalanceAndLists(t *testing.T) {
	router, _ := newRouter(card.DebitOK)

	rec := do(router, http.MethodPost, "/payments", `{"key":"bob","amount":"40","method":"INSTANT_TRANSFER"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(router, http.MethodGet, "/balance", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var balance struct {
		Data BalanceResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&balance))
	assert.True(t, balance.Data.Balance.Equal(decimal.NewFromInt(60)))

	rec = do(router, http.MethodGet, "/payments/sent", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var sent struct {
		Data []wallet.Payment `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&sent))
	require.Len(t, sent.Data, 1)
	assert.Equal(t, "bob", sent.Data[0].ReceiverID)

	rec = do(router, http.MethodGet, "/payments/received", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var received struct {
		Data []wallet.Payment `json:"data"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&received))
	assert.Empty(t, received.Data)

	rec = do(router, http.MethodGet, "/payments/sent?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettleCredit_Insufficient(t *testing.T) {
	router, _ := newRouter(card.DebitOK)

	rec := do(router, http.MethodPost, "/settle-credit", `{"amount":"500"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(router, http.MethodPost, "/settle-credit", `{"amount":"25"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}
