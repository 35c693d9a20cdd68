package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bankflow/internal/common/events"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestCorrelationID(t *testing.T) {
	var seen, eventSeen string
	h := CorrelationID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		eventSeen = events.CorrelationIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderCorrelationID, "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", seen)
	assert.Equal(t, "req-42", eventSeen)
	assert.Equal(t, "req-42", rec.Header().Get(HeaderCorrelationID))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, seen, 26)
	assert.Equal(t, seen, rec.Header().Get(HeaderCorrelationID))
}

func TestOwner(t *testing.T) {
	echo := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, GetOwnerID(r.Context()))
	})
	verify := func(_ context.Context, ownerID, secret string) error {
		if secret != "s3cret" {
			return errors.New("bad secret")
		}
		return nil
	}

	tests := []struct {
		name       string
		verify     CredentialVerifier
		owner      string
		secret     string
		wantStatus int
	}{
		{"missing owner", nil, "", "", http.StatusUnauthorized},
		{"header only", nil, "ana", "", http.StatusOK},
		{"verified", verify, "ana", "s3cret", http.StatusOK},
		{"wrong secret", verify, "ana", "nope", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.owner != "" {
				req.Header.Set(HeaderOwnerID, tt.owner)
			}
			if tt.secret != "" {
				req.Header.Set(HeaderOwnerSecret, tt.secret)
			}
			rec := httptest.NewRecorder()
			Owner(tt.verify)(echo).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				assert.Equal(t, tt.owner, rec.Body.String())
			}
		})
	}
}

type memoryIdempotency struct {
	mu     sync.Mutex
	stored map[string][]byte
	fail   bool
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{stored: map[string][]byte{}}
}

func (m *memoryIdempotency) Reserve(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return false, errors.New("redis down")
	}
	if _, taken := m.stored[key]; taken {
		return false, nil
	}
	m.stored[key] = nil
	return true, nil
}

func (m *memoryIdempotency) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return nil, false, errors.New("redis down")
	}
	b, ok := m.stored[key]
	return b, ok, nil
}

func (m *memoryIdempotency) Set(_ context.Context, key string, response []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored[key] = response
	return nil
}

func (m *memoryIdempotency) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stored, key)
	return nil
}

func idempotentPost(h http.Handler, owner, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/payments", strings.NewReader(`{}`))
	req.Header.Set(HeaderOwnerID, owner)
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIdempotency(t *testing.T) {
	store := newMemoryIdempotency()
	calls := 0
	status := http.StatusCreated
	h := Owner(nil)(Idempotency(store, time.Hour, discard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"data":{"id":"p1"}}`)
	})))

	first := idempotentPost(h, "ana", "k1")
	require.Equal(t, http.StatusCreated, first.Code)

	replay := idempotentPost(h, "ana", "k1")
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, "true", replay.Header().Get("X-Idempotency-Replayed"))
	assert.Equal(t, first.Body.String(), replay.Body.String())
	assert.Equal(t, 1, calls)

	// keys are scoped per owner
	idempotentPost(h, "bob", "k1")
	assert.Equal(t, 2, calls)

	idempotentPost(h, "ana", "")
	assert.Equal(t, 3, calls)

	t.Run("failed responses release the key", func(t *testing.T) {
		status = http.StatusUnprocessableEntity
		assert.Equal(t, http.StatusUnprocessableEntity, idempotentPost(h, "ana", "k2").Code)
		assert.Equal(t, http.StatusUnprocessableEntity, idempotentPost(h, "ana", "k2").Code)
		assert.Equal(t, 5, calls)

		status = http.StatusCreated
		assert.Equal(t, http.StatusCreated, idempotentPost(h, "ana", "k2").Code)
		assert.Equal(t, 6, calls)
	})

	t.Run("store failure passes through", func(t *testing.T) {
		store.fail = true
		rec := idempotentPost(h, "ana", "k1")
		assert.Equal(t, http.StatusCreated, rec.Code)
		assert.Empty(t, rec.Header().Get("X-Idempotency-Replayed"))
		assert.Equal(t, 7, calls)
	})
}

func TestIdempotency_ConcurrentDuplicate(t *testing.T) {
	store := newMemoryIdempotency()
	started := make(chan struct{})
	release := make(chan struct{})
	var executions atomic.Int32

	h := Owner(nil)(Idempotency(store, time.Hour, discard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		executions.Add(1)
		close(started)
		<-release
		w.WriteHeader(http.StatusCreated)
		_, _ = io.WriteString(w, `{"data":{"id":"p1"}}`)
	})))

	firstDone := make(chan *httptest.ResponseRecorder)
	go func() { firstDone <- idempotentPost(h, "ana", "k1") }()
	<-started

	dup := idempotentPost(h, "ana", "k1")
	assert.Equal(t, http.StatusConflict, dup.Code)
	assert.Contains(t, dup.Body.String(), "REQUEST_IN_PROGRESS")

	close(release)
	first := <-firstDone
	assert.Equal(t, http.StatusCreated, first.Code)

	after := idempotentPost(h, "ana", "k1")
	assert.Equal(t, http.StatusCreated, after.Code)
	assert.Equal(t, "true", after.Header().Get("X-Idempotency-Replayed"))
	assert.Equal(t, int32(1), executions.Load())
}

type countingLimiter struct {
	limit int
	seen  map[string]int
	err   error
}

func (l *countingLimiter) Allow(_ context.Context, key string) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.seen[key]++
	return l.seen[key] <= l.limit, nil
}

func TestRateLimit(t *testing.T) {
	limiter := &countingLimiter{limit: 2, seen: map[string]int{}}
	h := Owner(nil)(RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	send := func(owner string) int {
		req := httptest.NewRequest(http.MethodGet, "/balance", nil)
		req.Header.Set(HeaderOwnerID, owner)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, send("ana"))
	assert.Equal(t, http.StatusNoContent, send("ana"))
	assert.Equal(t, http.StatusTooManyRequests, send("ana"))
	assert.Equal(t, http.StatusNoContent, send("bob"))

	limiter.err = errors.New("redis down")
	assert.Equal(t, http.StatusNoContent, send("ana"))
}

func TestRecoverer(t *testing.T) {
	h := Recoverer(discard)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
}

func TestServiceToken(t *testing.T) {
	var calls int
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	})

	call := func(h http.Handler, token string) int {
		req := httptest.NewRequest(http.MethodPost, "/internal", nil)
		if token != "" {
			req.Header.Set(HeaderServiceToken, token)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	guarded := ServiceToken("s3cret")(ok)
	assert.Equal(t, http.StatusNoContent, call(guarded, "s3cret"))
	assert.Equal(t, http.StatusUnauthorized, call(guarded, ""))
	assert.Equal(t, http.StatusUnauthorized, call(guarded, "s3cre"))
	assert.Equal(t, 1, calls)

	// an unset token refuses everyone
	closed := ServiceToken("")(ok)
	assert.Equal(t, http.StatusUnauthorized, call(closed, ""))
	assert.Equal(t, http.StatusUnauthorized, call(closed, "anything"))
	assert.Equal(t, 1, calls)
}
