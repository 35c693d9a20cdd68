package middleware

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"

	"bankflow/internal/common/events"
)

// Context keys
type contextKey string

const (
	CorrelationIDKey contextKey = "correlation_id"
	OwnerIDKey       contextKey = "owner_id"
)

// Headers read by the middleware
const (
	HeaderCorrelationID  = "X-Correlation-ID"
	HeaderOwnerID        = "X-Owner-ID"
	HeaderOwnerSecret    = "X-Owner-Secret"
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderServiceToken   = "X-Service-Token"
)

// GetCorrelationID retrieves the correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return v
	}
	return ""
}

// GetOwnerID retrieves the calling owner from context
func GetOwnerID(ctx context.Context) string {
	if v, ok := ctx.Value(OwnerIDKey).(string); ok {
		return v
	}
	return ""
}

// CorrelationID adds a correlation ID to each request. Events emitted while
// serving the request carry the same id.
func CorrelationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := r.Header.Get(HeaderCorrelationID)
		if correlationID == "" {
			correlationID = ulid.Make().String()
		}

		ctx := context.WithValue(r.Context(), CorrelationIDKey, correlationID)
		ctx = events.ContextWithCorrelationID(ctx, correlationID)
		w.Header().Set(HeaderCorrelationID, correlationID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Logger creates a structured logging middleware
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("request completed",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"correlation_id", GetCorrelationID(r.Context()),
					"owner_id", GetOwnerID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

// Recoverer recovers from panics and logs them
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						"panic", rec,
						"stack", string(debug.Stack()),
						"path", r.URL.Path,
						"method", r.Method,
						"correlation_id", GetCorrelationID(r.Context()),
					)
					writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// CredentialVerifier checks an owner's secret against the identity directory
type CredentialVerifier func(ctx context.Context, ownerID, secret string) error

// Owner requires the X-Owner-ID header and stores it in the context. When
// verify is non-nil the X-Owner-Secret header must also check out.
func Owner(verify CredentialVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ownerID := r.Header.Get(HeaderOwnerID)
			if ownerID == "" {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing owner header")
				return
			}

			if verify != nil {
				if err := verify(r.Context(), ownerID, r.Header.Get(HeaderOwnerSecret)); err != nil {
					writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid owner credentials")
					return
				}
			}

			ctx := context.WithValue(r.Context(), OwnerIDKey, ownerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ServiceToken admits only callers presenting token in X-Service-Token. An
// empty token admits nobody.
func ServiceToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(HeaderServiceToken)
			if token == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid service token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IdempotencyStore keeps replayable responses by key. Reserve claims a key
// atomically; a reserved key reads back as found with an empty response
// until Set replaces it.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (response []byte, found bool, err error)
	Set(ctx context.Context, key string, response []byte, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

// InFlightTTL bounds how long a reservation outlives a crashed request.
const InFlightTTL = time.Minute

type storedResponse struct {
	Status int    `json:"status"`
	Body   []byte `json:"body"`
}

// Idempotency replays the stored response for a repeated Idempotency-Key on
// POST requests. Keys are scoped to the calling owner. The key is reserved
// before the handler runs, so a duplicate arriving mid-request gets 409.
// Only 2xx responses are stored; any other outcome releases the key so a
// rejected payment can be retried with it.
func Idempotency(store IdempotencyStore, ttl time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			idempotencyKey := r.Header.Get(HeaderIdempotencyKey)
			if idempotencyKey == "" {
				next.ServeHTTP(w, r)
				return
			}
			key := GetOwnerID(r.Context()) + ":" + r.URL.Path + ":" + idempotencyKey

			reserved, err := store.Reserve(r.Context(), key, InFlightTTL)
			if err != nil {
				logger.Warn("idempotency reservation failed", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			if !reserved {
				replay(w, r, store, key, logger)
				return
			}

			rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.status < 200 || rec.status >= 300 {
				if err := store.Release(r.Context(), key); err != nil {
					logger.Warn("idempotency release failed", "error", err)
				}
				return
			}

			stored, _ := json.Marshal(storedResponse{Status: rec.status, Body: rec.body})
			if err := store.Set(r.Context(), key, stored, ttl); err != nil {
				logger.Warn("idempotency store failed", "error", err)
			}
		})
	}
}

// replay answers a request whose key is already taken: the stored response
// when the first request finished, 409 while it is still running.
func replay(w http.ResponseWriter, r *http.Request, store IdempotencyStore, key string, logger *slog.Logger) {
	cached, found, err := store.Get(r.Context(), key)
	if err != nil {
		logger.Warn("idempotency lookup failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "IDEMPOTENCY_UNAVAILABLE", "Could not check idempotency key")
		return
	}

	var resp storedResponse
	if !found || len(cached) == 0 || json.Unmarshal(cached, &resp) != nil || resp.Status == 0 {
		writeError(w, http.StatusConflict, "REQUEST_IN_PROGRESS", "A request with this idempotency key is in progress")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Idempotency-Replayed", "true")
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}

type responseRecorder struct {
	http.ResponseWriter
	status int
	body   []byte
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	r.body = append(r.body, b...)
	return r.ResponseWriter.Write(b)
}

// RateLimiter decides whether key may make another request
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimit limits requests per owner. Limiter failures let the request through.
func RateLimit(limiter RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, err := limiter.Allow(r.Context(), GetOwnerID(r.Context()))
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			if !allowed {
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
