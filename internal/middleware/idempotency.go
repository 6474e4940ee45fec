package middleware

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/cassiomorais/checkout/internal/infrastructure/postgres"
	"github.com/rs/zerolog"
)

const (
	maxIdempotencyBodySize = 1 << 20
	DefaultIdempotencyTTL  = 24 * time.Hour
)

// IdempotencyStore keeps responses by Idempotency-Key.
type IdempotencyStore interface {
	Get(ctx context.Context, key string) (*postgres.IdempotencyEntry, error)
	Set(ctx context.Context, entry *postgres.IdempotencyEntry) error
}

// Idempotency replays the stored response for a repeated Idempotency-Key.
// Keys are scoped to the authenticated user when there is one. 5xx responses are not stored.
func Idempotency(store IdempotencyStore, ttl time.Duration, logger zerolog.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("Idempotency-Key")
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}
			if userID, ok := GetUserID(r.Context()); ok {
				key = userID + ":" + key
			}

			entry, err := store.Get(r.Context(), key)
			if err != nil {
				logger.Warn().Err(err).Msg("Idempotency lookup failed, serving request")
			}
			if entry != nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Idempotency-Replayed", "true")
				w.WriteHeader(entry.ResponseStatus)
				_, _ = w.Write([]byte(entry.ResponseBody))
				return
			}

			rec := &responseRecorder{ResponseWriter: w, body: &bytes.Buffer{}, statusCode: http.StatusOK}
			next.ServeHTTP(rec, r)

			if rec.statusCode >= 500 || rec.bodyTruncated {
				return
			}
			now := time.Now()
			err = store.Set(context.WithoutCancel(r.Context()), &postgres.IdempotencyEntry{
				Key:            key,
				ResponseBody:   rec.body.String(),
				ResponseStatus: rec.statusCode,
				CreatedAt:      now,
				ExpiresAt:      now.Add(ttl),
			})
			if err != nil {
				logger.Error().Err(err).Msg("Failed to store idempotent response")
			}
		})
	}
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode    int
	body          *bytes.Buffer
	bodyTruncated bool
}

func (r *responseRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Write(b []byte) (int, error) {
	if !r.bodyTruncated {
		if r.body.Len()+len(b) > maxIdempotencyBodySize {
			r.bodyTruncated = true
		} else {
			r.body.Write(b)
		}
	}
	return r.ResponseWriter.Write(b)
}
