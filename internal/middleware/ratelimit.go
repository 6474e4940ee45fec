package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimit limits requests per minute per signed-in user, falling back to the client IP.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(keyByUserOrIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded", "rate_limit")
		}),
	)
}

func keyByUserOrIP(r *http.Request) (string, error) {
	if userID, ok := GetUserID(r.Context()); ok {
		return "user:" + userID, nil
	}
	return httprate.KeyByIP(r)
}
