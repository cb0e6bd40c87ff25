package auth

import (
	"net/http"
	"strconv"
	"time"

	"supply-chain-auth/internal/observability"
	"supply-chain-auth/internal/security"
)

const loginRateKeyPrefix = "login:"

// LoginRateLimiter caps login attempts per client IP with the shared
// sliding-window limiter.
type LoginRateLimiter struct {
	guard   *security.Guard
	maxHits int
	window  time.Duration
	logger  *observability.Logger
}

func NewLoginRateLimiter(guard *security.Guard, maxHits int, window time.Duration, logger *observability.Logger) *LoginRateLimiter {
	if maxHits <= 0 {
		maxHits = 5
	}
	if window <= 0 {
		window = time.Minute
	}
	if logger == nil {
		logger = observability.Discard()
	}

	return &LoginRateLimiter{
		guard:   guard,
		maxHits: maxHits,
		window:  window,
		logger:  logger,
	}
}

func (l *LoginRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := observability.ClientIP(r)

		if !l.guard.Allow(r.Context(), loginRateKeyPrefix+ip, l.maxHits, l.window) {
			l.logger.SecurityEvent("login_rate_limited", map[string]any{
				"ip":    ip,
				"scope": "ip",
				"path":  r.URL.Path,
			})
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(l.window.Seconds())))
			writeError(w, http.StatusTooManyRequests, "Too many login attempts. Please try again later.")
			return
		}

		next.ServeHTTP(w, r)
	})
}
