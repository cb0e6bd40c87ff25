package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"supply-chain-auth/internal/security"
)

type contextKey int

const (
	userContextKey contextKey = iota
	tokenContextKey
)

// Middleware rejects requests without a valid bearer token and stores the
// token and its account on the request context.
func Middleware(service *Service, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("Authorization"))
		if header == "" {
			writeError(w, http.StatusUnauthorized, "Missing authorization token")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			writeError(w, http.StatusUnauthorized, "Invalid authorization format")
			return
		}

		token := strings.TrimSpace(parts[1])
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Invalid token")
			return
		}

		user, err := service.VerifyToken(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, tokenErrorMessage(err))
			return
		}

		ctx := context.WithValue(r.Context(), userContextKey, user)
		ctx = context.WithValue(ctx, tokenContextKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func UserFromContext(ctx context.Context) (TokenUser, bool) {
	user, ok := ctx.Value(userContextKey).(TokenUser)
	return user, ok
}

func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenContextKey).(string)
	return token, ok && token != ""
}

func tokenErrorMessage(err error) string {
	switch {
	case errors.Is(err, security.ErrTokenExpired):
		return "Token has expired"
	case errors.Is(err, security.ErrTokenRevoked):
		return "Token has been revoked"
	default:
		return "Invalid token"
	}
}
