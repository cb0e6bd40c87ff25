package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"supply-chain-auth/internal/observability"
	"supply-chain-auth/internal/security"
)

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

const (
	maxJSONBodyBytes  = 1 << 20
	maxPasswordLength = 200
)

type Handler struct {
	service *Service
	logger  *observability.Logger
}

func NewHandler(service *Service, logger *observability.Logger) *Handler {
	if logger == nil {
		logger = observability.Discard()
	}
	return &Handler{service: service, logger: logger}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	User    *PublicUser `json:"user,omitempty"`
	Token   string      `json:"token,omitempty"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type verifyResponse struct {
	Success bool      `json:"success"`
	Message string    `json:"message"`
	User    TokenUser `json:"user"`
}

type refreshResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Token   string `json:"token"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body loginRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	body.Email = strings.TrimSpace(body.Email)
	if !emailRegex.MatchString(body.Email) {
		writeError(w, http.StatusUnprocessableEntity, "email must be a valid email address")
		return
	}
	if body.Password == "" {
		writeError(w, http.StatusUnprocessableEntity, "password is required")
		return
	}
	if len(body.Password) > maxPasswordLength {
		writeError(w, http.StatusUnprocessableEntity, "password is too long")
		return
	}

	result, err := h.service.Login(r.Context(), body.Email, body.Password)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			writeJSON(w, http.StatusOK, loginResponse{Success: false, Message: "Invalid email or password"})
		case errors.Is(err, security.ErrRateLimited):
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(h.service.FailureWindow().Seconds())))
			writeError(w, http.StatusTooManyRequests, "Too many failed login attempts")
		default:
			h.logger.Error("login_failed_internal", map[string]any{"error": err.Error()})
			observability.CaptureError(r, err)
			writeError(w, http.StatusInternalServerError, "Authentication failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Success: true,
		Message: "Login successful",
		User:    &result.User,
		Token:   result.Token,
	})
}

func (h *Handler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		Success: true,
		Message: "Token is valid",
		User:    user,
	})
}

func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	token, err := h.service.Refresh(r.Context(), user.ID)
	if err != nil {
		if errors.Is(err, ErrAccountInactive) {
			writeError(w, http.StatusUnauthorized, "User not found or inactive")
			return
		}
		h.logger.Error("token_refresh_failed", map[string]any{"error": err.Error(), "user_id": user.ID})
		observability.CaptureError(r, err)
		writeError(w, http.StatusInternalServerError, "Token refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, refreshResponse{
		Success: true,
		Message: "Token refreshed successfully",
		Token:   token,
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	token, ok := TokenFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Invalid token")
		return
	}

	// A failed revocation write is logged by the token manager; the
	// client is logged out either way.
	_ = h.service.Logout(r.Context(), token)

	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "Logged out"})
}

func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	count, err := h.service.TestConnection(r.Context())
	if err != nil {
		h.logger.Error("database_connection_test_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusOK, messageResponse{
			Success: false,
			Message: fmt.Sprintf("Database connection failed: %v", err),
		})
		return
	}

	writeJSON(w, http.StatusOK, messageResponse{
		Success: true,
		Message: fmt.Sprintf("Database connection successful. Found %d users in collection.", count),
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, messageResponse{Success: false, Message: message})
}

func retryAfterSeconds(seconds float64) int {
	if seconds < 1 {
		return 1
	}
	return int(seconds)
}
