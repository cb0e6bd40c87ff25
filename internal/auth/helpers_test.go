package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"supply-chain-auth/internal/security"
)

var testSecret = []byte("auth-test-secret-with-enough-entropy")

const (
	testEmail    = "planner@supplychain.example"
	testPassword = "correct-horse-battery"
	testUserID   = "0195f7a2-3c4d-7e8f-9a0b-1c2d3e4f5a6b"
)

func testManagerConfig() security.ManagerConfig {
	return security.ManagerConfig{
		Token:      security.TokenConfig{Secret: testSecret, TTL: time.Hour},
		BcryptCost: bcrypt.MinCost,
		Policy:     security.FailOpen,
	}
}

func newTestManager(t *testing.T, opts ...security.TokenOption) *security.Manager {
	t.Helper()
	manager, err := security.NewManager(testManagerConfig(), nil, nil, opts...)
	require.NoError(t, err)
	return manager
}

func newTestUser(t *testing.T, manager *security.Manager) User {
	t.Helper()
	hash, err := manager.Passwords().Hash(testPassword)
	require.NoError(t, err)

	now := time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	return User{
		ID:           testUserID,
		Email:        testEmail,
		Name:         "Demand Planner",
		Role:         "analyst",
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

type testEnv struct {
	store   *MockUserStore
	manager *security.Manager
	service *Service
	handler http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctrl := gomock.NewController(t)
	store := NewMockUserStore(ctrl)
	manager := newTestManager(t)
	service := NewService(store, manager, nil)
	handler := NewHandler(service, nil)
	loginLimiter := NewLoginRateLimiter(manager.Limiter(), 5, time.Minute, nil)

	mux := http.NewServeMux()
	mux.Handle("POST /api/auth/login", loginLimiter.Middleware(http.HandlerFunc(handler.Login)))
	mux.Handle("GET /api/auth/verify-token", Middleware(service, http.HandlerFunc(handler.VerifyToken)))
	mux.Handle("GET /api/auth/refresh-token", Middleware(service, http.HandlerFunc(handler.RefreshToken)))
	mux.Handle("POST /api/auth/logout", Middleware(service, http.HandlerFunc(handler.Logout)))
	mux.HandleFunc("POST /api/auth/test-connection", handler.TestConnection)

	return &testEnv{store: store, manager: manager, service: service, handler: mux}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	switch v := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(v))
	default:
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}
