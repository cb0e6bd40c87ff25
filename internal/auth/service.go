package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"supply-chain-auth/internal/observability"
	"supply-chain-auth/internal/security"
)

const (
	defaultMaxFailures   = 5
	defaultFailureWindow = 15 * time.Minute
	defaultRole          = "admin"

	failureKeyPrefix = "login_fail:"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrUserNotFound       = errors.New("user not found")
	ErrAccountInactive    = errors.New("user not found or inactive")
)

// Service authenticates credential records and manages their tokens.
type Service struct {
	store         UserStore
	passwords     *security.PasswordHasher
	tokens        *security.TokenManager
	limiter       *security.Guard
	logger        *observability.Logger
	maxFailures   int
	failureWindow time.Duration
	now           func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewService(store UserStore, manager *security.Manager, logger *observability.Logger) *Service {
	if logger == nil {
		logger = observability.Discard()
	}

	return &Service{
		store:         store,
		passwords:     manager.Passwords(),
		tokens:        manager.Tokens(),
		limiter:       manager.Limiter(),
		logger:        logger,
		maxFailures:   defaultMaxFailures,
		failureWindow: defaultFailureWindow,
		now:           time.Now,
	}
}

// WithFailureLimit sets how many failed logins an account may collect
// inside window before further attempts are refused.
func (s *Service) WithFailureLimit(maxFailures int, window time.Duration) {
	if maxFailures > 0 {
		s.maxFailures = maxFailures
	}
	if window > 0 {
		s.failureWindow = window
	}
}

// Login checks email and password and issues a token. Unknown, inactive
// and wrong-password accounts all return ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return LoginResult{}, ErrInvalidCredentials
	}

	failureKey := failureKeyPrefix + email
	if s.limiter.Exceeded(ctx, failureKey, s.maxFailures, s.failureWindow) {
		s.logger.SecurityEvent("login_rate_limited", map[string]any{
			"email": email,
			"scope": "account",
		})
		return LoginResult{}, security.ErrRateLimited
	}

	user, err := s.store.FindActiveByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrUserNotFound) {
			return LoginResult{}, err
		}
		// Keep the unknown-account path as slow as a real comparison.
		s.passwords.Verify(password, s.timingHash())
		s.recordFailure(ctx, failureKey, email, "unknown_or_inactive")
		return LoginResult{}, ErrInvalidCredentials
	}

	if !s.passwords.Verify(password, user.PasswordHash) {
		s.recordFailure(ctx, failureKey, email, "invalid_password")
		return LoginResult{}, ErrInvalidCredentials
	}

	if err := s.store.TouchLastLogin(ctx, user.ID, s.now().UTC()); err != nil {
		return LoginResult{}, err
	}

	token, _, err := s.tokens.Issue(identityOf(user), 0)
	if err != nil {
		return LoginResult{}, err
	}

	s.logger.Info("login_succeeded", map[string]any{"user_id": user.ID, "email": user.Email})

	return LoginResult{User: user.Public(), Token: token}, nil
}

// VerifyToken returns the account a valid token was issued for.
func (s *Service) VerifyToken(ctx context.Context, token string) (TokenUser, error) {
	claims, err := s.tokens.Verify(ctx, token)
	if err != nil {
		s.logger.SecurityEvent("token_rejected", map[string]any{"reason": err.Error()})
		return TokenUser{}, err
	}

	return TokenUser{ID: claims.UserID, Email: claims.Email, Role: claims.Role}, nil
}

// Refresh issues a new token for userID, provided the account still
// exists and is active. The presented token stays valid.
func (s *Service) Refresh(ctx context.Context, userID string) (string, error) {
	user, err := s.store.FindActiveByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.logger.SecurityEvent("refresh_rejected", map[string]any{
				"user_id": userID,
				"reason":  "user not found or inactive",
			})
			return "", ErrAccountInactive
		}
		return "", err
	}

	refreshed, _, err := s.tokens.Issue(identityOf(user), 0)
	if err != nil {
		return "", err
	}

	return refreshed, nil
}

// Logout revokes token until it would have expired.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.tokens.Revoke(ctx, token)
}

// FailureWindow is how long failed logins count against an account.
func (s *Service) FailureWindow() time.Duration {
	return s.failureWindow
}

// TestConnection pings the store and counts the credential records.
func (s *Service) TestConnection(ctx context.Context) (int64, error) {
	if err := s.store.Ping(ctx); err != nil {
		return 0, err
	}

	count, err := s.store.CountUsers(ctx)
	if err != nil {
		return 0, err
	}

	s.logger.Info("database_connection_test_succeeded", map[string]any{"users": count})
	return count, nil
}

// Connected reports whether the store answers a ping.
func (s *Service) Connected(ctx context.Context) bool {
	return s.store.Ping(ctx) == nil
}

// BootstrapAdmin creates or resets the configured admin account. Both
// email and password empty is a no-op.
func (s *Service) BootstrapAdmin(ctx context.Context, email, password, name string) error {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)

	if email == "" && password == "" {
		return nil
	}
	if email == "" || password == "" {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("ADMIN_EMAIL %q is not a valid email", email)
	}
	if name == "" {
		name = "Administrator"
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return err
	}

	if err := s.store.UpsertUser(ctx, UpsertUserInput{
		Email:        email,
		Name:         name,
		Role:         defaultRole,
		PasswordHash: hash,
	}); err != nil {
		return err
	}

	s.logger.Info("admin_bootstrapped", map[string]any{"email": email})
	return nil
}

func (s *Service) recordFailure(ctx context.Context, failureKey, email, reason string) {
	s.limiter.Allow(ctx, failureKey, s.maxFailures, s.failureWindow)
	s.logger.SecurityEvent("login_failed", map[string]any{
		"email":  email,
		"reason": reason,
	})
}

func (s *Service) timingHash() string {
	s.dummyOnce.Do(func() {
		hash, err := s.passwords.Hash("timing-equalizer-password")
		if err == nil {
			s.dummyHash = hash
		}
	})
	return s.dummyHash
}

func identityOf(user User) security.Identity {
	return security.Identity{UserID: user.ID, Email: user.Email, Role: user.Role}
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
