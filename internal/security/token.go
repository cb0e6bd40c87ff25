package security

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"supply-chain-auth/internal/observability"
)

const (
	DefaultIssuer   = "supply-chain-ai"
	DefaultAudience = "supply-chain-ai-frontend"
	DefaultTokenTTL = 24 * time.Hour

	tokenIDBytes = 32
)

// Identity is the subject data embedded in a token.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

func (c Claims) Identity() Identity {
	return Identity{UserID: c.UserID, Email: c.Email, Role: c.Role}
}

type TokenConfig struct {
	Secret    []byte
	Algorithm string
	TTL       time.Duration
	Issuer    string
	Audience  string
}

// TokenManager issues, verifies and revokes signed access tokens.
//
// A token moves from issued to valid and ends either expired or revoked.
// Verify checks the signature first, then the revocation store, and only
// then the time and audience claims.
type TokenManager struct {
	secret      []byte
	method      jwt.SigningMethod
	ttl         time.Duration
	issuer      string
	audience    string
	revocations RevocationStore
	policy      FailurePolicy
	logger      *observability.Logger
	now         func() time.Time
	parser      *jwt.Parser
	validator   *jwt.Validator
}

type TokenOption func(*TokenManager)

// WithClock overrides the time source used for issuing and validation.
func WithClock(now func() time.Time) TokenOption {
	return func(m *TokenManager) {
		m.now = now
	}
}

func NewTokenManager(cfg TokenConfig, revocations RevocationStore, policy FailurePolicy, logger *observability.Logger, opts ...TokenOption) (*TokenManager, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token signing secret is required")
	}
	if revocations == nil {
		return nil, errors.New("revocation store is required")
	}

	algorithm := cfg.Algorithm
	if algorithm == "" {
		algorithm = jwt.SigningMethodHS256.Alg()
	}
	method, ok := jwt.GetSigningMethod(algorithm).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported signing algorithm %q", algorithm)
	}

	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTokenTTL
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.Audience == "" {
		cfg.Audience = DefaultAudience
	}
	if logger == nil {
		logger = observability.Discard()
	}

	m := &TokenManager{
		secret:      cfg.Secret,
		method:      method,
		ttl:         cfg.TTL,
		issuer:      cfg.Issuer,
		audience:    cfg.Audience,
		revocations: revocations,
		policy:      policy,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	m.validator = jwt.NewValidator(
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	)

	return m, nil
}

// TTL is the lifetime used when Issue is called without one.
func (m *TokenManager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a new token for identity. A non-positive ttl uses the
// configured default.
func (m *TokenManager) Issue(identity Identity, ttl time.Duration) (string, Claims, error) {
	if ttl <= 0 {
		ttl = m.ttl
	}

	tokenID, err := newTokenID()
	if err != nil {
		return "", Claims{}, fmt.Errorf("generate token id: %w", err)
	}

	now := m.now().UTC()
	claims := Claims{
		UserID: identity.UserID,
		Email:  identity.Email,
		Role:   identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        tokenID,
		},
	}

	signed, err := jwt.NewWithClaims(m.method, claims).SignedString(m.secret)
	if err != nil {
		return "", Claims{}, fmt.Errorf("sign jwt: %w", err)
	}

	return signed, claims, nil
}

// Verify returns the claims of a valid token. Errors are one of
// ErrBadSignature, ErrTokenMalformed, ErrTokenRevoked or ErrTokenExpired.
func (m *TokenManager) Verify(ctx context.Context, tokenString string) (Claims, error) {
	claims, err := m.parseSigned(tokenString)
	if err != nil {
		return Claims{}, err
	}
	if claims.ID == "" {
		return Claims{}, fmt.Errorf("%w: missing jti", ErrTokenMalformed)
	}

	if m.isRevoked(ctx, claims.ID) {
		return Claims{}, ErrTokenRevoked
	}

	if claims.IssuedAt == nil {
		return Claims{}, fmt.Errorf("%w: missing iat", ErrTokenMalformed)
	}
	if err := m.validator.Validate(claims); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrTokenExpired
		}
		return Claims{}, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}

	return *claims, nil
}

// Revoke blacklists a token until its natural expiry. Tokens that are
// malformed, foreign or already expired are ignored. Only a failed write
// to the revocation store is reported.
func (m *TokenManager) Revoke(ctx context.Context, tokenString string) error {
	claims, err := m.parseSigned(tokenString)
	if err != nil || claims.ID == "" || claims.ExpiresAt == nil {
		m.logger.Info("token_revoke_ignored", map[string]any{"reason": "unverifiable token"})
		return nil
	}

	ttl := max(claims.ExpiresAt.Time.Sub(m.now()), 0)
	if err := m.revocations.Add(ctx, claims.ID, ttl); err != nil {
		m.logger.SecurityEvent("security_backend_error", map[string]any{
			"component": "revocation",
			"operation": "add",
			"error":     err.Error(),
		})
		return fmt.Errorf("revoke token: %w", err)
	}

	m.logger.SecurityEvent("token_revoked", map[string]any{
		"jti":         claims.ID,
		"user_id":     claims.UserID,
		"ttl_seconds": int64(ttl.Seconds()),
		"backend":     m.revocations.Backend(),
	})

	return nil
}

func (m *TokenManager) parseSigned(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenMalformed)
	}

	claims := &Claims{}
	token, err := m.parser.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, ErrBadSignature
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
	if !token.Valid {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

func (m *TokenManager) isRevoked(ctx context.Context, tokenID string) bool {
	revoked, err := m.revocations.Contains(ctx, tokenID)
	if err != nil {
		m.logger.SecurityEvent("security_backend_error", map[string]any{
			"component": "revocation",
			"operation": "contains",
			"policy":    m.policy.String(),
			"error":     err.Error(),
		})
		return m.policy == FailClosed
	}

	return revoked
}

func newTokenID() (string, error) {
	b := make([]byte, tokenIDBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
