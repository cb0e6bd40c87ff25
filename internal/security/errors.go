package security

import "errors"

var (
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenRevoked       = errors.New("token has been revoked")
	ErrTokenMalformed     = errors.New("token is malformed")
	ErrBadSignature       = errors.New("token signature is invalid")
	ErrBackendUnavailable = errors.New("security backend unavailable")
	ErrRateLimited        = errors.New("rate limit exceeded")
)
