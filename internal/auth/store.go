package auth

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mock_user_store_test.go -package=auth . UserStore

// UserStore is the document store holding credential records. Lookups
// return ErrUserNotFound when no active record matches.
type UserStore interface {
	FindActiveByEmail(ctx context.Context, email string) (User, error)
	FindActiveByID(ctx context.Context, id string) (User, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	CountUsers(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	UpsertUser(ctx context.Context, input UpsertUserInput) error
}
