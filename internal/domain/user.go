package domain

import (
	"context"
	"errors"
	"time"
)

// User is a registered account. The id doubles as the owner id scoping
// every synced entity and ledger row.
type User struct {
	ID             string
	Email          string
	HashedPassword string
	CreatedAt      time.Time
}

// ErrEmailTaken indicates a signup repeated or raced an existing email.
var ErrEmailTaken = errors.New("email already registered")

// UserStore captures account persistence for signup and login.
type UserStore interface {
	CreateUser(ctx context.Context, u User) error
	// FindUserByEmail returns (nil, nil) when no account matches.
	FindUserByEmail(ctx context.Context, email string) (*User, error)
}
