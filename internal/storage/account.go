package storage

import (
	"context"
	"errors"
	"time"
)

var ErrInvalidAccount = errors.New("invalid user account")

// UserAccount is the persistence model for login credentials. The
// password field always holds a bcrypt hash.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

// UserStore is the credential backend consumed by the HTTP auth layer.
type UserStore interface {
	CreateUser(ctx context.Context, user UserAccount) error
	ListUsers(ctx context.Context) ([]UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
