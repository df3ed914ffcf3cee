package auth

import (
	"context"
	"errors"
	"fmt"

	"llm-chat-service/internal/logging"
	"llm-chat-service/internal/models"
	"llm-chat-service/internal/repositories"
)

// UserStore is the part of the user registry the authenticator reads and,
// for hash upgrades, writes.
type UserStore interface {
	GetUser(ctx context.Context, username string) (models.User, error)
	SetPassword(ctx context.Context, username string, password string) error
}

// Options tune credential handling.
type Options struct {
	// AllowPlaintext accepts registry passwords stored in clear text.
	AllowPlaintext bool
	// UpgradeHashes re-stores a plaintext password as bcrypt after a
	// successful login.
	UpgradeHashes bool
}

// Authenticator verifies credentials against the registry and issues
// tokens from its TokenStore.
type Authenticator struct {
	users  UserStore
	tokens *TokenStore
	opts   Options
	log    logging.Logger
}

// NewAuthenticator builds an Authenticator.
func NewAuthenticator(users UserStore, tokens *TokenStore, opts Options, log logging.Logger) *Authenticator {
	if log == nil {
		log = logging.Nop()
	}
	return &Authenticator{users: users, tokens: tokens, opts: opts, log: log.With("component", "auth")}
}

// Authenticate checks username/password and returns a new bearer token.
func (a *Authenticator) Authenticate(ctx context.Context, username, password string) (string, error) {
	user, err := a.users.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("load user: %w", err)
	}

	ok, err := CheckPassword(user.Password, password, a.opts.AllowPlaintext)
	if err != nil {
		return "", fmt.Errorf("check password: %w", err)
	}
	if !ok {
		return "", ErrInvalidCredentials
	}

	if a.opts.UpgradeHashes && !IsHashed(user.Password) {
		a.upgradeHash(ctx, username, password)
	}

	return a.tokens.Issue(username), nil
}

// Resolve maps a bearer token to its username.
func (a *Authenticator) Resolve(token string) (string, error) {
	return a.tokens.Resolve(token)
}

// Logout invalidates token.
func (a *Authenticator) Logout(token string) {
	a.tokens.Revoke(token)
}

// A failed upgrade leaves the plaintext credential in place; login still succeeds.
func (a *Authenticator) upgradeHash(ctx context.Context, username, password string) {
	hash, err := HashPassword(password)
	if err == nil {
		err = a.users.SetPassword(ctx, username, hash)
	}
	if err != nil {
		a.log.Warn(ctx, "password hash upgrade failed", "username", username, "error", err)
		return
	}
	a.log.Info(ctx, "password upgraded to bcrypt", "username", username)
}
