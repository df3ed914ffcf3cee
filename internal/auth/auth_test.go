package auth

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"llm-chat-service/internal/repositories"
)

func newRegistry(t *testing.T, seed string) *repositories.UserRepo {
	t.Helper()
	path := filepath.Join(t.TempDir(), "users.json")
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o644))
	repo, err := repositories.NewUserRepo(path)
	require.NoError(t, err)
	return repo
}

func TestAuthenticateIssuesResolvableToken(t *testing.T) {
	users := newRegistry(t, `{"alice": {"password": "secret", "chats": []}}`)
	authn := NewAuthenticator(users, NewTokenStore(0), Options{AllowPlaintext: true}, nil)

	token, err := authn.Authenticate(context.Background(), "alice", "secret")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	for i := 0; i < 3; i++ {
		username, err := authn.Resolve(token)
		require.NoError(t, err)
		assert.Equal(t, "alice", username)
	}

	other, err := authn.Authenticate(context.Background(), "alice", "secret")
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	users := newRegistry(t, `{"alice": {"password": "secret"}, "empty": {"password": ""}}`)
	tokens := NewTokenStore(0)
	authn := NewAuthenticator(users, tokens, Options{AllowPlaintext: true}, nil)

	cases := []struct{ username, password string }{
		{"alice", "wrong"},
		{"alice", ""},
		{"mallory", "secret"},
		{"empty", ""},
	}
	for _, tc := range cases {
		token, err := authn.Authenticate(context.Background(), tc.username, tc.password)
		assert.ErrorIs(t, err, ErrInvalidCredentials, tc)
		assert.Empty(t, token)
	}
	assert.Zero(t, tokens.Len())
}

func TestAuthenticateWithBcryptHash(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	users := newRegistry(t, fmt.Sprintf(`{"alice": {"password": %q}}`, string(hash)))
	authn := NewAuthenticator(users, NewTokenStore(0), Options{AllowPlaintext: false}, nil)

	_, err = authn.Authenticate(context.Background(), "alice", "secret")
	require.NoError(t, err)
	_, err = authn.Authenticate(context.Background(), "alice", "nope")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestPlaintextRejectedWhenDisabled(t *testing.T) {
	users := newRegistry(t, `{"alice": {"password": "secret"}}`)
	authn := NewAuthenticator(users, NewTokenStore(0), Options{AllowPlaintext: false}, nil)

	_, err := authn.Authenticate(context.Background(), "alice", "secret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestAuthenticateUpgradesPlaintext(t *testing.T) {
	users := newRegistry(t, `{"alice": {"password": "secret"}}`)
	authn := NewAuthenticator(users, NewTokenStore(0), Options{AllowPlaintext: true, UpgradeHashes: true}, nil)

	_, err := authn.Authenticate(context.Background(), "alice", "secret")
	require.NoError(t, err)

	alice, err := users.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, IsHashed(alice.Password))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(alice.Password), []byte("secret")))

	_, err = authn.Authenticate(context.Background(), "alice", "secret")
	assert.NoError(t, err)
}

func TestResolveErrors(t *testing.T) {
	tokens := NewTokenStore(0)

	_, err := tokens.Resolve("")
	assert.ErrorIs(t, err, ErrMissingToken)
	_, err = tokens.Resolve("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tokens := NewTokenStore(time.Hour)
	tokens.now = func() time.Time { return now }

	token := tokens.Issue("alice")
	stale := tokens.Issue("bob")

	now = now.Add(59 * time.Minute)
	username, err := tokens.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)

	now = now.Add(time.Minute)
	_, err = tokens.Resolve(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	assert.Equal(t, 1, tokens.PurgeExpired())
	assert.Zero(t, tokens.Len())
	_, err = tokens.Resolve(stale)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevokeAndClose(t *testing.T) {
	tokens := NewTokenStore(0)
	a := tokens.Issue("alice")
	b := tokens.Issue("bob")

	tokens.Revoke(a)
	_, err := tokens.Resolve(a)
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = tokens.Resolve(b)
	assert.NoError(t, err)
	assert.Zero(t, tokens.PurgeExpired())

	tokens.Close()
	_, err = tokens.Resolve(b)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenStoreConcurrentUse(t *testing.T) {
	tokens := NewTokenStore(0)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("user-%d", i)
			token := tokens.Issue(name)
			got, err := tokens.Resolve(token)
			assert.NoError(t, err)
			assert.Equal(t, name, got)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 50, tokens.Len())
}

func TestCheckPassword(t *testing.T) {
	ok, err := CheckPassword("pw", "pw", true)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = CheckPassword("pw", "pw", false)
	require.NoError(t, err)
	assert.False(t, ok)

	hash, err := HashPassword("pw")
	require.NoError(t, err)
	assert.True(t, IsHashed(hash))
	ok, err = CheckPassword(hash, "pw", false)
	require.NoError(t, err)
	assert.True(t, ok)
}
