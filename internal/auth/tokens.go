// Package auth verifies credentials and manages the bearer tokens issued
// on login.
package auth

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrMissingToken       = errors.New("missing token")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

type session struct {
	username  string
	issuedAt  time.Time
	expiresAt time.Time
}

// TokenStore is the process-lifetime token → username cache. Nothing is
// persisted: a restart drops every session. With a zero TTL tokens never
// expire.
type TokenStore struct {
	mu       sync.RWMutex
	sessions map[string]session
	ttl      time.Duration
	now      func() time.Time
}

// NewTokenStore creates an empty store.
func NewTokenStore(ttl time.Duration) *TokenStore {
	return &TokenStore{
		sessions: make(map[string]session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Issue mints a fresh random token bound to username.
func (s *TokenStore) Issue(username string) string {
	token := uuid.NewString()
	now := s.now()
	sess := session{username: username, issuedAt: now}
	if s.ttl > 0 {
		sess.expiresAt = now.Add(s.ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = sess
	return token
}

// Resolve returns the username bound to token.
func (s *TokenStore) Resolve(token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok {
		return "", ErrInvalidToken
	}
	if !sess.expiresAt.IsZero() && !s.now().Before(sess.expiresAt) {
		s.Revoke(token)
		return "", ErrInvalidToken
	}
	return sess.username, nil
}

// Revoke invalidates a single token. Unknown tokens are ignored.
func (s *TokenStore) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
}

// PurgeExpired drops expired sessions and reports how many were removed.
func (s *TokenStore) PurgeExpired() int {
	if s.ttl <= 0 {
		return 0
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for token, sess := range s.sessions {
		if !now.Before(sess.expiresAt) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed
}

// Len reports the number of live sessions.
func (s *TokenStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close drops all sessions.
func (s *TokenStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]session)
}
