package protocol

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// AuthToken is a bearer token accepted by the control channel's optional
// auth handshake.
type AuthToken struct {
	Token     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// TokenManager issues and validates bearer tokens for C5's optional auth
// step, adapted from a join-token manager idiom with the
// manager/worker role field dropped: C5 auth is a single bearer-token
// class, not a role grant.
type TokenManager struct {
	mu     sync.RWMutex
	tokens map[string]*AuthToken
}

// NewTokenManager constructs an empty TokenManager.
func NewTokenManager() *TokenManager {
	return &TokenManager{tokens: make(map[string]*AuthToken)}
}

// Generate creates a new random token valid for duration.
func (tm *TokenManager) Generate(duration time.Duration) (*AuthToken, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("protocol: generate token: %w", err)
	}
	t := &AuthToken{
		Token:     hex.EncodeToString(buf),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(duration),
	}
	tm.mu.Lock()
	tm.tokens[t.Token] = t
	tm.mu.Unlock()
	return t, nil
}

// Validate reports whether token is known and unexpired.
func (tm *TokenManager) Validate(token string) bool {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	t, ok := tm.tokens[token]
	if !ok {
		return false
	}
	return time.Now().Before(t.ExpiresAt)
}

// Revoke removes token immediately.
func (tm *TokenManager) Revoke(token string) {
	tm.mu.Lock()
	delete(tm.tokens, token)
	tm.mu.Unlock()
}

// CleanupExpired removes every token past its expiry.
func (tm *TokenManager) CleanupExpired() {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	now := time.Now()
	for k, t := range tm.tokens {
		if now.After(t.ExpiresAt) {
			delete(tm.tokens, k)
		}
	}
}
