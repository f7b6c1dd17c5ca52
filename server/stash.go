package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// TokenStash maps opaque bearer tokens to authenticated sessions. It is,
// together with the state store, the only shared mutable state in the
// gateway and must stay safe under concurrent request handling.
type TokenStash struct {
	mu       sync.RWMutex
	sessions map[string]AuthenticatedSession
}

// NewTokenStash constructs an empty stash.
func NewTokenStash() *TokenStash {
	return &TokenStash{
		sessions: make(map[string]AuthenticatedSession),
	}
}

// Insert creates a session for the given identity and returns the bearer
// token correlated with it. The token is a random UUID regenerated on the
// (vanishingly rare) collision with a live entry.
func (ts *TokenStash) Insert(scheme AuthScheme, username, password string, ttl time.Duration) string {
	if scheme != SchemeBasic {
		password = ""
	}
	sess := AuthenticatedSession{
		Scheme:    scheme,
		Username:  username,
		Password:  password,
		ExpiresAt: time.Now().Add(ttl),
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()

	token := uuid.NewString()
	for _, exists := ts.sessions[token]; exists; _, exists = ts.sessions[token] {
		token = uuid.NewString()
	}
	ts.sessions[token] = sess
	return token
}

// Lookup returns the session bound to token if present and not expired.
// Expired entries are evicted on sight.
func (ts *TokenStash) Lookup(token string) (AuthenticatedSession, bool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	sess, ok := ts.sessions[token]
	if !ok {
		return AuthenticatedSession{}, false
	}
	if sess.Expired(time.Now()) {
		delete(ts.sessions, token)
		return AuthenticatedSession{}, false
	}
	return sess, true
}

// Remove deletes a token regardless of expiry.
func (ts *TokenStash) Remove(token string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.sessions, token)
}

// Len reports the number of physically present entries, expired or not.
func (ts *TokenStash) Len() int {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	return len(ts.sessions)
}

// Sweep evicts every expired entry and returns how many were removed.
// Entries that are never looked up again would otherwise accumulate for the
// life of the process.
func (ts *TokenStash) Sweep(now time.Time) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	removed := 0
	for token, sess := range ts.sessions {
		if sess.Expired(now) {
			delete(ts.sessions, token)
			removed++
		}
	}
	return removed
}
