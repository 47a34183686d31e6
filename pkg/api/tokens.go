package api

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// streamToken binds a single-use stream credential to one user and one
// generation.
type streamToken struct {
	userID       string
	generationID string
	expiresAt    time.Time
}

// tokenRegistry issues and redeems stream tokens. Tokens are single-use:
// redeeming (or a failed redeem of an expired token) removes them, and the
// client must request a fresh token to reconnect.
type tokenRegistry struct {
	mu     sync.Mutex
	ttl    time.Duration
	tokens map[string]streamToken
	now    func() time.Time
}

func newTokenRegistry(ttl time.Duration) *tokenRegistry {
	return &tokenRegistry{
		ttl:    ttl,
		tokens: make(map[string]streamToken),
		now:    time.Now,
	}
}

// Issue creates a fresh token bound to (userID, generationID).
func (r *tokenRegistry) Issue(userID, generationID string) (string, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pruneLocked()

	token := uuid.NewString()
	expiresAt := r.now().Add(r.ttl)
	r.tokens[token] = streamToken{
		userID:       userID,
		generationID: generationID,
		expiresAt:    expiresAt,
	}
	return token, expiresAt
}

// Redeem consumes a token. It succeeds only when the token exists, has not
// expired, and is bound to the given generation.
func (r *tokenRegistry) Redeem(token, generationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.tokens[token]
	if !ok {
		return false
	}
	delete(r.tokens, token)
	return st.generationID == generationID && r.now().Before(st.expiresAt)
}

// pruneLocked drops expired tokens. Called with r.mu held.
func (r *tokenRegistry) pruneLocked() {
	now := r.now()
	for token, st := range r.tokens {
		if !now.Before(st.expiresAt) {
			delete(r.tokens, token)
		}
	}
}
