package security

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
)

// RandomTokenGenerator issues opaque session tokens for dev backend users.
type RandomTokenGenerator struct {
	Size int
}

func (g RandomTokenGenerator) NewToken() (string, error) {
	size := g.Size
	if size <= 0 {
		size = 32
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token: entropy read failed: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// TokenRegistry maps session tokens to user ids.
type TokenRegistry struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewTokenRegistry() *TokenRegistry {
	return &TokenRegistry{tokens: map[string]string{}}
}

// Issue binds token to userID, generating a token when empty. It returns the bound token.
func (r *TokenRegistry) Issue(userID, token string, gen RandomTokenGenerator) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		var err error
		if token, err = gen.NewToken(); err != nil {
			return "", err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if owner, ok := r.tokens[token]; ok && owner != userID {
		return "", fmt.Errorf("token: already issued to another user")
	}
	r.tokens[token] = userID
	return token, nil
}

// Resolve returns the user bound to token. Comparison is constant time per entry.
func (r *TokenRegistry) Resolve(token string) (string, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var userID string
	found := false
	for known, owner := range r.tokens {
		if subtle.ConstantTimeCompare([]byte(known), []byte(token)) == 1 {
			userID, found = owner, true
		}
	}
	return userID, found
}
