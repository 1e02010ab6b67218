// Package auth guards the local control surface with a shared token.
// Only a bcrypt hash of the token is stored in the configuration.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// HeaderToken is the alternative to an Authorization bearer header.
const HeaderToken = "X-API-Token"

var ErrEmptyToken = errors.New("token must not be empty")

// GenerateToken returns a random URL-safe token.
func GenerateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// HashToken returns the bcrypt hash stored in place of token.
func HashToken(token string, cost int) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(token), cost)
	if err != nil {
		return "", fmt.Errorf("hash token: %w", err)
	}
	return string(h), nil
}

// Verifier checks presented tokens against a stored hash. The last token
// that verified is remembered by digest so repeat requests skip bcrypt.
type Verifier struct {
	hash []byte

	mu   sync.Mutex
	last [sha256.Size]byte
	ok   bool
}

// NewVerifier returns a Verifier for hash. An empty hash disables checks.
func NewVerifier(hash string) *Verifier {
	return &Verifier{hash: []byte(hash)}
}

func (v *Verifier) Enabled() bool { return v != nil && len(v.hash) > 0 }

// Verify reports whether token matches the stored hash.
func (v *Verifier) Verify(token string) bool {
	if !v.Enabled() {
		return true
	}
	if token == "" {
		return false
	}
	sum := sha256.Sum256([]byte(token))
	v.mu.Lock()
	cached := v.ok && subtle.ConstantTimeCompare(sum[:], v.last[:]) == 1
	v.mu.Unlock()
	if cached {
		return true
	}
	if bcrypt.CompareHashAndPassword(v.hash, []byte(token)) != nil {
		return false
	}
	v.mu.Lock()
	v.last, v.ok = sum, true
	v.mu.Unlock()
	return true
}
