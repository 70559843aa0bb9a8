package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	stdtime "time"
)

// TokenRegistry is the in-memory set of outstanding refresh tokens.
// It lives for the lifetime of the process and is never persisted, so a
// restart invalidates every refresh token.
type TokenRegistry struct {
	mu      sync.RWMutex
	entries map[string]registryEntry
}

type registryEntry struct {
	subject   string
	expiresAt stdtime.Time
}

// NewTokenRegistry creates an empty registry.
func NewTokenRegistry() *TokenRegistry {
	return &TokenRegistry{entries: make(map[string]registryEntry)}
}

// Add records a refresh token issued to subject.
func (r *TokenRegistry) Add(token, subject string, expiresAt stdtime.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[hashToken(token)] = registryEntry{subject: subject, expiresAt: expiresAt}
}

// Contains reports whether token is outstanding.
func (r *TokenRegistry) Contains(token string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[hashToken(token)]
	return ok
}

// Remove forgets a single token. Removing an unknown token is a no-op.
func (r *TokenRegistry) Remove(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, hashToken(token))
}

// RemoveSubject forgets every token issued to subject and returns how many were dropped.
func (r *TokenRegistry) RemoveSubject(subject string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for h, e := range r.entries {
		if e.subject == subject {
			delete(r.entries, h)
			n++
		}
	}
	return n
}

// Prune drops tokens that expired before now.
func (r *TokenRegistry) Prune(now stdtime.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for h, e := range r.entries {
		if !now.Before(e.expiresAt) {
			delete(r.entries, h)
			n++
		}
	}
	return n
}

// Len returns the number of outstanding tokens.
func (r *TokenRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// hashToken creates a SHA-256 hash of a token so raw tokens are never held in memory longer than needed.
func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
