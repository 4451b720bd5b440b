// Package auth guards the fit service with bearer API keys. Only bcrypt
// hashes of the keys are kept.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidKey = errors.New("invalid API key")
	ErrMissingKey = errors.New("missing API key")
)

// KeyStore validates API keys against bcrypt hashes
type KeyStore struct {
	hashes [][]byte
	// verified caches keys that already matched a hash
	verified map[string]struct{}
	mu       sync.RWMutex
}

// NewKeyStore creates a store from bcrypt hashes
func NewKeyStore(hashes ...string) (*KeyStore, error) {
	ks := &KeyStore{verified: make(map[string]struct{})}
	for _, h := range hashes {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		if _, err := bcrypt.Cost([]byte(h)); err != nil {
			return nil, fmt.Errorf("invalid API key hash: %w", err)
		}
		ks.hashes = append(ks.hashes, []byte(h))
	}
	return ks, nil
}

// Len returns the number of configured keys
func (ks *KeyStore) Len() int {
	return len(ks.hashes)
}

// GenerateAPIKey returns a new random key and its bcrypt hash
func GenerateAPIKey() (key, hash string, err error) {
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate API key: %w", err)
	}
	key = base64.RawURLEncoding.EncodeToString(keyBytes)
	hash, err = HashKey(key)
	return key, hash, err
}

// HashKey returns the bcrypt hash of key
func HashKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash API key: %w", err)
	}
	return string(h), nil
}

// Validate checks key against every configured hash
func (ks *KeyStore) Validate(key string) error {
	if key == "" {
		return ErrMissingKey
	}

	ks.mu.RLock()
	for cached := range ks.verified {
		if SecureCompare(cached, key) {
			ks.mu.RUnlock()
			return nil
		}
	}
	ks.mu.RUnlock()

	for _, h := range ks.hashes {
		if bcrypt.CompareHashAndPassword(h, []byte(key)) == nil {
			ks.mu.Lock()
			ks.verified[key] = struct{}{}
			ks.mu.Unlock()
			return nil
		}
	}
	return ErrInvalidKey
}

// Middleware requires "Authorization: Bearer <key>" on every path except
// the ones listed in open. A store without keys lets everything through.
func (ks *KeyStore) Middleware(open ...string) func(http.Handler) http.Handler {
	public := make(map[string]bool, len(open))
	for _, p := range open {
		public[p] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ks.Len() == 0 || public[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			key, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				key = ""
			}
			if err := ks.Validate(strings.TrimSpace(key)); err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="gwsetup"`)
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SecureCompare performs constant-time comparison
func SecureCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
