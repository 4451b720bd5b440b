package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func testStore(t *testing.T) (*KeyStore, string) {
	t.Helper()
	key := "s3cret-key"
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	require.NoError(t, err)
	ks, err := NewKeyStore(string(h), "")
	require.NoError(t, err)
	return ks, key
}

func TestValidate(t *testing.T) {
	ks, key := testStore(t)
	assert.Equal(t, 1, ks.Len())

	assert.NoError(t, ks.Validate(key))
	assert.NoError(t, ks.Validate(key), "cached")
	assert.ErrorIs(t, ks.Validate("wrong"), ErrInvalidKey)
	assert.ErrorIs(t, ks.Validate(""), ErrMissingKey)
}

func TestNewKeyStoreRejectsGarbage(t *testing.T) {
	_, err := NewKeyStore("not-a-hash")
	assert.Error(t, err)
}

func TestGenerateAPIKey(t *testing.T) {
	key, hash, err := GenerateAPIKey()
	require.NoError(t, err)
	assert.Len(t, key, 43)

	ks, err := NewKeyStore(hash)
	require.NoError(t, err)
	assert.NoError(t, ks.Validate(key))
}

func TestMiddleware(t *testing.T) {
	ks, key := testStore(t)
	h := ks.Middleware("/health")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(path, authz string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if authz != "" {
			req.Header.Set("Authorization", authz)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, serve("/health", ""))
	assert.Equal(t, http.StatusUnauthorized, serve("/v1/hosts", ""))
	assert.Equal(t, http.StatusUnauthorized, serve("/v1/hosts", "Bearer nope"))
	assert.Equal(t, http.StatusUnauthorized, serve("/v1/hosts", key))
	assert.Equal(t, http.StatusOK, serve("/v1/hosts", "Bearer "+key))
}

func TestMiddlewareWithoutKeys(t *testing.T) {
	ks, err := NewKeyStore()
	require.NoError(t, err)
	h := ks.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/hosts", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
