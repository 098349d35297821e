package security

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAccessToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		token, err := GenerateAccessToken()
		require.NoError(t, err)
		assert.Len(t, token, 43)
		assert.False(t, seen[token])
		seen[token] = true
	}
}

func TestTokenDigest(t *testing.T) {
	d := TokenDigest("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", d)
	assert.NotEqual(t, d, TokenDigest("abd"))
}

func TestPasswords(t *testing.T) {
	hash, err := HashPassword("phở-bò-2024")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "phở-bò-2024"))
	assert.False(t, CheckPassword(hash, "pho-bo-2024"))
	assert.False(t, CheckPassword("not-a-hash", "phở-bò-2024"))

	_, err = HashPassword("short")
	assert.ErrorIs(t, err, ErrWeakPassword)
	_, err = HashPassword(strings.Repeat("a", 73))
	assert.ErrorIs(t, err, ErrWeakPassword)
}

func TestCORS(t *testing.T) {
	called := false
	h := CORS("https://recipes.example.vn")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/checkout", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, called, "preflight stops at the middleware")
	assert.Equal(t, "https://recipes.example.vn", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/plans", nil))
	assert.True(t, called)
}
