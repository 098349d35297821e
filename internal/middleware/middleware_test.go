package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipestore/internal/data"
	"recipestore/internal/logger"
	"recipestore/internal/security"
)

func TestMain(m *testing.M) {
	logger.UseNop()
	m.Run()
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	WriteAPISuccess(w, r, map[string]string{"ok": "yes"})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var e APIError
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&e))
	return e
}

func TestRequestIDPropagates(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteAPIError(w, r, http.StatusTeapot, "teapot", "short and stout", "")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "abc123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc123", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "abc123", decodeError(t, rec).RequestID)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 16)
}

func TestErrorHandlingRecoversPanics(t *testing.T) {
	h := RequestID(ErrorHandling(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	e := decodeError(t, rec)
	assert.Equal(t, "internal_error", e.Code)
	assert.NotEmpty(t, e.RequestID)
}

func TestSuccessEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteAPIStatus(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusCreated, []int{1, 2})

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.JSONEq(t, `{"success":true,"data":[1,2],"request_id":""}`, rec.Body.String())
}

func TestParseJSONRequest(t *testing.T) {
	type body struct {
		Name string `json:"name"`
	}

	tests := []struct {
		name        string
		contentType string
		payload     string
		wantErr     bool
	}{
		{name: "valid", contentType: "application/json", payload: `{"name":"pho"}`},
		{name: "charset", contentType: "application/json; charset=utf-8", payload: `{"name":"pho"}`},
		{name: "wrong content type", contentType: "text/plain", payload: `{"name":"pho"}`, wantErr: true},
		{name: "unknown field", contentType: "application/json", payload: `{"name":"pho","price":1}`, wantErr: true},
		{name: "malformed", contentType: "application/json", payload: `{"name":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.payload))
			req.Header.Set("Content-Type", tt.contentType)

			var b body
			err := ParseJSONRequest(req, &b)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "pho", b.Name)
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?token=query", nil)
	assert.Empty(t, TokenFromRequest(req), "query tokens are for websocket routes only")
	assert.Equal(t, "query", StreamTokenFromRequest(req))

	req.Header.Set("X-Access-Token", "header")
	assert.Equal(t, "header", StreamTokenFromRequest(req))
	assert.Equal(t, "header", TokenFromRequest(req))

	req.Header.Set("Authorization", "bearer bearer-token")
	assert.Equal(t, "bearer-token", TokenFromRequest(req))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	assert.Empty(t, TokenFromRequest(req))
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(data.RoleChef)(http.HandlerFunc(okHandler))

	tests := []struct {
		name string
		user *data.User
		want int
	}{
		{name: "anonymous", user: nil, want: http.StatusUnauthorized},
		{name: "plain user", user: &data.User{Role: data.RoleUser}, want: http.StatusForbidden},
		{name: "chef", user: &data.User{Role: data.RoleChef}, want: http.StatusOK},
		{name: "admin passes every guard", user: &data.User{Role: data.RoleAdmin}, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.user != nil {
				req = req.WithContext(WithUser(req.Context(), tt.user, "tok"))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRateLimiter(t *testing.T) {
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(time.Second, ByClientIP)
	rl.now = func() time.Time { return clock }

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	clock = clock.Add(999 * time.Millisecond)
	assert.False(t, rl.Allow("a"))

	clock = clock.Add(2 * time.Millisecond)
	assert.True(t, rl.Allow("a"))

	clock = clock.Add(5 * time.Second)
	assert.Equal(t, 2, rl.Prune())
	assert.Equal(t, 0, rl.Prune())
}

func TestRateLimiterMiddleware(t *testing.T) {
	rl := NewRateLimiter(3*time.Second, ByToken)
	h := rl.Middleware(http.HandlerFunc(okHandler))

	send := func(token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/checkout", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("one").Code)

	rec := send("one")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "3", rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limit_exceeded", decodeError(t, rec).Code)

	assert.Equal(t, http.StatusOK, send("two").Code)
}

func TestRateLimiterRetryAfterShrinks(t *testing.T) {
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3*time.Second, ByClientIP)
	rl.now = func() time.Time { return clock }
	h := rl.Middleware(http.HandlerFunc(okHandler))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "192.0.2.1:4000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	require.Equal(t, http.StatusOK, send().Code)

	clock = clock.Add(1200 * time.Millisecond)
	rec := send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	// Refused attempts do not extend the wait.
	clock = clock.Add(1700 * time.Millisecond)
	rec = send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	clock = clock.Add(200 * time.Millisecond)
	assert.Equal(t, http.StatusOK, send().Code)
}

func TestRateLimiterZeroIntervalAllows(t *testing.T) {
	rl := NewRateLimiter(0, ByClientIP)
	for i := 0; i < 5; i++ {
		assert.True(t, rl.Allow("a"))
	}
	assert.Equal(t, 0, rl.Prune())
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, retryAfterSeconds(time.Millisecond))
	assert.Equal(t, 3, retryAfterSeconds(2*time.Second+time.Nanosecond))
	assert.Equal(t, 1, retryAfterSeconds(0))
}

func TestRequireAuth(t *testing.T) {
	require.NoError(t, data.InitDB(filepath.Join(t.TempDir(), "auth.db")))
	t.Cleanup(func() { data.CloseDB() })
	ctx := context.Background()
	require.NoError(t, data.CreateTables(ctx))

	active := &data.User{Email: "active@example.com", PasswordHash: "x", FullName: "Active", Role: data.RoleUser}
	banned := &data.User{Email: "banned@example.com", PasswordHash: "x", FullName: "Banned", Role: data.RoleUser}
	require.NoError(t, data.InsertUser(ctx, active))
	require.NoError(t, data.InsertUser(ctx, banned))
	require.NoError(t, data.SetUserBanned(ctx, banned.ID, true))

	now := time.Now()
	session := func(u *data.User, token string, expires time.Time) {
		require.NoError(t, data.InsertSession(ctx, data.Session{
			TokenDigest: security.TokenDigest(token), UserID: u.ID, CreatedAt: now, ExpiresAt: expires,
		}))
	}
	session(active, "good", now.Add(time.Hour))
	session(active, "stale", now.Add(-time.Minute))
	session(banned, "banned", now.Add(time.Hour))

	var seen *data.User
	h := RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserFromContext(r.Context())
		okHandler(w, r)
	}))

	tests := []struct {
		name     string
		token    string
		wantCode int
		wantErr  string
	}{
		{name: "missing", token: "", wantCode: http.StatusUnauthorized, wantErr: "missing_token"},
		{name: "unknown", token: "nope", wantCode: http.StatusUnauthorized, wantErr: "invalid_token"},
		{name: "expired", token: "stale", wantCode: http.StatusUnauthorized, wantErr: "invalid_token"},
		{name: "banned", token: "banned", wantCode: http.StatusForbidden, wantErr: "banned"},
		{name: "valid", token: "good", wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, decodeError(t, rec).Code)
				assert.Nil(t, seen)
				return
			}
			require.NotNil(t, seen)
			assert.Equal(t, active.ID, seen.ID)
		})
	}
}
