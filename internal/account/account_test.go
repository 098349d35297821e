package account_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipestore/internal/account"
	"recipestore/internal/data"
	"recipestore/internal/testutil"
)

func register(t *testing.T, ts *testutil.TestSuite, email, password, name string) (int, testutil.APIResponse) {
	t.Helper()
	return ts.Do(t, http.MethodPost, "/api/auth/register", account.RegisterRequest{
		Email: email, Password: password, FullName: name,
	}, "")
}

func TestRegisterAndSignIn(t *testing.T) {
	ts := testutil.NewTestSuite(t)

	status, resp := register(t, ts, "  Lan@Example.com ", "bánh-cuốn-42", "Nguyễn Thị Lan")
	require.Equal(t, http.StatusCreated, status)

	var session account.SessionResponse
	testutil.DecodeData(t, resp, &session)
	assert.NotEmpty(t, session.Token)
	assert.Equal(t, "lan@example.com", session.User.Email)
	assert.Equal(t, data.RoleUser, session.User.Role)
	assert.Equal(t, data.PlanFree, session.User.Plan)
	assert.False(t, session.User.IsPremium)
	assert.True(t, session.ExpiresAt.After(session.User.CreatedAt))

	status, resp = ts.Do(t, http.MethodGet, "/api/me", nil, session.Token)
	require.Equal(t, http.StatusOK, status)
	var me account.UserProfile
	testutil.DecodeData(t, resp, &me)
	assert.Equal(t, session.User.ID, me.ID)
	assert.NotContains(t, string(resp.Data), "password")

	status, resp = ts.Do(t, http.MethodPost, "/api/auth/login", account.LoginRequest{
		Email: "LAN@example.com", Password: "bánh-cuốn-42",
	}, "")
	require.Equal(t, http.StatusOK, status)
	var second account.SessionResponse
	testutil.DecodeData(t, resp, &second)
	assert.NotEqual(t, session.Token, second.Token)
}

func TestRegisterValidation(t *testing.T) {
	ts := testutil.NewTestSuite(t)

	tests := []struct {
		name     string
		email    string
		password string
		fullName string
		code     string
	}{
		{name: "bad email", email: "not-an-email", password: "longenough", fullName: "A", code: "invalid_email"},
		{name: "display name form", email: "Bob <bob@example.com>", password: "longenough", fullName: "Bob", code: "invalid_email"},
		{name: "angle brackets only", email: "<bob@example.com>", password: "longenough", fullName: "Bob", code: "invalid_email"},
		{name: "missing name", email: "a@example.com", password: "longenough", fullName: "  ", code: "invalid_name"},
		{name: "short password", email: "a@example.com", password: "short", fullName: "A", code: "weak_password"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := register(t, ts, tt.email, tt.password, tt.fullName)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.Equal(t, tt.code, resp.Code)
		})
	}

	status, _ := register(t, ts, "dup@example.com", "longenough", "First")
	require.Equal(t, http.StatusCreated, status)
	status, resp := register(t, ts, "DUP@example.com", "longenough", "Second")
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "email_taken", resp.Code)
}

func TestLoginFailures(t *testing.T) {
	ts := testutil.NewTestSuite(t)
	user, _ := ts.CreateUser(t, data.RoleUser)

	status, resp := ts.Do(t, http.MethodPost, "/api/auth/login", account.LoginRequest{Email: user.Email, Password: "wrong"}, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_credentials", resp.Code)

	status, resp = ts.Do(t, http.MethodPost, "/api/auth/login", account.LoginRequest{Email: "nobody@example.com", Password: "correct-horse"}, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_credentials", resp.Code)

	require.NoError(t, data.SetUserBanned(context.Background(), user.ID, true))
	status, resp = ts.Do(t, http.MethodPost, "/api/auth/login", account.LoginRequest{Email: user.Email, Password: "correct-horse"}, "")
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "banned", resp.Code)
}

func TestLogout(t *testing.T) {
	ts := testutil.NewTestSuite(t)
	_, token := ts.CreateUser(t, data.RoleUser)

	status, _ := ts.Do(t, http.MethodPost, "/api/auth/logout", nil, token)
	require.Equal(t, http.StatusOK, status)

	status, resp := ts.Do(t, http.MethodGet, "/api/me", nil, token)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "invalid_token", resp.Code)
}

func TestQueryTokenIgnoredOutsideStreams(t *testing.T) {
	ts := testutil.NewTestSuite(t)
	_, token := ts.CreateUser(t, data.RoleUser)

	status, resp := ts.Do(t, http.MethodGet, "/api/me?token="+token, nil, "")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "missing_token", resp.Code)

	status, _ = ts.Do(t, http.MethodGet, "/api/me", nil, token)
	assert.Equal(t, http.StatusOK, status)
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "chef@example.com", account.NormalizeEmail("  Chef@Example.COM\n"))
}
