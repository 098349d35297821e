// Package testutil provides an integration test harness: a temporary database,
// a mock PayOS gateway and the full HTTP stack behind httptest.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"recipestore/internal/catalog"
	"recipestore/internal/config"
	"recipestore/internal/data"
	"recipestore/internal/email"
	"recipestore/internal/events"
	"recipestore/internal/logger"
	"recipestore/internal/payos"
	"recipestore/internal/security"
	"recipestore/internal/server"
)

// TestPlans is the catalog every suite loads.
const TestPlans = `
plans:
  - id: monthly
    name: Premium Monthly
    description: Full access for 30 days
    price: 99000
    duration_days: 30
    available: true
  - id: yearly
    name: Premium Yearly
    description: Full access for a year
    price: 990000
    duration_days: 365
    discount_percent: 15
    available: true
  - id: retired
    name: Retired Plan
    price: 50000
    duration_days: 30
    available: false
`

// TestSuite provides utilities for integration testing.
type TestSuite struct {
	Config  *config.Config
	Server  *httptest.Server
	Client  *http.Client
	App     *server.Server
	PayOS   *MockPayOS
	Catalog *catalog.Service
	Mailer  *email.Mailer
	Events  *events.Recorder

	mu        sync.Mutex
	userCount int
}

// NewTestSuite creates a fresh database and server for one test.
func NewTestSuite(t *testing.T) *TestSuite {
	t.Helper()
	logger.UseNop()

	dir := t.TempDir()
	require.NoError(t, data.InitDB(filepath.Join(dir, "test.db")))
	require.NoError(t, data.CreateTables(context.Background()))

	plansPath := filepath.Join(dir, "plans.yaml")
	require.NoError(t, os.WriteFile(plansPath, []byte(TestPlans), 0o644))

	cfg := TestConfig(plansPath)

	cat := catalog.NewService()
	require.NoError(t, cat.Load(plansPath))

	ts := &TestSuite{
		Config:  cfg,
		Client:  &http.Client{Timeout: 10 * time.Second},
		PayOS:   NewMockPayOS(),
		Catalog: cat,
		Mailer:  email.NewMailer(cfg.Email),
		Events:  &events.Recorder{},
	}
	cfg.PayOS.APIBase = ts.PayOS.URL()

	ts.App = server.New(cfg, cat, ts.PayOS.Client(), ts.Mailer, ts.Events)
	ts.Server = httptest.NewServer(ts.App.Handler())

	t.Cleanup(func() {
		ts.Server.Close()
		ts.PayOS.Close()
		data.CloseDB()
	})
	return ts
}

// TestConfig returns a configuration suitable for tests.
func TestConfig(plansPath string) *config.Config {
	return &config.Config{
		Environment: "test",
		Server: config.ServerConfig{
			Host:          "127.0.0.1",
			Port:          "0",
			AllowedOrigin: "*",
			PublicBaseURL: "http://localhost:3000",
		},
		PayOS: config.PayOSConfig{
			ClientID:    MockClientID,
			APIKey:      MockAPIKey,
			ChecksumKey: MockChecksumKey,
			ReturnURL:   "http://localhost:3000/premium/success",
			CancelURL:   "http://localhost:3000/premium/cancel",
			LinkTTL:     15 * time.Minute,
		},
		Auth: config.AuthConfig{SessionTTL: time.Hour},
		Email: config.EmailConfig{
			AlertRecipient:     "admin@example.com",
			AlertSender:        "alerts@example.com",
			ConfirmationSender: "noreply@example.com",
			SendConfirmations:  true,
			MockMode:           true,
		},
		Catalog: config.CatalogConfig{PlansPath: plansPath},
		// Every test client shares one address, so sign-ins are not spaced.
		RateLimit: config.RateLimitConfig{Checkout: 3 * time.Second},
		Jobs: config.JobsConfig{
			CleanupInterval:   time.Hour,
			ReconcileInterval: time.Hour,
			PendingOrderTTL:   24 * time.Hour,
		},
	}
}

// =============================================================================
// FIXTURES
// =============================================================================

// CreateUser inserts a user with role and returns it with a live session token.
func (ts *TestSuite) CreateUser(t *testing.T, role string) (*data.User, string) {
	t.Helper()

	ts.mu.Lock()
	ts.userCount++
	n := ts.userCount
	ts.mu.Unlock()

	hash, err := security.HashPassword("correct-horse")
	require.NoError(t, err)

	u := &data.User{
		Email:        fmt.Sprintf("%s%d@example.com", role, n),
		PasswordHash: hash,
		FullName:     fmt.Sprintf("Test %s %d", role, n),
		Role:         role,
	}
	require.NoError(t, data.InsertUser(context.Background(), u))
	return u, ts.Login(t, u)
}

// Login opens a session for u directly in the database.
func (ts *TestSuite) Login(t *testing.T, u *data.User) string {
	t.Helper()
	token, err := security.GenerateAccessToken()
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, data.InsertSession(context.Background(), data.Session{
		TokenDigest: security.TokenDigest(token),
		UserID:      u.ID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Hour),
	}))
	return token
}

// CreateDish inserts a dish owned by chefID.
func (ts *TestSuite) CreateDish(t *testing.T, chefID, title string, premium bool, status string) *data.Dish {
	t.Helper()
	d := &data.Dish{
		Slug:        fmt.Sprintf("%s-%d", slugSafe(title), time.Now().UnixNano()),
		ChefID:      chefID,
		Title:       title,
		Summary:     "A test dish",
		Ingredients: []string{"rice", "fish sauce"},
		Steps:       []string{"cook", "serve"},
		Cuisine:     "vietnamese",
		CookMinutes: 30,
		IsPremium:   premium,
		Status:      status,
	}
	require.NoError(t, data.InsertDish(context.Background(), d))
	return d
}

func slugSafe(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			out = append(out, r)
		} else if r >= 'A' && r <= 'Z' {
			out = append(out, r+'a'-'A')
		} else {
			out = append(out, '-')
		}
	}
	return string(out)
}

// SignedWebhook builds a webhook body for data signed with the mock checksum key.
func SignedWebhook(t *testing.T, d payos.WebhookData) []byte {
	t.Helper()

	raw, err := json.Marshal(d)
	require.NoError(t, err)
	obj, err := payos.DecodeObject(raw)
	require.NoError(t, err)
	sig, err := payos.SignData(MockChecksumKey, obj)
	require.NoError(t, err)

	body, err := json.Marshal(map[string]interface{}{
		"code":      d.Code,
		"desc":      d.Desc,
		"success":   d.Code == payos.CodeSuccess,
		"data":      json.RawMessage(raw),
		"signature": sig,
	})
	require.NoError(t, err)
	return body
}

// PaidWebhook is the data of a successful transfer for orderCode.
func PaidWebhook(orderCode, amount int64, reference string) payos.WebhookData {
	return payos.WebhookData{
		OrderCode:           orderCode,
		Amount:              amount,
		Description:         fmt.Sprintf("PREMIUM %d", orderCode),
		AccountNumber:       "12345678",
		Reference:           reference,
		TransactionDateTime: "2024-01-02 10:00:00",
		Currency:            "VND",
		PaymentLinkID:       fmt.Sprintf("link-%d", orderCode),
		Code:                payos.CodeSuccess,
		Desc:                "success",
	}
}

// =============================================================================
// HTTP HELPERS
// =============================================================================

// APIResponse mirrors the success and error envelopes.
type APIResponse struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	Details   string          `json:"details"`
	RequestID string          `json:"request_id"`
}

// MakeAPIRequest sends a JSON request with an optional bearer token.
func (ts *TestSuite) MakeAPIRequest(method, path string, body interface{}, token string) (*http.Response, error) {
	var reader io.Reader = http.NoBody
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return ts.Client.Do(req)
}

// Do sends a request and decodes the envelope, failing the test on transport errors.
func (ts *TestSuite) Do(t *testing.T, method, path string, body interface{}, token string) (int, APIResponse) {
	t.Helper()
	resp, err := ts.MakeAPIRequest(method, path, body, token)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out APIResponse
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), "body: %s", raw)
	}
	return resp.StatusCode, out
}

// DecodeData unmarshals the data field of a success envelope into dest.
func DecodeData(t *testing.T, resp APIResponse, dest interface{}) {
	t.Helper()
	require.True(t, resp.Success, "expected success envelope, got code=%s message=%s", resp.Code, resp.Message)
	require.NoError(t, json.Unmarshal(resp.Data, dest))
}

// WaitForCondition polls condition until it holds or timeout passes.
func WaitForCondition(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return condition()
}
