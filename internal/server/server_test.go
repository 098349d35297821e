package server_test

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipestore/internal/catalog"
	"recipestore/internal/testutil"
)

func TestHealthz(t *testing.T) {
	ts := testutil.NewTestSuite(t)

	resp, err := ts.Client.Get(ts.Server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestMetricsEndpoint(t *testing.T) {
	ts := testutil.NewTestSuite(t)

	status, _ := ts.Do(t, http.MethodGet, "/api/plans", nil, "")
	require.Equal(t, http.StatusOK, status)

	resp, err := ts.Client.Get(ts.Server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `recipestore_http_requests_total{method="GET",route="/api/plans",status="200"}`)
}

func TestUnknownRoutesUseErrorEnvelope(t *testing.T) {
	ts := testutil.NewTestSuite(t)

	status, resp := ts.Do(t, http.MethodGet, "/api/nope", nil, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", resp.Code)
	assert.NotEmpty(t, resp.RequestID)

	status, resp = ts.Do(t, http.MethodDelete, "/api/plans", nil, "")
	assert.Equal(t, http.StatusMethodNotAllowed, status)
	assert.Equal(t, "method_not_allowed", resp.Code)
}

func TestPlansEndpoint(t *testing.T) {
	ts := testutil.NewTestSuite(t)

	status, resp := ts.Do(t, http.MethodGet, "/api/plans", nil, "")
	require.Equal(t, http.StatusOK, status)

	var plans []catalog.Plan
	testutil.DecodeData(t, resp, &plans)
	ids := make([]string, 0, len(plans))
	for _, p := range plans {
		ids = append(ids, p.ID)
	}
	assert.ElementsMatch(t, []string{"monthly", "yearly"}, ids)
}

func TestCORSPreflight(t *testing.T) {
	ts := testutil.NewTestSuite(t)

	req, err := http.NewRequest(http.MethodOptions, ts.Server.URL+"/api/checkout", nil)
	require.NoError(t, err)
	resp, err := ts.Client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestRequestCounting(t *testing.T) {
	ts := testutil.NewTestSuite(t)
	before := ts.App.TotalRequests()

	for i := 0; i < 3; i++ {
		status, _ := ts.Do(t, http.MethodGet, "/api/plans", nil, "")
		require.Equal(t, http.StatusOK, status)
	}
	assert.Equal(t, before+3, ts.App.TotalRequests())
}

func TestRunShutsDown(t *testing.T) {
	ts := testutil.NewTestSuite(t)
	ts.Config.Server.Port = "0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ts.App.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
