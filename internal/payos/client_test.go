package payos

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "checksum"

func writeEnvelope(t *testing.T, w http.ResponseWriter, status int, code string, data interface{}, key string) {
	t.Helper()
	env := map[string]interface{}{"code": code, "desc": "desc", "data": nil, "signature": ""}
	if data != nil {
		raw, err := json.Marshal(data)
		require.NoError(t, err)
		obj, err := DecodeObject(raw)
		require.NoError(t, err)
		sig, err := SignData(key, obj)
		require.NoError(t, err)
		env["data"] = json.RawMessage(raw)
		env["signature"] = sig
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(env))
}

func newTestClient(url string) *Client {
	return NewClient("cid", "akey", testKey, url, WithRetry(3, time.Millisecond))
}

func TestCreatePaymentLink(t *testing.T) {
	var got PaymentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/payment-requests", r.URL.Path)
		assert.Equal(t, "cid", r.Header.Get("x-client-id"))
		assert.Equal(t, "akey", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		writeEnvelope(t, w, http.StatusOK, CodeSuccess, PaymentLink{
			OrderCode:     got.OrderCode,
			Amount:        got.Amount,
			PaymentLinkID: "abc",
			CheckoutURL:   "https://pay.example/abc",
			Status:        StatusPending,
		}, testKey)
	}))
	defer srv.Close()

	link, err := newTestClient(srv.URL).CreatePaymentLink(context.Background(), PaymentRequest{
		OrderCode:   99,
		Amount:      99000,
		Description: "a description that is far too long for a bank transfer",
		CancelURL:   "https://example.com/c",
		ReturnURL:   "https://example.com/r",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://pay.example/abc", link.CheckoutURL)
	assert.Equal(t, int64(99), link.OrderCode)
	assert.Len(t, []rune(got.Description), MaxDescriptionLength)
	assert.Equal(t, SignPaymentRequest(testKey, got), got.Signature)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			writeEnvelope(t, w, http.StatusBadGateway, "99", nil, testKey)
			return
		}
		writeEnvelope(t, w, http.StatusOK, CodeSuccess, PaymentLinkInfo{ID: "l", OrderCode: 5, Status: StatusPaid}, testKey)
	}))
	defer srv.Close()

	info, err := newTestClient(srv.URL).GetPaymentLink(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, StatusPaid, info.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeEnvelope(t, w, http.StatusOK, "101", nil, testKey)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetPaymentLink(context.Background(), 5)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "101", apiErr.Code)
	assert.False(t, apiErr.Temporary())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetPaymentLink(context.Background(), 5)
	require.Error(t, err)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
	assert.Equal(t, "upstream down", apiErr.Desc)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestRejectsBadResponseSignature(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeEnvelope(t, w, http.StatusOK, CodeSuccess, PaymentLinkInfo{ID: "l", OrderCode: 5, Status: StatusPaid}, "another-key")
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).GetPaymentLink(context.Background(), 5)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCancelPaymentLinkSendsReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/payment-requests/77/cancel", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "changed my mind", body["cancellationReason"])

		reason := body["cancellationReason"]
		writeEnvelope(t, w, http.StatusOK, CodeSuccess, PaymentLinkInfo{
			ID: "l", OrderCode: 77, Status: StatusCancelled, CancellationReason: &reason,
		}, testKey)
	}))
	defer srv.Close()

	info, err := newTestClient(srv.URL).CancelPaymentLink(context.Background(), 77, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, info.Status)
	require.NotNil(t, info.CancellationReason)
	assert.Equal(t, "changed my mind", *info.CancellationReason)
}

func TestContextCancelStopsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, http.StatusInternalServerError, "99", nil, testKey)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient("cid", "akey", testKey, srv.URL, WithRetry(5, time.Hour))
	_, err := c.GetPaymentLink(ctx, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
