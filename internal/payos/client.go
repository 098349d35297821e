// Package payos is a small client for the PayOS payment link API.
package payos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"recipestore/internal/logger"
)

const (
	DefaultBaseURL    = "https://api-merchant.payos.vn"
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	maxResponseBytes  = 1 << 20
)

type Client struct {
	clientID    string
	apiKey      string
	checksumKey string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	backoff     time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithRetry sets the attempt count and the base delay between attempts.
// The n-th retry waits n times the base delay.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(cl *Client) {
		if attempts > 0 {
			cl.maxRetries = attempts
		}
		cl.backoff = backoff
	}
}

func NewClient(clientID, apiKey, checksumKey, baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		clientID:    clientID,
		apiKey:      apiKey,
		checksumKey: checksumKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: defaultTimeout},
		maxRetries:  defaultMaxRetries,
		backoff:     time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ChecksumKey returns the key used for signing, for webhook verification.
func (c *Client) ChecksumKey() string {
	return c.checksumKey
}

// CreatePaymentLink signs req and creates a payment link.
func (c *Client) CreatePaymentLink(ctx context.Context, req PaymentRequest) (*PaymentLink, error) {
	req.Description = TruncateDescription(req.Description)
	req.Signature = SignPaymentRequest(c.checksumKey, req)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("payos: marshal payment request: %w", err)
	}

	var link PaymentLink
	if err := c.doWithRetry(ctx, http.MethodPost, "/v2/payment-requests", body, &link); err != nil {
		return nil, err
	}
	logger.LogInfo("PayOS payment link created: order=%d link=%s", link.OrderCode, link.PaymentLinkID)
	return &link, nil
}

// GetPaymentLink returns the gateway's view of the order.
func (c *Client) GetPaymentLink(ctx context.Context, orderCode int64) (*PaymentLinkInfo, error) {
	var info PaymentLinkInfo
	path := fmt.Sprintf("/v2/payment-requests/%d", orderCode)
	if err := c.doWithRetry(ctx, http.MethodGet, path, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CancelPaymentLink cancels an unpaid link.
func (c *Client) CancelPaymentLink(ctx context.Context, orderCode int64, reason string) (*PaymentLinkInfo, error) {
	payload := map[string]string{}
	if reason != "" {
		payload["cancellationReason"] = reason
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var info PaymentLinkInfo
	path := fmt.Sprintf("/v2/payment-requests/%d/cancel", orderCode)
	if err := c.doWithRetry(ctx, http.MethodPost, path, body, &info); err != nil {
		return nil, err
	}
	logger.LogInfo("PayOS payment link cancelled: order=%d", orderCode)
	return &info, nil
}

func (c *Client) doWithRetry(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		err := c.do(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}

		lastErr = err
		logger.LogWarn("PayOS %s %s attempt %d failed: %v", method, path, attempt, err)

		if attempt < c.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * c.backoff):
			}
		}
	}

	return fmt.Errorf("payos: %s %s failed after %d attempts: %w", method, path, c.maxRetries, lastErr)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("payos: build request: %w", err)
	}
	req.Header.Set("x-client-id", c.clientID)
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("payos: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("payos: read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		if resp.StatusCode >= 300 {
			return &APIError{StatusCode: resp.StatusCode, Desc: strings.TrimSpace(string(raw))}
		}
		return fmt.Errorf("payos: decode response: %w", err)
	}
	if resp.StatusCode >= 300 || env.Code != CodeSuccess {
		return &APIError{StatusCode: resp.StatusCode, Code: env.Code, Desc: env.Desc}
	}

	if env.Signature != "" && c.checksumKey != "" {
		data, err := DecodeObject(env.Data)
		if err != nil {
			return err
		}
		if err := VerifyData(c.checksumKey, data, env.Signature); err != nil {
			return fmt.Errorf("payos: response for %s: %w", path, err)
		}
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("payos: decode data: %w", err)
	}
	return nil
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	return !errors.Is(err, ErrInvalidSignature)
}
