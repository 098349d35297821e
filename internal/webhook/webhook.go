package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"recipestore/internal/data"
	"recipestore/internal/logger"
	"recipestore/internal/metrics"
	"recipestore/internal/middleware"
	"recipestore/internal/payment"
	"recipestore/internal/payos"
)

const maxWebhookBody = 1 << 20

// Outcomes reported back to the gateway and counted in metrics.
const (
	OutcomeProcessed        = "processed"
	OutcomeIgnored          = "ignored"
	OutcomeAlreadyProcessed = "already_processed"
	OutcomeFailed           = "failed"
	OutcomeAmountMismatch   = "amount_mismatch"
	OutcomeBadSignature     = "bad_signature"
	OutcomeBadRequest       = "bad_request"
	OutcomeError            = "error"
)

type Result struct {
	Status    string `json:"status"`
	OrderCode int64  `json:"order_code,omitempty"`
}

// Handler verifies and applies PayOS payment webhooks.
type Handler struct {
	checksumKey string
	skipVerify  bool
	fulfiller   *payment.Fulfiller
}

// NewHandler returns a webhook handler. skipVerify is for local mock setups only.
func NewHandler(checksumKey string, skipVerify bool, fulfiller *payment.Fulfiller) *Handler {
	return &Handler{checksumKey: checksumKey, skipVerify: skipVerify, fulfiller: fulfiller}
}

// ServeHTTP handles POST /api/payos-webhook.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil || len(payload) > maxWebhookBody {
		h.reject(w, r, http.StatusBadRequest, OutcomeBadRequest, "Failed to read request body")
		return
	}

	var body payos.WebhookBody
	if err := json.Unmarshal(payload, &body); err != nil || len(body.Data) == 0 {
		h.reject(w, r, http.StatusBadRequest, OutcomeBadRequest, "Invalid JSON payload")
		return
	}

	signed, err := payos.DecodeObject(body.Data)
	if err != nil {
		h.reject(w, r, http.StatusBadRequest, OutcomeBadRequest, "Webhook data must be an object")
		return
	}

	signature := body.Signature
	if signature == "" {
		signature = r.Header.Get("x-payos-signature")
	}
	if h.skipVerify {
		logger.LogWarn("PayOS webhook signature verification skipped (mock mode)")
	} else if err := payos.VerifyData(h.checksumKey, signed, signature); err != nil {
		logger.LogWarn("Rejected PayOS webhook with invalid signature from %s", logger.GetClientIP(r))
		h.reject(w, r, http.StatusUnauthorized, OutcomeBadSignature, "Invalid signature")
		return
	}

	var event payos.WebhookData
	if err := json.Unmarshal(body.Data, &event); err != nil {
		h.reject(w, r, http.StatusBadRequest, OutcomeBadRequest, "Invalid webhook data")
		return
	}

	status, err := h.apply(r, body, event, string(payload))
	if err != nil {
		metrics.Webhooks.WithLabelValues(OutcomeError).Inc()
		middleware.WriteInternalError(w, r, "Failed to process webhook", err)
		return
	}

	metrics.Webhooks.WithLabelValues(status).Inc()
	logger.LogInfo("PayOS webhook for order %d: %s", event.OrderCode, status)
	middleware.WriteAPISuccess(w, r, Result{Status: status, OrderCode: event.OrderCode})
}

func (h *Handler) apply(r *http.Request, body payos.WebhookBody, event payos.WebhookData, raw string) (string, error) {
	ctx := r.Context()

	order, err := data.GetOrderByCode(ctx, event.OrderCode)
	if errors.Is(err, data.ErrNotFound) {
		// The gateway sends a confirmation ping with a sample order when the URL is registered.
		logger.LogInfo("PayOS webhook for unknown order %d ignored", event.OrderCode)
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", err
	}
	if order.Status == data.OrderPaid {
		return OutcomeAlreadyProcessed, nil
	}

	in := data.PaymentInput{
		OrderCode:     event.OrderCode,
		Amount:        event.Amount,
		Reference:     event.Reference,
		PaymentLinkID: event.PaymentLinkID,
		Source:        payment.SourceWebhook,
		RawPayload:    raw,
	}

	code := event.Code
	if code == "" {
		code = body.Code
	}
	if code != payos.CodeSuccess {
		reason := event.Desc
		if reason == "" {
			reason = body.Desc
		}
		if _, err := h.fulfiller.ApplyFailure(ctx, in, reason); err != nil {
			return "", err
		}
		return OutcomeFailed, nil
	}

	out, err := h.fulfiller.ApplyPaid(ctx, in)
	if err != nil {
		return "", err
	}
	switch {
	case out.AlreadyProcessed:
		return OutcomeAlreadyProcessed, nil
	case out.AmountMismatch:
		return OutcomeAmountMismatch, nil
	}
	return OutcomeProcessed, nil
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request, status int, outcome, message string) {
	metrics.Webhooks.WithLabelValues(outcome).Inc()
	logger.LogHTTPError(r, status, errors.New(message))
	middleware.WriteAPIError(w, r, status, outcome, message, "")
}
