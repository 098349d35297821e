package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"recipestore/internal/data"
	"recipestore/internal/logger"
	"recipestore/internal/metrics"
	"recipestore/internal/payos"
)

// Reconciler brings pending orders in line with the gateway for buyers whose
// webhook never arrived.
type Reconciler struct {
	gateway   Gateway
	fulfiller *Fulfiller
	batchSize int
}

// ReconcileResult summarizes one pass over pending orders.
type ReconcileResult struct {
	Checked int `json:"checked"`
	Paid    int `json:"paid"`
	Closed  int `json:"closed"`
	Errors  int `json:"errors"`
}

func NewReconciler(gateway Gateway, fulfiller *Fulfiller) *Reconciler {
	return &Reconciler{gateway: gateway, fulfiller: fulfiller, batchSize: 50}
}

// ReconcileOrder asks the gateway for the order's status and applies it.
// Orders that are no longer pending are returned unchanged.
func (r *Reconciler) ReconcileOrder(ctx context.Context, order *data.Order) (*data.Order, error) {
	if order.Status != data.OrderPending {
		return order, nil
	}

	info, err := r.gateway.GetPaymentLink(ctx, order.OrderCode)
	if err != nil {
		return order, fmt.Errorf("look up order %d: %w", order.OrderCode, err)
	}

	logger.LogDebug("Gateway status for order %d: %s", order.OrderCode, info.Status)

	switch info.Status {
	case payos.StatusPaid:
		return r.syncPaidOrder(ctx, order, info)
	case payos.StatusCancelled, payos.StatusExpired:
		return r.closeOrder(ctx, order, info.Status)
	case payos.StatusPending, payos.StatusProcessing:
		return order, nil
	default:
		logger.LogWarn("Unknown gateway status for order %d: %s", order.OrderCode, info.Status)
		return order, nil
	}
}

func (r *Reconciler) syncPaidOrder(ctx context.Context, order *data.Order, info *payos.PaymentLinkInfo) (*data.Order, error) {
	raw, err := json.Marshal(info)
	if err != nil {
		return order, fmt.Errorf("failed to marshal gateway details: %w", err)
	}

	amount := info.AmountPaid
	if amount == 0 {
		amount = info.Amount
	}
	reference := ""
	if n := len(info.Transactions); n > 0 {
		reference = info.Transactions[n-1].Reference
	}

	out, err := r.fulfiller.ApplyPaid(ctx, data.PaymentInput{
		OrderCode:     order.OrderCode,
		Amount:        amount,
		Reference:     reference,
		PaymentLinkID: info.ID,
		Source:        SourceReconcile,
		RawPayload:    string(raw),
	})
	if err != nil {
		return order, err
	}
	if !out.AmountMismatch {
		metrics.ReconciledOrders.WithLabelValues(data.OrderPaid).Inc()
	}
	return out.Order, nil
}

func (r *Reconciler) closeOrder(ctx context.Context, order *data.Order, status string) (*data.Order, error) {
	err := data.SetOrderStatus(ctx, order.OrderCode, status)
	if err != nil && !errors.Is(err, data.ErrNotFound) {
		return order, err
	}
	// ErrNotFound means the order left PENDING concurrently; report its current state.
	fresh, getErr := data.GetOrderByCode(ctx, order.OrderCode)
	if getErr != nil {
		return order, getErr
	}
	if err == nil {
		logger.LogInfo("Order %d closed as %s by reconciliation", order.OrderCode, status)
		metrics.ReconciledOrders.WithLabelValues(status).Inc()
	}
	return fresh, nil
}

// ReconcilePending checks up to one batch of the oldest pending orders.
func (r *Reconciler) ReconcilePending(ctx context.Context) (ReconcileResult, error) {
	var result ReconcileResult

	orders, err := data.ListPendingOrders(ctx, r.batchSize)
	if err != nil {
		return result, fmt.Errorf("failed to list pending orders: %w", err)
	}

	for i := range orders {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		result.Checked++

		updated, err := r.ReconcileOrder(ctx, &orders[i])
		if err != nil {
			result.Errors++
			logger.LogWarn("Reconciliation of order %d failed: %v", orders[i].OrderCode, err)
			continue
		}
		switch updated.Status {
		case data.OrderPaid:
			result.Paid++
		case data.OrderCancelled, data.OrderExpired:
			result.Closed++
		}
	}

	if result.Checked > 0 {
		logger.LogInfo("Reconciliation pass: checked=%d paid=%d closed=%d errors=%d",
			result.Checked, result.Paid, result.Closed, result.Errors)
	}
	return result, nil
}

// Run reconciles on every tick until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	logger.LogInfo("Starting order reconciliation every %v", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.LogInfo("Order reconciliation stopped")
			return nil
		case <-ticker.C:
			if _, err := r.ReconcilePending(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.LogError("Reconciliation pass failed: %v", err)
			}
		}
	}
}
