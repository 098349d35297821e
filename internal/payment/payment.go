package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"recipestore/internal/catalog"
	"recipestore/internal/config"
	"recipestore/internal/data"
	"recipestore/internal/logger"
	"recipestore/internal/metrics"
	"recipestore/internal/middleware"
	"recipestore/internal/payos"
)

// CheckoutRequest is the body of POST /api/checkout. Amounts are never taken from the client.
type CheckoutRequest struct {
	PlanID string `json:"plan_id"`
}

type CheckoutResponse struct {
	OrderCode   int64  `json:"order_code"`
	CheckoutURL string `json:"checkout_url"`
	Amount      int64  `json:"amount"`
	PlanID      string `json:"plan_id"`
	Status      string `json:"status"`
	Reused      bool   `json:"reused"`
}

// OrderStatusResponse is what the return URL landing reports.
type OrderStatusResponse struct {
	OrderCode int64  `json:"order_code"`
	Status    string `json:"status"`
}

// Service serves the checkout and order endpoints.
type Service struct {
	gateway    Gateway
	catalog    *catalog.Service
	reconciler *Reconciler
	cfg        config.PayOSConfig
	now        func() time.Time
}

func NewService(gateway Gateway, cat *catalog.Service, reconciler *Reconciler, cfg config.PayOSConfig) *Service {
	if cfg.LinkTTL <= 0 {
		cfg.LinkTTL = 15 * time.Minute
	}
	return &Service{gateway: gateway, catalog: cat, reconciler: reconciler, cfg: cfg, now: time.Now}
}

// CheckoutHandler creates, or reuses, a payment link for a premium plan.
func (s *Service) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	var req CheckoutRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request", "Invalid request body", err.Error())
		return
	}
	req.PlanID = strings.TrimSpace(req.PlanID)

	plan, err := s.catalog.Get(req.PlanID)
	if err != nil {
		metrics.Checkouts.WithLabelValues("invalid_plan").Inc()
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_plan", "Unknown or unavailable plan", req.PlanID)
		return
	}
	amount := plan.FinalPrice().IntPart()

	if existing := s.reusableOrder(r.Context(), user.ID, plan.ID, amount); existing != nil {
		metrics.Checkouts.WithLabelValues("reused").Inc()
		logger.LogInfo("Reusing pending order %d for user %s", existing.OrderCode, user.ID)
		middleware.WriteAPISuccess(w, r, checkoutResponse(existing, true))
		return
	}

	order, err := s.createOrder(r.Context(), user, plan, amount)
	if err != nil {
		var apiErr *payos.APIError
		switch {
		case errors.As(err, &apiErr):
			metrics.Checkouts.WithLabelValues("gateway_error").Inc()
			logger.LogHTTPError(r, http.StatusBadGateway, err)
			middleware.WriteAPIError(w, r, http.StatusBadGateway, "gateway_error",
				"Payment gateway rejected the request", apiErr.Desc)
		case errors.Is(err, errGateway):
			metrics.Checkouts.WithLabelValues("gateway_error").Inc()
			logger.LogHTTPError(r, http.StatusBadGateway, err)
			middleware.WriteAPIError(w, r, http.StatusBadGateway, "gateway_unavailable",
				"Payment gateway is unavailable, please try again", "")
		default:
			metrics.Checkouts.WithLabelValues("error").Inc()
			middleware.WriteInternalError(w, r, "Failed to create order", err)
		}
		return
	}

	metrics.Checkouts.WithLabelValues("created").Inc()
	middleware.WriteAPIStatus(w, r, http.StatusCreated, checkoutResponse(order, false))
}

var errGateway = errors.New("payment gateway unavailable")

func (s *Service) createOrder(ctx context.Context, user *data.User, plan catalog.Plan, amount int64) (*data.Order, error) {
	now := s.now()
	code, err := NewOrderCode(now)
	if err != nil {
		return nil, fmt.Errorf("generate order code: %w", err)
	}

	req := payos.PaymentRequest{
		OrderCode:   code,
		Amount:      amount,
		Description: payos.TruncateDescription(fmt.Sprintf("PREMIUM %d", code)),
		BuyerName:   user.FullName,
		BuyerEmail:  user.Email,
		Items:       []payos.Item{{Name: plan.Name, Quantity: 1, Price: amount}},
		ReturnURL:   s.cfg.ReturnURL,
		CancelURL:   s.cfg.CancelURL,
		ExpiredAt:   now.Add(s.cfg.LinkTTL).Unix(),
	}

	link, err := s.gateway.CreatePaymentLink(ctx, req)
	if err != nil {
		var apiErr *payos.APIError
		if errors.As(err, &apiErr) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", errGateway, err)
	}

	order := &data.Order{
		OrderCode:     code,
		UserID:        user.ID,
		PlanID:        plan.ID,
		Amount:        amount,
		Description:   req.Description,
		Status:        data.OrderPending,
		PaymentLinkID: link.PaymentLinkID,
		CheckoutURL:   link.CheckoutURL,
		CreatedAt:     now.UTC(),
	}
	if err := data.InsertOrder(ctx, order); err != nil {
		// Without a local row the link can never be fulfilled, so withdraw it.
		if _, cancelErr := s.gateway.CancelPaymentLink(context.WithoutCancel(ctx), code, "order could not be saved"); cancelErr != nil {
			logger.LogError("Failed to cancel orphaned payment link for order %d: %v", code, cancelErr)
		}
		return nil, err
	}

	logger.LogInfo("Created order %d for user %s plan %s amount %d", code, user.ID, plan.ID, amount)
	return order, nil
}

// reusableOrder returns a recent pending order for the same plan and price that the
// gateway still considers open.
func (s *Service) reusableOrder(ctx context.Context, userID, planID string, amount int64) *data.Order {
	existing, err := data.FindReusablePendingOrder(ctx, userID, planID, s.now().Add(-s.cfg.LinkTTL))
	if err != nil {
		if !errors.Is(err, data.ErrNotFound) {
			logger.LogWarn("Pending order lookup for user %s failed: %v", userID, err)
		}
		return nil
	}
	if existing.Amount != amount {
		return nil
	}

	updated, err := s.reconciler.ReconcileOrder(ctx, existing)
	if err != nil {
		logger.LogWarn("Could not confirm pending order %d with gateway: %v", existing.OrderCode, err)
		return nil
	}
	if updated.Status != data.OrderPending {
		return nil
	}
	return updated
}

// ListOrdersHandler returns the caller's orders, newest first.
func (s *Service) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	orders, err := data.ListOrdersByUser(r.Context(), user.ID)
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to load orders", err)
		return
	}
	if orders == nil {
		orders = []data.Order{}
	}
	middleware.WriteAPISuccess(w, r, orders)
}

// GetOrderHandler returns one order. Users see only their own; admins see any.
func (s *Service) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	order, ok := s.loadVisibleOrder(w, r)
	if !ok {
		return
	}
	middleware.WriteAPISuccess(w, r, order)
}

// CancelOrderHandler withdraws a pending payment link and marks the order CANCELLED.
func (s *Service) CancelOrderHandler(w http.ResponseWriter, r *http.Request) {
	order, ok := s.loadVisibleOrder(w, r)
	if !ok {
		return
	}
	if order.Status != data.OrderPending {
		middleware.WriteAPIError(w, r, http.StatusConflict, "order_not_pending",
			"Only pending orders can be cancelled", order.Status)
		return
	}

	if _, err := s.gateway.CancelPaymentLink(r.Context(), order.OrderCode, "cancelled by buyer"); err != nil {
		logger.LogWarn("Gateway cancel for order %d failed: %v", order.OrderCode, err)
		// The link may have been paid or closed meanwhile; report what the gateway says.
		if updated, recErr := s.reconciler.ReconcileOrder(r.Context(), order); recErr == nil && updated.Status != data.OrderPending {
			middleware.WriteAPIError(w, r, http.StatusConflict, "order_not_pending",
				"Only pending orders can be cancelled", updated.Status)
			return
		}
		middleware.WriteAPIError(w, r, http.StatusBadGateway, "gateway_error", "Could not cancel the payment link", "")
		return
	}

	if err := data.SetOrderStatus(r.Context(), order.OrderCode, data.OrderCancelled); err != nil {
		if errors.Is(err, data.ErrNotFound) {
			middleware.WriteAPIError(w, r, http.StatusConflict, "order_not_pending",
				"Only pending orders can be cancelled", "")
			return
		}
		middleware.WriteInternalError(w, r, "Failed to cancel order", err)
		return
	}

	updated, err := data.GetOrderByCode(r.Context(), order.OrderCode)
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to reload order", err)
		return
	}
	logger.LogInfo("Order %d cancelled by user %s", order.OrderCode, middleware.UserFromContext(r.Context()).ID)
	middleware.WriteAPISuccess(w, r, updated)
}

// ReturnHandler is the landing for the gateway's return URL. It reconciles the
// order and reports only its status.
func (s *Service) ReturnHandler(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.ParseInt(r.URL.Query().Get("orderCode"), 10, 64)
	if err != nil || code <= 0 {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_order_code", "orderCode must be a positive integer", "")
		return
	}

	order, err := data.GetOrderByCode(r.Context(), code)
	if errors.Is(err, data.ErrNotFound) {
		middleware.WriteAPIError(w, r, http.StatusNotFound, "order_not_found", "Order not found", "")
		return
	}
	if err != nil {
		middleware.WriteInternalError(w, r, "Failed to load order", err)
		return
	}

	if updated, err := s.reconciler.ReconcileOrder(r.Context(), order); err != nil {
		logger.LogWarn("Return URL reconciliation for order %d failed: %v", code, err)
	} else {
		order = updated
	}

	middleware.WriteAPISuccess(w, r, OrderStatusResponse{OrderCode: order.OrderCode, Status: order.Status})
}

func (s *Service) loadVisibleOrder(w http.ResponseWriter, r *http.Request) (*data.Order, bool) {
	user := middleware.UserFromContext(r.Context())

	code, err := strconv.ParseInt(chi.URLParam(r, "orderCode"), 10, 64)
	if err != nil || code <= 0 {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_order_code", "Order code must be a positive integer", "")
		return nil, false
	}

	order, err := data.GetOrderByCode(r.Context(), code)
	if err != nil && !errors.Is(err, data.ErrNotFound) {
		middleware.WriteInternalError(w, r, "Failed to load order", err)
		return nil, false
	}
	// Other users' orders are reported as missing.
	if err != nil || (order.UserID != user.ID && user.Role != data.RoleAdmin) {
		middleware.WriteAPIError(w, r, http.StatusNotFound, "order_not_found", "Order not found", "")
		return nil, false
	}
	return order, true
}

func checkoutResponse(o *data.Order, reused bool) CheckoutResponse {
	return CheckoutResponse{
		OrderCode:   o.OrderCode,
		CheckoutURL: o.CheckoutURL,
		Amount:      o.Amount,
		PlanID:      o.PlanID,
		Status:      o.Status,
		Reused:      reused,
	}
}
