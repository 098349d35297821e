package payment_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recipestore/internal/data"
	"recipestore/internal/events"
	"recipestore/internal/payment"
	"recipestore/internal/payos"
	"recipestore/internal/testutil"
)

func checkout(t *testing.T, ts *testutil.TestSuite, token, planID string) (int, testutil.APIResponse, payment.CheckoutResponse) {
	t.Helper()
	status, resp := ts.Do(t, http.MethodPost, "/api/checkout", payment.CheckoutRequest{PlanID: planID}, token)
	var out payment.CheckoutResponse
	if resp.Success {
		testutil.DecodeData(t, resp, &out)
	}
	return status, resp, out
}

func TestCheckoutCreatesPaymentLink(t *testing.T) {
	ts := testutil.NewTestSuite(t)
	user, token := ts.CreateUser(t, data.RoleUser)

	status, _, out := checkout(t, ts, token, "yearly")
	require.Equal(t, http.StatusCreated, status)

	assert.False(t, out.Reused)
	assert.Equal(t, "yearly", out.PlanID)
	assert.Equal(t, int64(841500), out.Amount)
	assert.Equal(t, data.OrderPending, out.Status)
	assert.NotEmpty(t, out.CheckoutURL)

	req := ts.PayOS.Last()
	assert.Equal(t, out.OrderCode, req.OrderCode)
	assert.Equal(t, int64(841500), req.Amount)
	assert.LessOrEqual(t, len([]rune(req.Description)), payos.MaxDescriptionLength)
	assert.Equal(t, ts.Config.PayOS.ReturnURL, req.ReturnURL)
	assert.Equal(t, user.Email, req.BuyerEmail)
	assert.Greater(t, req.ExpiredAt, time.Now().Unix())

	order, err := data.GetOrderByCode(context.Background(), out.OrderCode)
	require.NoError(t, err)
	assert.Equal(t, user.ID, order.UserID)
	assert.Equal(t, out.CheckoutURL, order.CheckoutURL)
}

func TestCheckoutIgnoresClientAmount(t *testing.T) {
	ts := testutil.NewTestSuite(t)
	_, token := ts.CreateUser(t, data.RoleUser)

	status, resp := ts.Do(t, http.MethodPost, "/api/checkout", map[string]interface{}{"plan_id": "monthly", "amount": 1}, token)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_request", resp.Code)

	create, _, _ := ts.PayOS.Calls()
	assert.Zero(t, create)
}

func TestCheckoutReusesOpenOrder(t *testing.T) {
	ts := testutil.NewTestSuite(t)
	user, token := ts.CreateUser(t, data.RoleUser)

	_, _, first := checkout(t, ts, token, "monthly")

	status, _, second := checkout(t, ts, ts.Login(t, user), "monthly")
	require.Equal(t, http.StatusOK, status)
	assert.True(t, second.Reused)
	assert.Equal(t, first.OrderCode, second.OrderCode)
	assert.Equal(t, first.CheckoutURL, second.CheckoutURL)

	create, get, _ := ts.PayOS.Calls()
	assert.Equal(t, 1, create)
	assert.Equal(t, 1, get)

	t.Run("different plan gets a new order", func(t *testing.T) {
		status, _, other := checkout(t, ts, ts.Login(t, user), "yearly")
		require.Equal(t, http.StatusCreated, status)
		assert.NotEqual(t, first.OrderCode, other.OrderCode)
	})

	t.Run("closed link is not reused", func(t *testing.T) {
		ts.PayOS.SetStatus(first.OrderCode, payos.StatusCancelled)

		status, _, fresh := checkout(t, ts, ts.Login(t, user), "monthly")
		require.Equal(t, http.StatusCreated, status)
		assert.NotEqual(t, first.OrderCode, fresh.OrderCode)

		old, err := data.GetOrderByCode(context.Background(), first.OrderCode)
		require.NoError(t, err)
		assert.Equal(t, data.OrderCancelled, old.Status)
	})
}

func TestCheckoutRateLimited(t *testing.T) {
	ts := testutil.NewTestSuite(t)
	_, token := ts.CreateUser(t, data.RoleUser)

	status, _, _ := checkout(t, ts, token, "monthly")
	require.Equal(t, http.StatusCreated, status)

	status, resp, _ := checkout(t, ts, token, "monthly")
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "rate_limit_exceeded", resp.Code)
}

func TestCheckoutRejectsUnknownPlans(t *testing.T) {
	ts := testutil.NewTestSuite(t)
	user, _ := ts.CreateUser(t, data.RoleUser)

	for _, plan := range []string{"", "lifetime", "retired"} {
		status, resp, _ := checkout(t, ts, ts.Login(t, user), plan)
		assert.Equal(t, http.StatusBadRequest, status, plan)
		assert.Equal(t, "invalid_plan", resp.Code, plan)
	}

	status, resp, _ := checkout(t, ts, "", "monthly")
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "missing_token", resp.Code)
}

func TestCheckoutGatewayFailures(t *testing.T) {
	ts := testutil.NewTestSuite(t)
	user, _ := ts.CreateUser(t, data.RoleUser)

	t.Run("unavailable", func(t *testing.T) {
		ts.PayOS.SetFailStatus(http.StatusServiceUnavailable)
		defer ts.PayOS.Reset()

		status, resp, _ := checkout(t, ts, ts.Login(t, user), "monthly")
		assert.Equal(t, http.StatusBadGateway, status)
		assert.Equal(t, "gateway_error", resp.Code)

		create, _, _ := ts.PayOS.Calls()
		assert.Equal(t, 3, create)
	})

	t.Run("rejected", func(t *testing.T) {
		ts.PayOS.SetFailCode("20")
		defer ts.PayOS.Reset()

		status, resp, _ := checkout(t, ts, ts.Login(t, user), "monthly")
		assert.Equal(t, http.StatusBadGateway, status)
		assert.Equal(t, "gateway_error", resp.Code)
		assert.Equal(t, "simulated rejection", resp.Details)
	})

	orders, err := data.ListOrdersByUser(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestOrderVisibility(t *testing.T) {
	ts := testutil.NewTestSuite(t)
	_, ownerToken := ts.CreateUser(t, data.RoleUser)
	_, strangerToken := ts.CreateUser(t, data.RoleUser)
	_, adminToken := ts.CreateUser(t, data.RoleAdmin)

	_, _, out := checkout(t, ts, ownerToken, "monthly")
	path := fmt.Sprintf("/api/orders/%d", out.OrderCode)

	status, _ := ts.Do(t, http.MethodGet, path, nil, ownerToken)
	assert.Equal(t, http.StatusOK, status)

	status, resp := ts.Do(t, http.MethodGet, path, nil, strangerToken)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "order_not_found", resp.Code)

	status, _ = ts.Do(t, http.MethodGet, path, nil, adminToken)
	assert.Equal(t, http.StatusOK, status)

	status, resp = ts.Do(t, http.MethodGet, "/api/orders/abc", nil, ownerToken)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_order_code", resp.Code)

	status, resp = ts.Do(t, http.MethodGet, "/api/orders", nil, ownerToken)
	require.Equal(t, http.StatusOK, status)
	var orders []data.Order
	testutil.DecodeData(t, resp, &orders)
	require.Len(t, orders, 1)
	assert.Equal(t, out.OrderCode, orders[0].OrderCode)
}

func TestCancelOrder(t *testing.T) {
	ts := testutil.NewTestSuite(t)
	_, token := ts.CreateUser(t, data.RoleUser)

	_, _, out := checkout(t, ts, token, "monthly")
	path := fmt.Sprintf("/api/orders/%d/cancel", out.OrderCode)

	status, resp := ts.Do(t, http.MethodPost, path, nil, token)
	require.Equal(t, http.StatusOK, status)
	var order data.Order
	testutil.DecodeData(t, resp, &order)
	assert.Equal(t, data.OrderCancelled, order.Status)
	assert.NotNil(t, order.CancelledAt)

	link, ok := ts.PayOS.Link(out.OrderCode)
	require.True(t, ok)
	assert.Equal(t, payos.StatusCancelled, link.Status)

	status, resp = ts.Do(t, http.MethodPost, path, nil, token)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "order_not_pending", resp.Code)
}

func TestCancelPaidOrderReportsConflict(t *testing.T) {
	ts := testutil.NewTestSuite(t)
	user, token := ts.CreateUser(t, data.RoleUser)

	_, _, out := checkout(t, ts, token, "monthly")
	ts.PayOS.MarkPaid(out.OrderCode, out.Amount, "FT-RACE")

	status, resp := ts.Do(t, http.MethodPost, fmt.Sprintf("/api/orders/%d/cancel", out.OrderCode), nil, token)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, data.OrderPaid, resp.Details)

	u, err := data.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, u.IsPremium(time.Now()))
}

func TestReturnURLReconciles(t *testing.T) {
	ts := testutil.NewTestSuite(t)
	user, token := ts.CreateUser(t, data.RoleUser)

	_, _, out := checkout(t, ts, token, "monthly")
	ts.PayOS.MarkPaid(out.OrderCode, out.Amount, "FT-RETURN")

	status, resp := ts.Do(t, http.MethodGet, fmt.Sprintf("/api/checkout/return?orderCode=%d&status=PAID", out.OrderCode), nil, "")
	require.Equal(t, http.StatusOK, status)

	var result payment.OrderStatusResponse
	testutil.DecodeData(t, resp, &result)
	assert.Equal(t, data.OrderPaid, result.Status)

	u, err := data.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.True(t, u.IsPremium(time.Now()))

	txs, err := data.ListTransactionsByOrder(context.Background(), out.OrderCode)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, payment.SourceReconcile, txs[0].Source)

	status, resp = ts.Do(t, http.MethodGet, "/api/checkout/return?orderCode=1", nil, "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "order_not_found", resp.Code)

	status, _ = ts.Do(t, http.MethodGet, "/api/checkout/return", nil, "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestReconcilePending(t *testing.T) {
	ts := testutil.NewTestSuite(t)
	a, tokenA := ts.CreateUser(t, data.RoleUser)
	_, tokenB := ts.CreateUser(t, data.RoleUser)
	_, tokenC := ts.CreateUser(t, data.RoleUser)

	_, _, paid := checkout(t, ts, tokenA, "monthly")
	_, _, expired := checkout(t, ts, tokenB, "monthly")
	_, _, open := checkout(t, ts, tokenC, "monthly")

	ts.PayOS.MarkPaid(paid.OrderCode, paid.Amount, "FT-REC")
	ts.PayOS.SetStatus(expired.OrderCode, payos.StatusExpired)

	result, err := ts.App.Reconciler.ReconcilePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, payment.ReconcileResult{Checked: 3, Paid: 1, Closed: 1}, result)

	for code, want := range map[int64]string{
		paid.OrderCode:    data.OrderPaid,
		expired.OrderCode: data.OrderExpired,
		open.OrderCode:    data.OrderPending,
	} {
		o, err := data.GetOrderByCode(context.Background(), code)
		require.NoError(t, err)
		assert.Equal(t, want, o.Status, code)
	}

	u, err := data.GetUserByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.True(t, u.IsPremium(time.Now()))
	assert.Contains(t, ts.Events.Subjects(), events.OrderPaid)

	again, err := ts.App.Reconciler.ReconcilePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, again.Checked)
}

func TestReconcileUnderpaymentAlertsOnce(t *testing.T) {
	ts := testutil.NewTestSuite(t)
	_, token := ts.CreateUser(t, data.RoleUser)

	_, _, out := checkout(t, ts, token, "monthly")
	ts.PayOS.MarkPaid(out.OrderCode, 1000, "FT-SHORT")

	for i := 0; i < 3; i++ {
		_, err := ts.App.Reconciler.ReconcilePending(context.Background())
		require.NoError(t, err)
	}

	txs, err := data.ListTransactionsByOrder(context.Background(), out.OrderCode)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, data.TxAmountMismatch, txs[0].Status)
	assert.Len(t, ts.Mailer.Sent(), 1)
}

func TestReconcileGatewayErrors(t *testing.T) {
	ts := testutil.NewTestSuite(t)
	_, token := ts.CreateUser(t, data.RoleUser)
	checkout(t, ts, token, "monthly")

	ts.PayOS.SetFailGet(true)
	result, err := ts.App.Reconciler.ReconcilePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Errors)
	assert.Zero(t, result.Paid)
}

func TestNewOrderCode(t *testing.T) {
	at := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	seen := map[int64]bool{}

	for i := 0; i < 50; i++ {
		code, err := payment.NewOrderCode(at)
		require.NoError(t, err)
		assert.Positive(t, code)
		assert.LessOrEqual(t, code, int64(1<<53-1))
		seen[code] = true
	}
	assert.Greater(t, len(seen), 1)

	later, err := payment.NewOrderCode(at.Add(time.Second))
	require.NoError(t, err)
	assert.Positive(t, later)
}
