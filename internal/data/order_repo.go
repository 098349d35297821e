package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const orderColumns = `order_code, user_id, plan_id, amount, description, status, payment_link_id,
	checkout_url, reference, created_at, updated_at, paid_at, cancelled_at`

// PaymentInput is a confirmed payment reported by the gateway, from the webhook or reconciliation.
type PaymentInput struct {
	OrderCode     int64
	Amount        int64
	Reference     string
	PaymentLinkID string
	Source        string // webhook | reconcile
	RawPayload    string
}

// PaymentOutcome describes what ApplyPayment did.
type PaymentOutcome struct {
	Order            *Order
	User             *User
	AlreadyProcessed bool
	AmountMismatch   bool
	// MismatchSeen is set when this underpayment reference was already logged.
	MismatchSeen     bool
	PremiumExpiresAt time.Time
}

// DurationResolver maps a plan ID to the premium time it grants.
type DurationResolver func(planID string) (time.Duration, error)

// =============================================================================
// CORE CRUD OPERATIONS
// =============================================================================

func InsertOrder(ctx context.Context, o *Order) error {
	ts := now()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = ts
	}
	o.UpdatedAt = ts
	if o.Status == "" {
		o.Status = OrderPending
	}

	const stmt = `
		INSERT INTO orders (` + orderColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := ExecDB(ctx, stmt,
		o.OrderCode, o.UserID, o.PlanID, o.Amount, o.Description, o.Status, o.PaymentLinkID,
		o.CheckoutURL, o.Reference, formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
		formatNullableTime(o.PaidAt), formatNullableTime(o.CancelledAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func GetOrderByCode(ctx context.Context, code int64) (*Order, error) {
	q, err := conn()
	if err != nil {
		return nil, err
	}
	return getOrderByCode(ctx, q, code)
}

func getOrderByCode(ctx context.Context, q queryer, code int64) (*Order, error) {
	row := q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_code = ?`, code)
	return scanOrder(row)
}

func ListOrdersByUser(ctx context.Context, userID string) ([]Order, error) {
	return queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = ? ORDER BY created_at DESC`, userID)
}

// FindReusablePendingOrder returns the newest pending order for the same user and plan created after since.
func FindReusablePendingOrder(ctx context.Context, userID, planID string, since time.Time) (*Order, error) {
	q, err := conn()
	if err != nil {
		return nil, err
	}
	row := q.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders
		WHERE user_id = ? AND plan_id = ? AND status = ? AND checkout_url != '' AND created_at > ?
		ORDER BY created_at DESC LIMIT 1`,
		userID, planID, OrderPending, formatTime(since))
	return scanOrder(row)
}

// ListPendingOrders returns pending orders oldest first.
func ListPendingOrders(ctx context.Context, limit int) ([]Order, error) {
	return queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status = ? ORDER BY created_at ASC LIMIT ?`,
		OrderPending, limit)
}

// SetOrderStatus moves a PENDING order to status. Orders in any other state are left alone
// and ErrNotFound is returned.
func SetOrderStatus(ctx context.Context, code int64, status string) error {
	ts := formatTime(now())
	var cancelledAt interface{}
	if status == OrderCancelled || status == OrderExpired {
		cancelledAt = ts
	}
	res, err := ExecDB(ctx,
		`UPDATE orders SET status = ?, updated_at = ?, cancelled_at = COALESCE(?, cancelled_at)
		WHERE order_code = ? AND status = ?`,
		status, ts, cancelledAt, code, OrderPending)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return expectOneRow(res)
}

// ExpireStaleOrders marks up to limit pending orders created before cutoff as EXPIRED.
func ExpireStaleOrders(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	const stmt = `
		UPDATE orders SET status = ?, updated_at = ?, cancelled_at = ?
		WHERE order_code IN (
			SELECT order_code FROM orders
			WHERE status = ? AND created_at < ?
			ORDER BY created_at
			LIMIT ?
		)`
	ts := formatTime(now())
	res, err := ExecDB(ctx, stmt, OrderExpired, ts, ts, OrderPending, formatTime(cutoff), limit)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// =============================================================================
// PAYMENT APPLICATION
// =============================================================================

// ApplyPayment marks the order paid, extends the buyer's premium and writes the
// transaction log row in a single transaction. A second call for the same order
// writes nothing and reports AlreadyProcessed. An underpayment is logged once per
// gateway reference.
func ApplyPayment(ctx context.Context, in PaymentInput, durationFor DurationResolver) (*PaymentOutcome, error) {
	out := &PaymentOutcome{}

	err := WithTx(ctx, func(tx *sql.Tx) error {
		order, err := getOrderByCode(ctx, tx, in.OrderCode)
		if err != nil {
			return err
		}
		out.Order = order

		if order.Status == OrderPaid {
			out.AlreadyProcessed = true
			return nil
		}

		if in.Amount < order.Amount {
			out.AmountMismatch = true
			var seen int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM transactions WHERE order_code = ? AND status = ? AND reference = ?`,
				order.OrderCode, TxAmountMismatch, in.Reference).Scan(&seen); err != nil {
				return fmt.Errorf("failed to check logged mismatches: %w", err)
			}
			if seen > 0 {
				out.MismatchSeen = true
				return nil
			}
			return insertTransaction(ctx, tx, Transaction{
				OrderCode: order.OrderCode, UserID: order.UserID, Amount: in.Amount,
				Reference: in.Reference, Status: TxAmountMismatch, Source: in.Source, RawPayload: in.RawPayload,
			})
		}

		d, err := durationFor(order.PlanID)
		if err != nil {
			return fmt.Errorf("resolve plan %s: %w", order.PlanID, err)
		}

		at := now()
		linkID := in.PaymentLinkID
		if linkID == "" {
			linkID = order.PaymentLinkID
		}
		_, err = execOn(ctx, tx,
			`UPDATE orders SET status = ?, reference = ?, payment_link_id = ?, paid_at = ?, updated_at = ?
			WHERE order_code = ?`,
			OrderPaid, in.Reference, linkID, formatTime(at), formatTime(at), order.OrderCode)
		if err != nil {
			return fmt.Errorf("failed to mark order paid: %w", err)
		}
		order.Status = OrderPaid
		order.Reference = in.Reference
		order.PaymentLinkID = linkID
		order.PaidAt = &at

		if out.PremiumExpiresAt, err = extendPremium(ctx, tx, order.UserID, d, at); err != nil {
			return err
		}
		if out.User, err = getUserByID(ctx, tx, order.UserID); err != nil {
			return err
		}

		return insertTransaction(ctx, tx, Transaction{
			OrderCode: order.OrderCode, UserID: order.UserID, Amount: in.Amount,
			Reference: in.Reference, Status: TxSuccess, Source: in.Source, RawPayload: in.RawPayload,
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecordPaymentFailure marks a pending order FAILED and logs the failed transaction.
func RecordPaymentFailure(ctx context.Context, in PaymentInput) (*Order, error) {
	var order *Order
	err := WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		order, err = getOrderByCode(ctx, tx, in.OrderCode)
		if err != nil {
			return err
		}
		if order.Status == OrderPending {
			if _, err := execOn(ctx, tx,
				`UPDATE orders SET status = ?, updated_at = ? WHERE order_code = ?`,
				OrderFailed, formatTime(now()), order.OrderCode); err != nil {
				return err
			}
			order.Status = OrderFailed
		}
		return insertTransaction(ctx, tx, Transaction{
			OrderCode: order.OrderCode, UserID: order.UserID, Amount: in.Amount,
			Reference: in.Reference, Status: TxFailed, Source: in.Source, RawPayload: in.RawPayload,
		})
	})
	return order, err
}

// =============================================================================
// SCANNING HELPERS
// =============================================================================

func queryOrders(ctx context.Context, stmt string, args ...interface{}) ([]Order, error) {
	rows, err := QueryDB(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var result []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order rows: %w", err)
	}
	return result, nil
}

func scanOrder(row rowScanner) (*Order, error) {
	var o Order
	var createdAt, updatedAt string
	var paidAt, cancelledAt sql.NullString

	err := row.Scan(&o.OrderCode, &o.UserID, &o.PlanID, &o.Amount, &o.Description, &o.Status,
		&o.PaymentLinkID, &o.CheckoutURL, &o.Reference, &createdAt, &updatedAt, &paidAt, &cancelledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}

	if o.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if o.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if o.PaidAt, err = parseNullableTime(paidAt); err != nil {
		return nil, err
	}
	if o.CancelledAt, err = parseNullableTime(cancelledAt); err != nil {
		return nil, err
	}
	return &o, nil
}
