package data

import (
	"context"
	"fmt"
	"time"
)

// StoreSummary is the admin dashboard snapshot.
type StoreSummary struct {
	TotalUsers          int            `json:"total_users"`
	PremiumUsers        int            `json:"premium_users"`
	BannedUsers         int            `json:"banned_users"`
	RoleCounts          map[string]int `json:"role_counts"`
	DishStatusCounts    map[string]int `json:"dish_status_counts"`
	OrderStatusCounts   map[string]int `json:"order_status_counts"`
	PendingApplications int            `json:"pending_applications"`
	OpenConversations   int            `json:"open_conversations"`
	Revenue             RevenueStats   `json:"revenue"`
}

type RevenueStats struct {
	TotalPaid    int64            `json:"total_paid"`
	PaidOrders   int              `json:"paid_orders"`
	Last30Days   int64            `json:"last_30_days"`
	AverageOrder int64            `json:"average_order"`
	ByPlan       map[string]int64 `json:"by_plan"`
}

// ComputeStoreSummary gathers counts and revenue as of at.
func ComputeStoreSummary(ctx context.Context, at time.Time) (*StoreSummary, error) {
	q, err := conn()
	if err != nil {
		return nil, err
	}

	s := &StoreSummary{}
	if s.RoleCounts, err = groupCounts(ctx, `SELECT role, COUNT(*) FROM users GROUP BY role`); err != nil {
		return nil, err
	}
	if s.DishStatusCounts, err = groupCounts(ctx, `SELECT status, COUNT(*) FROM dishes GROUP BY status`); err != nil {
		return nil, err
	}
	if s.OrderStatusCounts, err = groupCounts(ctx, `SELECT status, COUNT(*) FROM orders GROUP BY status`); err != nil {
		return nil, err
	}
	for _, n := range s.RoleCounts {
		s.TotalUsers += n
	}

	counts := []struct {
		dest *int
		stmt string
		args []interface{}
	}{
		{&s.PremiumUsers, `SELECT COUNT(*) FROM users WHERE plan = ? AND premium_expires_at > ?`,
			[]interface{}{PlanPremium, formatTime(at)}},
		{&s.BannedUsers, `SELECT COUNT(*) FROM users WHERE banned = 1`, nil},
		{&s.PendingApplications, `SELECT COUNT(*) FROM chef_applications WHERE status = ?`,
			[]interface{}{StatusPending}},
		{&s.OpenConversations, `SELECT COUNT(*) FROM support_conversations WHERE status = ?`,
			[]interface{}{ConversationOpen}},
	}
	for _, c := range counts {
		if err := q.QueryRowContext(ctx, c.stmt, c.args...).Scan(c.dest); err != nil {
			return nil, fmt.Errorf("failed to count: %w", err)
		}
	}

	err = q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0), COUNT(*) FROM orders WHERE status = ?`, OrderPaid,
	).Scan(&s.Revenue.TotalPaid, &s.Revenue.PaidOrders)
	if err != nil {
		return nil, fmt.Errorf("failed to sum revenue: %w", err)
	}
	err = q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM orders WHERE status = ? AND paid_at >= ?`,
		OrderPaid, formatTime(at.AddDate(0, 0, -30)),
	).Scan(&s.Revenue.Last30Days)
	if err != nil {
		return nil, fmt.Errorf("failed to sum recent revenue: %w", err)
	}
	if s.Revenue.ByPlan, err = revenueByPlan(ctx); err != nil {
		return nil, err
	}
	if s.Revenue.PaidOrders > 0 {
		s.Revenue.AverageOrder = s.Revenue.TotalPaid / int64(s.Revenue.PaidOrders)
	}
	return s, nil
}

func groupCounts(ctx context.Context, stmt string) (map[string]int, error) {
	rows, err := QueryDB(ctx, stmt)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[string]int{}
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[key] = n
	}
	return counts, rows.Err()
}

func revenueByPlan(ctx context.Context) (map[string]int64, error) {
	rows, err := QueryDB(ctx,
		`SELECT plan_id, COALESCE(SUM(amount), 0) FROM orders WHERE status = ? GROUP BY plan_id`, OrderPaid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byPlan := map[string]int64{}
	for rows.Next() {
		var plan string
		var sum int64
		if err := rows.Scan(&plan, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan plan revenue: %w", err)
		}
		byPlan[plan] = sum
	}
	return byPlan, rows.Err()
}
