package data

import (
	"context"
	"fmt"
)

func insertTransaction(ctx context.Context, q queryer, t Transaction) error {
	if t.Source == "" {
		t.Source = "webhook"
	}
	if t.RawPayload == "" {
		t.RawPayload = "{}"
	}
	_, err := execOn(ctx, q,
		`INSERT INTO transactions (order_code, user_id, amount, reference, status, source, raw_payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.OrderCode, t.UserID, t.Amount, t.Reference, t.Status, t.Source, t.RawPayload, formatTime(now()))
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

// ListTransactionsByOrder returns the log rows for an order, oldest first.
func ListTransactionsByOrder(ctx context.Context, orderCode int64) ([]Transaction, error) {
	rows, err := QueryDB(ctx,
		`SELECT id, order_code, user_id, amount, reference, status, source, raw_payload, created_at
		FROM transactions WHERE order_code = ? ORDER BY id`, orderCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Transaction
	for rows.Next() {
		var t Transaction
		var createdAt string
		if err := rows.Scan(&t.ID, &t.OrderCode, &t.UserID, &t.Amount, &t.Reference, &t.Status,
			&t.Source, &t.RawPayload, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}
