package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func InsertSession(ctx context.Context, s Session) error {
	_, err := ExecDB(ctx,
		`INSERT INTO sessions (token_digest, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)`,
		s.TokenDigest, s.UserID, formatTime(s.CreatedAt), formatTime(s.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// GetSessionUser resolves an unexpired session digest to its user.
func GetSessionUser(ctx context.Context, digest string, at time.Time) (*User, error) {
	q, err := conn()
	if err != nil {
		return nil, err
	}

	var userID string
	err = q.QueryRowContext(ctx,
		`SELECT user_id FROM sessions WHERE token_digest = ? AND expires_at > ?`,
		digest, formatTime(at),
	).Scan(&userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}
	return getUserByID(ctx, q, userID)
}

func DeleteSession(ctx context.Context, digest string) error {
	_, err := ExecDB(ctx, `DELETE FROM sessions WHERE token_digest = ?`, digest)
	return err
}

// DeleteExpiredSessions removes sessions that expired before at.
func DeleteExpiredSessions(ctx context.Context, at time.Time) (int, error) {
	res, err := ExecDB(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, formatTime(at))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
