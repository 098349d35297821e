package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrEmailTaken is returned when registering an email that already exists.
var ErrEmailTaken = errors.New("email already registered")

const userColumns = `id, email, password_hash, full_name, role, plan, premium_expires_at, banned, created_at, updated_at`

type UserFilter struct {
	Role  string
	Query string
	Limit int
}

// =============================================================================
// CORE CRUD OPERATIONS
// =============================================================================

// InsertUser creates a user. ID and timestamps are filled in when empty.
func InsertUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = RoleUser
	}
	if u.Plan == "" {
		u.Plan = PlanFree
	}
	ts := now()
	u.CreatedAt, u.UpdatedAt = ts, ts

	const stmt = `
		INSERT INTO users (` + userColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := ExecDB(ctx, stmt,
		u.ID, u.Email, u.PasswordHash, u.FullName, u.Role, u.Plan,
		formatNullableTime(u.PremiumExpiresAt), u.Banned, formatTime(u.CreatedAt), formatTime(u.UpdatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return ErrEmailTaken
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func GetUserByID(ctx context.Context, id string) (*User, error) {
	q, err := conn()
	if err != nil {
		return nil, err
	}
	return getUserByID(ctx, q, id)
}

func getUserByID(ctx context.Context, q queryer, id string) (*User, error) {
	row := q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	return scanUser(row)
}

func GetUserByEmail(ctx context.Context, email string) (*User, error) {
	q, err := conn()
	if err != nil {
		return nil, err
	}
	row := q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	return scanUser(row)
}

// ListUsers returns users newest first, optionally filtered by role or an email/name substring.
func ListUsers(ctx context.Context, f UserFilter) ([]User, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Role != "" {
		where = append(where, "role = ?")
		args = append(args, f.Role)
	}
	if f.Query != "" {
		where = append(where, "(email LIKE ? OR full_name LIKE ?)")
		like := "%" + f.Query + "%"
		args = append(args, like, like)
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 200
	}

	stmt := `SELECT ` + userColumns + ` FROM users`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, f.Limit)

	rows, err := QueryDB(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var result []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}
	return result, nil
}

func UpdateUserRole(ctx context.Context, id, role string) error {
	q, err := conn()
	if err != nil {
		return err
	}
	return updateUserRole(ctx, q, id, role)
}

func updateUserRole(ctx context.Context, q queryer, id, role string) error {
	res, err := execOn(ctx, q, `UPDATE users SET role = ?, updated_at = ? WHERE id = ?`, role, formatTime(now()), id)
	if err != nil {
		return fmt.Errorf("failed to update user role: %w", err)
	}
	return expectOneRow(res)
}

func SetUserBanned(ctx context.Context, id string, banned bool) error {
	res, err := ExecDB(ctx, `UPDATE users SET banned = ?, updated_at = ? WHERE id = ?`, banned, formatTime(now()), id)
	if err != nil {
		return fmt.Errorf("failed to update user ban: %w", err)
	}
	if banned {
		if _, err := ExecDB(ctx, `DELETE FROM sessions WHERE user_id = ?`, id); err != nil {
			return fmt.Errorf("failed to revoke sessions: %w", err)
		}
	}
	return expectOneRow(res)
}

// extendPremium sets plan premium and pushes the expiry forward by d,
// starting from the current expiry when it is still in the future.
func extendPremium(ctx context.Context, q queryer, userID string, d time.Duration, at time.Time) (time.Time, error) {
	u, err := getUserByID(ctx, q, userID)
	if err != nil {
		return time.Time{}, err
	}

	start := at
	if u.PremiumExpiresAt != nil && u.PremiumExpiresAt.After(at) {
		start = *u.PremiumExpiresAt
	}
	expires := start.Add(d)

	_, err = execOn(ctx, q,
		`UPDATE users SET plan = ?, premium_expires_at = ?, updated_at = ? WHERE id = ?`,
		PlanPremium, formatTime(expires), formatTime(at), userID,
	)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to extend premium: %w", err)
	}
	return expires, nil
}

// DowngradeExpiredPremium moves users whose premium expired back to the free plan.
func DowngradeExpiredPremium(ctx context.Context, at time.Time) (int, error) {
	res, err := ExecDB(ctx,
		`UPDATE users SET plan = ?, updated_at = ? WHERE plan = ? AND premium_expires_at IS NOT NULL AND premium_expires_at <= ?`,
		PlanFree, formatTime(at), PlanPremium, formatTime(at),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// =============================================================================
// SCANNING HELPERS
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var premiumExpires sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Role, &u.Plan,
		&premiumExpires, &u.Banned, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}

	if u.PremiumExpiresAt, err = parseNullableTime(premiumExpires); err != nil {
		return nil, err
	}
	if u.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if u.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
