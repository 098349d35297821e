package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrApplicationOpen is returned when a user already has a pending chef application.
var ErrApplicationOpen = errors.New("chef application already pending")

// ErrAlreadyReviewed is returned when reviewing an application that is no longer pending.
var ErrAlreadyReviewed = errors.New("application already reviewed")

const applicationColumns = `id, user_id, display_name, bio, specialty, status, reason, reviewed_by, created_at, reviewed_at`

// InsertChefApplication files a pending application. Only one may be pending per user.
func InsertChefApplication(ctx context.Context, app *ChefApplication) error {
	return WithTx(ctx, func(tx *sql.Tx) error {
		var open int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM chef_applications WHERE user_id = ? AND status = ?`,
			app.UserID, StatusPending).Scan(&open); err != nil {
			return fmt.Errorf("failed to check open applications: %w", err)
		}
		if open > 0 {
			return ErrApplicationOpen
		}

		app.ID = uuid.NewString()
		app.Status = StatusPending
		app.CreatedAt = now()
		_, err := execOn(ctx, tx,
			`INSERT INTO chef_applications (`+applicationColumns+`) VALUES (?, ?, ?, ?, ?, ?, '', '', ?, NULL)`,
			app.ID, app.UserID, app.DisplayName, app.Bio, app.Specialty, app.Status, formatTime(app.CreatedAt))
		return err
	})
}

func GetChefApplication(ctx context.Context, id string) (*ChefApplication, error) {
	q, err := conn()
	if err != nil {
		return nil, err
	}
	return scanApplication(q.QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM chef_applications WHERE id = ?`, id))
}

// ListChefApplications returns applications oldest first so the review queue is FIFO.
func ListChefApplications(ctx context.Context, status string) ([]ChefApplication, error) {
	stmt := `SELECT ` + applicationColumns + ` FROM chef_applications`
	var args []interface{}
	if status != "" {
		stmt += ` WHERE status = ?`
		args = append(args, status)
	}
	stmt += ` ORDER BY created_at ASC`

	rows, err := QueryDB(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []ChefApplication{}
	for rows.Next() {
		app, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *app)
	}
	return result, rows.Err()
}

// ApproveChefApplication promotes the applicant to chef and creates the chef profile.
func ApproveChefApplication(ctx context.Context, id, reviewerID string) (*ChefApplication, error) {
	var app *ChefApplication
	err := WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		app, err = scanApplication(tx.QueryRowContext(ctx,
			`SELECT `+applicationColumns+` FROM chef_applications WHERE id = ?`, id))
		if err != nil {
			return err
		}
		if app.Status != StatusPending {
			return ErrAlreadyReviewed
		}

		at := now()
		if _, err := execOn(ctx, tx,
			`UPDATE chef_applications SET status = ?, reviewed_by = ?, reviewed_at = ? WHERE id = ?`,
			StatusApproved, reviewerID, formatTime(at), id); err != nil {
			return err
		}

		applicant, err := getUserByID(ctx, tx, app.UserID)
		if err != nil {
			return err
		}
		// Admins keep their role; everyone else becomes a chef.
		if applicant.Role != RoleAdmin {
			if err := updateUserRole(ctx, tx, app.UserID, RoleChef); err != nil {
				return err
			}
		}

		_, err = execOn(ctx, tx,
			`INSERT INTO chef_profiles (user_id, display_name, bio, specialty, created_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET display_name = excluded.display_name,
				bio = excluded.bio, specialty = excluded.specialty`,
			app.UserID, app.DisplayName, app.Bio, app.Specialty, formatTime(at))
		if err != nil {
			return fmt.Errorf("failed to upsert chef profile: %w", err)
		}

		app.Status = StatusApproved
		app.ReviewedBy = reviewerID
		app.ReviewedAt = &at
		return nil
	})
	return app, err
}

func RejectChefApplication(ctx context.Context, id, reviewerID, reason string) error {
	res, err := ExecDB(ctx,
		`UPDATE chef_applications SET status = ?, reason = ?, reviewed_by = ?, reviewed_at = ?
		WHERE id = ? AND status = ?`,
		StatusRejected, reason, reviewerID, formatTime(now()), id, StatusPending)
	if err != nil {
		return fmt.Errorf("failed to reject application: %w", err)
	}
	if err := expectOneRow(res); err != nil {
		if _, getErr := GetChefApplication(ctx, id); getErr == nil {
			return ErrAlreadyReviewed
		}
		return err
	}
	return nil
}

// ListChefs returns chef profiles with their approved dish counts.
func ListChefs(ctx context.Context) ([]ChefProfile, error) {
	rows, err := QueryDB(ctx, `
		SELECT p.user_id, p.display_name, p.bio, p.specialty, p.created_at,
			(SELECT COUNT(*) FROM dishes d WHERE d.chef_id = p.user_id AND d.status = ?)
		FROM chef_profiles p
		JOIN users u ON u.id = p.user_id
		WHERE u.role IN (?, ?) AND u.banned = 0
		ORDER BY p.display_name`, StatusApproved, RoleChef, RoleAdmin)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []ChefProfile{}
	for rows.Next() {
		p, err := scanChefProfile(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

func GetChefProfile(ctx context.Context, userID string) (*ChefProfile, error) {
	q, err := conn()
	if err != nil {
		return nil, err
	}
	return scanChefProfile(q.QueryRowContext(ctx, `
		SELECT p.user_id, p.display_name, p.bio, p.specialty, p.created_at,
			(SELECT COUNT(*) FROM dishes d WHERE d.chef_id = p.user_id AND d.status = ?)
		FROM chef_profiles p WHERE p.user_id = ?`, StatusApproved, userID))
}

func scanChefProfile(row rowScanner) (*ChefProfile, error) {
	var p ChefProfile
	var createdAt string
	err := row.Scan(&p.UserID, &p.DisplayName, &p.Bio, &p.Specialty, &createdAt, &p.DishCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan chef profile: %w", err)
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func scanApplication(row rowScanner) (*ChefApplication, error) {
	var a ChefApplication
	var createdAt string
	var reviewedAt sql.NullString
	err := row.Scan(&a.ID, &a.UserID, &a.DisplayName, &a.Bio, &a.Specialty, &a.Status,
		&a.Reason, &a.ReviewedBy, &createdAt, &reviewedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan chef application: %w", err)
	}
	if a.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if a.ReviewedAt, err = parseNullableTime(reviewedAt); err != nil {
		return nil, err
	}
	return &a, nil
}
