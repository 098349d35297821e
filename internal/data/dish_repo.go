package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const dishColumns = `id, slug, chef_id, title, summary, ingredients_json, steps_json, cuisine,
	cook_minutes, price, is_premium, status, rejection_reason, created_at, updated_at`

// DishFilter narrows ListDishes. Empty fields do not filter.
type DishFilter struct {
	Status  string
	ChefID  string
	Cuisine string
	Query   string
	Premium *bool
	Limit   int
	Offset  int
}

// =============================================================================
// CORE CRUD OPERATIONS
// =============================================================================

func InsertDish(ctx context.Context, d *Dish) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.Status == "" {
		d.Status = StatusPending
	}
	ts := now()
	d.CreatedAt, d.UpdatedAt = ts, ts

	ingredientsJSON, stepsJSON, err := marshalDishLists(d)
	if err != nil {
		return err
	}

	const stmt = `
		INSERT INTO dishes (` + dishColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = ExecDB(ctx, stmt,
		d.ID, d.Slug, d.ChefID, d.Title, d.Summary, ingredientsJSON, stepsJSON, d.Cuisine,
		d.CookMinutes, d.Price.String(), d.IsPremium, d.Status, d.RejectionReason,
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert dish: %w", err)
	}
	return nil
}

// UpdateDishContent rewrites the chef-editable fields and sends the dish back to review.
func UpdateDishContent(ctx context.Context, d *Dish) error {
	ingredientsJSON, stepsJSON, err := marshalDishLists(d)
	if err != nil {
		return err
	}
	d.UpdatedAt = now()
	d.Status = StatusPending
	d.RejectionReason = ""

	res, err := ExecDB(ctx,
		`UPDATE dishes SET title = ?, summary = ?, ingredients_json = ?, steps_json = ?, cuisine = ?,
			cook_minutes = ?, price = ?, is_premium = ?, status = ?, rejection_reason = '', updated_at = ?
		WHERE id = ?`,
		d.Title, d.Summary, ingredientsJSON, stepsJSON, d.Cuisine, d.CookMinutes, d.Price.String(),
		d.IsPremium, d.Status, formatTime(d.UpdatedAt), d.ID)
	if err != nil {
		return fmt.Errorf("failed to update dish: %w", err)
	}
	return expectOneRow(res)
}

// SetDishReview records a moderation decision.
func SetDishReview(ctx context.Context, id, status, reason string) error {
	res, err := ExecDB(ctx,
		`UPDATE dishes SET status = ?, rejection_reason = ?, updated_at = ? WHERE id = ?`,
		status, reason, formatTime(now()), id)
	if err != nil {
		return fmt.Errorf("failed to review dish: %w", err)
	}
	return expectOneRow(res)
}

func DeleteDish(ctx context.Context, id string) error {
	res, err := ExecDB(ctx, `DELETE FROM dishes WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete dish: %w", err)
	}
	return expectOneRow(res)
}

func GetDishByID(ctx context.Context, id string) (*Dish, error) {
	q, err := conn()
	if err != nil {
		return nil, err
	}
	return scanDish(q.QueryRowContext(ctx, `SELECT `+dishColumns+` FROM dishes WHERE id = ?`, id))
}

func GetDishBySlug(ctx context.Context, slug string) (*Dish, error) {
	q, err := conn()
	if err != nil {
		return nil, err
	}
	return scanDish(q.QueryRowContext(ctx, `SELECT `+dishColumns+` FROM dishes WHERE slug = ?`, slug))
}

// ListDishes returns dishes newest first.
func ListDishes(ctx context.Context, f DishFilter) ([]Dish, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.ChefID != "" {
		where = append(where, "chef_id = ?")
		args = append(args, f.ChefID)
	}
	if f.Cuisine != "" {
		where = append(where, "cuisine = ?")
		args = append(args, f.Cuisine)
	}
	if f.Query != "" {
		where = append(where, "(title LIKE ? OR summary LIKE ?)")
		like := "%" + f.Query + "%"
		args = append(args, like, like)
	}
	if f.Premium != nil {
		where = append(where, "is_premium = ?")
		args = append(args, *f.Premium)
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}

	stmt := `SELECT ` + dishColumns + ` FROM dishes`
	if len(where) > 0 {
		stmt += " WHERE " + strings.Join(where, " AND ")
	}
	stmt += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	return queryDishes(ctx, stmt, args...)
}

// =============================================================================
// FAVORITES
// =============================================================================

func AddFavorite(ctx context.Context, userID, dishID string) error {
	_, err := ExecDB(ctx,
		`INSERT OR IGNORE INTO favorites (user_id, dish_id, created_at) VALUES (?, ?, ?)`,
		userID, dishID, formatTime(now()))
	return err
}

func RemoveFavorite(ctx context.Context, userID, dishID string) error {
	_, err := ExecDB(ctx, `DELETE FROM favorites WHERE user_id = ? AND dish_id = ?`, userID, dishID)
	return err
}

// ListFavoriteDishes returns the approved dishes a user has favorited, most recent favorite first.
func ListFavoriteDishes(ctx context.Context, userID string) ([]Dish, error) {
	return queryDishes(ctx,
		`SELECT `+prefixed("d.", dishColumns)+` FROM dishes d
		JOIN favorites f ON f.dish_id = d.id
		WHERE f.user_id = ? AND d.status = ?
		ORDER BY f.created_at DESC`, userID, StatusApproved)
}

// =============================================================================
// SCANNING AND POPULATION HELPERS
// =============================================================================

func marshalDishLists(d *Dish) (string, string, error) {
	if d.Ingredients == nil {
		d.Ingredients = []string{}
	}
	if d.Steps == nil {
		d.Steps = []string{}
	}
	ingredients, err := json.Marshal(d.Ingredients)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal ingredients: %w", err)
	}
	steps, err := json.Marshal(d.Steps)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal steps: %w", err)
	}
	return string(ingredients), string(steps), nil
}

func queryDishes(ctx context.Context, stmt string, args ...interface{}) ([]Dish, error) {
	rows, err := QueryDB(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dishes: %w", err)
	}
	defer rows.Close()

	result := []Dish{}
	for rows.Next() {
		d, err := scanDish(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dish rows: %w", err)
	}
	return result, nil
}

func scanDish(row rowScanner) (*Dish, error) {
	var d Dish
	var ingredientsJSON, stepsJSON, price, createdAt, updatedAt string

	err := row.Scan(&d.ID, &d.Slug, &d.ChefID, &d.Title, &d.Summary, &ingredientsJSON, &stepsJSON,
		&d.Cuisine, &d.CookMinutes, &price, &d.IsPremium, &d.Status, &d.RejectionReason,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan dish: %w", err)
	}

	if err := json.Unmarshal([]byte(ingredientsJSON), &d.Ingredients); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ingredients for %s: %w", d.ID, err)
	}
	if err := json.Unmarshal([]byte(stepsJSON), &d.Steps); err != nil {
		return nil, fmt.Errorf("failed to unmarshal steps for %s: %w", d.ID, err)
	}
	if d.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("failed to parse price for %s: %w", d.ID, err)
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

// prefixed qualifies a comma-separated column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
