package data

import (
	"context"
	"fmt"

	"recipestore/internal/logger"
)

// =============================================================================
// SCHEMA DEFINITIONS
// =============================================================================

const usersTableSchema = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		full_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'user',
		plan TEXT NOT NULL DEFAULT 'free',
		premium_expires_at TEXT,
		banned BOOLEAN NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);
	CREATE INDEX IF NOT EXISTS idx_users_premium_expires ON users(plan, premium_expires_at);`

const sessionsTableSchema = `
	CREATE TABLE IF NOT EXISTS sessions (
		token_digest TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		created_at TEXT NOT NULL,
		expires_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);`

const ordersTableSchema = `
	CREATE TABLE IF NOT EXISTS orders (
		order_code INTEGER PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		plan_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		payment_link_id TEXT NOT NULL DEFAULT '',
		checkout_url TEXT NOT NULL DEFAULT '',
		reference TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		paid_at TEXT,
		cancelled_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status, created_at);`

const transactionsTableSchema = `
	CREATE TABLE IF NOT EXISTS transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_code INTEGER NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		amount INTEGER NOT NULL DEFAULT 0,
		reference TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT 'webhook',
		raw_payload TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_transactions_order ON transactions(order_code);`

const chefsTableSchema = `
	CREATE TABLE IF NOT EXISTS chef_profiles (
		user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
		display_name TEXT NOT NULL,
		bio TEXT NOT NULL DEFAULT '',
		specialty TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS chef_applications (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		display_name TEXT NOT NULL,
		bio TEXT NOT NULL DEFAULT '',
		specialty TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		reviewed_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		reviewed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_chef_applications_status ON chef_applications(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_chef_applications_user ON chef_applications(user_id);`

const dishesTableSchema = `
	CREATE TABLE IF NOT EXISTS dishes (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		chef_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		title TEXT NOT NULL,
		summary TEXT NOT NULL DEFAULT '',
		ingredients_json TEXT NOT NULL DEFAULT '[]',
		steps_json TEXT NOT NULL DEFAULT '[]',
		cuisine TEXT NOT NULL DEFAULT '',
		cook_minutes INTEGER NOT NULL DEFAULT 0,
		price TEXT NOT NULL DEFAULT '0',
		is_premium BOOLEAN NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		rejection_reason TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_dishes_status ON dishes(status, created_at);
	CREATE INDEX IF NOT EXISTS idx_dishes_chef ON dishes(chef_id);
	CREATE TABLE IF NOT EXISTS favorites (
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		dish_id TEXT NOT NULL REFERENCES dishes(id) ON DELETE CASCADE,
		created_at TEXT NOT NULL,
		PRIMARY KEY (user_id, dish_id)
	);`

const supportTableSchema = `
	CREATE TABLE IF NOT EXISTS support_conversations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		subject TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_support_conversations_user ON support_conversations(user_id);
	CREATE INDEX IF NOT EXISTS idx_support_conversations_status ON support_conversations(status, updated_at);
	CREATE TABLE IF NOT EXISTS support_messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES support_conversations(id) ON DELETE CASCADE,
		sender_id TEXT NOT NULL,
		sender_role TEXT NOT NULL,
		body TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_support_messages_conversation ON support_messages(conversation_id, created_at);`

// =============================================================================
// TABLE CREATION AND MIGRATIONS
// =============================================================================

// CreateTables creates every table and runs column migrations.
func CreateTables(ctx context.Context) error {
	tables := []struct {
		name   string
		schema string
	}{
		{"users", usersTableSchema},
		{"sessions", sessionsTableSchema},
		{"orders", ordersTableSchema},
		{"transactions", transactionsTableSchema},
		{"chefs", chefsTableSchema},
		{"dishes", dishesTableSchema},
		{"support", supportTableSchema},
	}

	for _, table := range tables {
		if _, err := ExecDB(ctx, table.schema); err != nil {
			return fmt.Errorf("failed to create %s tables: %w", table.name, err)
		}
	}

	if err := addColumnIfMissing(ctx, "transactions", "source", "TEXT NOT NULL DEFAULT 'webhook'"); err != nil {
		return fmt.Errorf("failed to migrate transactions table: %w", err)
	}
	return nil
}

// addColumnIfMissing adds a column to databases created before it existed.
func addColumnIfMissing(ctx context.Context, table, column, definition string) error {
	conn, err := GetDB()
	if err != nil {
		return err
	}

	var count int
	err = conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check for %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}

	if _, err := ExecDB(ctx, fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, column, definition)); err != nil {
		return err
	}
	logger.LogInfo("Added %s column to %s table", column, table)
	return nil
}
