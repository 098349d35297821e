package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrConversationClosed is returned when posting into a closed conversation.
var ErrConversationClosed = errors.New("conversation is closed")

const conversationColumns = `id, user_id, subject, status, created_at, updated_at`

// InsertConversation opens a conversation together with its first message.
func InsertConversation(ctx context.Context, c *Conversation, first *Message) error {
	return WithTx(ctx, func(tx *sql.Tx) error {
		at := now()
		c.ID = uuid.NewString()
		c.Status = ConversationOpen
		c.CreatedAt, c.UpdatedAt = at, at

		if _, err := execOn(ctx, tx,
			`INSERT INTO support_conversations (`+conversationColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.UserID, c.Subject, c.Status, formatTime(at), formatTime(at)); err != nil {
			return fmt.Errorf("failed to insert conversation: %w", err)
		}

		first.ConversationID = c.ID
		return insertMessage(ctx, tx, first)
	})
}

func GetConversation(ctx context.Context, id string) (*Conversation, error) {
	q, err := conn()
	if err != nil {
		return nil, err
	}
	return scanConversation(q.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM support_conversations WHERE id = ?`, id))
}

// ListConversations returns conversations by most recent activity. Empty userID lists all.
func ListConversations(ctx context.Context, userID, status string) ([]Conversation, error) {
	stmt := `SELECT ` + conversationColumns + ` FROM support_conversations WHERE 1 = 1`
	var args []interface{}
	if userID != "" {
		stmt += ` AND user_id = ?`
		args = append(args, userID)
	}
	if status != "" {
		stmt += ` AND status = ?`
		args = append(args, status)
	}
	stmt += ` ORDER BY updated_at DESC`

	rows, err := QueryDB(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Conversation{}
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

// AppendMessage adds a message to an open conversation and bumps its activity time.
func AppendMessage(ctx context.Context, m *Message) error {
	return WithTx(ctx, func(tx *sql.Tx) error {
		c, err := scanConversation(tx.QueryRowContext(ctx,
			`SELECT `+conversationColumns+` FROM support_conversations WHERE id = ?`, m.ConversationID))
		if err != nil {
			return err
		}
		if c.Status == ConversationClosed {
			return ErrConversationClosed
		}
		return insertMessage(ctx, tx, m)
	})
}

func CloseConversation(ctx context.Context, id string) error {
	res, err := ExecDB(ctx,
		`UPDATE support_conversations SET status = ?, updated_at = ? WHERE id = ?`,
		ConversationClosed, formatTime(now()), id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// ListMessages returns a conversation's messages oldest first.
func ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := QueryDB(ctx,
		`SELECT id, conversation_id, sender_id, sender_role, body, created_at
		FROM support_messages WHERE conversation_id = ? ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := []Message{}
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderRole, &m.Body, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if m.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func insertMessage(ctx context.Context, q queryer, m *Message) error {
	m.ID = uuid.NewString()
	m.CreatedAt = now()
	if _, err := execOn(ctx, q,
		`INSERT INTO support_messages (id, conversation_id, sender_id, sender_role, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, m.SenderID, m.SenderRole, m.Body, formatTime(m.CreatedAt)); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	_, err := execOn(ctx, q,
		`UPDATE support_conversations SET updated_at = ? WHERE id = ?`,
		formatTime(m.CreatedAt), m.ConversationID)
	return err
}

func scanConversation(row rowScanner) (*Conversation, error) {
	var c Conversation
	var createdAt, updatedAt string
	err := row.Scan(&c.ID, &c.UserID, &c.Subject, &c.Status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan conversation: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}
