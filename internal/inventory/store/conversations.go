package store

import (
	"context"
	"database/sql"
	"fmt"

	atherrors "athena/internal/errors"
)

// Conversation persistence. The is_current transition (archive the old
// current, mark the new one) happens inside one transaction so no reader
// ever observes two current conversations.

const conversationColumns = `id, title, created_at, updated_at, token_count, compacted, is_current, metadata`

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var c Conversation
	var compacted, current int
	var created, updated sqlTime
	err := row.Scan(&c.ID, &c.Title, &created, &updated, &c.TokenCount, &compacted, &current, &c.Metadata)
	if err != nil {
		return nil, err
	}
	c.Compacted = compacted != 0
	c.IsCurrent = current != 0
	c.CreatedAt = created.Time()
	c.UpdatedAt = updated.Time()
	return &c, nil
}

// CurrentConversation returns the single current conversation, or nil when
// none exists.
func (s *Store) CurrentConversation(ctx context.Context) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE is_current = 1`)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, atherrors.NewPersistence("current_conversation", "read failed", err)
	}
	return conv, nil
}

// StartConversation archives the current conversation (single UPDATE) and
// inserts the new current one in the same transaction.
func (s *Store) StartConversation(ctx context.Context, title string) (*Conversation, error) {
	ts := now()
	var conv *Conversation
	err := s.withTx(ctx, "start_conversation", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET is_current = 0, updated_at = ? WHERE is_current = 1`, ts); err != nil {
			return atherrors.NewPersistence("start_conversation", "archive current", err)
		}
		var id int64
		if err := tx.QueryRowContext(ctx, `
            INSERT INTO conversations (title, created_at, updated_at, token_count, compacted, is_current, metadata)
            VALUES (?, ?, ?, 0, 0, 1, '{}') RETURNING id`, title, ts, ts).Scan(&id); err != nil {
			return atherrors.NewPersistence("start_conversation", "insert failed", err)
		}
		conv = &Conversation{
			ID: id, Title: title, CreatedAt: ts, UpdatedAt: ts,
			IsCurrent: true, Metadata: "{}",
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

// AppendMessage inserts one message and bumps the conversation's token count
// and updated_at atomically.
func (s *Store) AppendMessage(ctx context.Context, conversationID int64, role, content string, tokens int) (int64, error) {
	ts := now()
	var id int64
	err := s.withTx(ctx, "append_message", func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
            INSERT INTO messages (conversation_id, role, content, timestamp, tokens)
            VALUES (?, ?, ?, ?, ?) RETURNING id`,
			conversationID, role, content, ts, tokens).Scan(&id); err != nil {
			if isForeignKeyViolation(err) {
				return fmt.Errorf("conversation not found: id %d", conversationID)
			}
			return atherrors.NewPersistence("append_message", "insert failed", err)
		}
		result, err := tx.ExecContext(ctx, `
            UPDATE conversations SET token_count = token_count + ?, updated_at = ? WHERE id = ?`,
			tokens, ts, conversationID)
		if err != nil {
			return atherrors.NewPersistence("append_message", "update token count", err)
		}
		if affected, _ := result.RowsAffected(); affected == 0 {
			return fmt.Errorf("conversation not found: id %d", conversationID)
		}
		return nil
	})
	return id, err
}

// ConversationMessages returns a conversation's messages oldest first.
// Limit 0 means all.
func (s *Store) ConversationMessages(ctx context.Context, conversationID int64, limit int) ([]*Message, error) {
	query := `SELECT id, conversation_id, role, content, timestamp, tokens
        FROM messages WHERE conversation_id = ? ORDER BY timestamp, id`
	args := []any{conversationID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, atherrors.NewPersistence("conversation_messages", "query failed", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		var m Message
		var ts sqlTime
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &ts, &m.Tokens); err != nil {
			return nil, atherrors.NewPersistence("conversation_messages", "scan failed", err)
		}
		m.Timestamp = ts.Time()
		messages = append(messages, &m)
	}
	return messages, rows.Err()
}

// GetConversation fetches one conversation by id.
func (s *Store) GetConversation(ctx context.Context, id int64) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("conversation not found: id %d", id)
	}
	if err != nil {
		return nil, atherrors.NewPersistence("get_conversation", "read failed", err)
	}
	return conv, nil
}

// ListConversations returns every conversation newest first.
func (s *Store) ListConversations(ctx context.Context) ([]*Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations ORDER BY updated_at DESC, id DESC`)
	if err != nil {
		return nil, atherrors.NewPersistence("list_conversations", "query failed", err)
	}
	defer rows.Close()

	var conversations []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, atherrors.NewPersistence("list_conversations", "scan failed", err)
		}
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// MarkCompacted flags a conversation as compacted.
func (s *Store) MarkCompacted(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET compacted = 1, updated_at = ? WHERE id = ?`, now(), id)
	if err != nil {
		return atherrors.NewPersistence("mark_compacted", "update failed", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("conversation not found: id %d", id)
	}
	return nil
}

// DeleteConversation removes a conversation; the cascade removes its
// messages.
func (s *Store) DeleteConversation(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return atherrors.NewPersistence("delete_conversation", "delete failed", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return fmt.Errorf("conversation not found: id %d", id)
	}
	return nil
}
