package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/koresolucoes/pontog-sub001/feed"
	"github.com/koresolucoes/pontog-sub001/models"
)

const messageColumns = `
			id,
			conversation_id,
			sender_id,
			content,
			image_ref,
			created_at,
			updated_at,
			read_at`

// InsertMessage stores a new message and publishes its insert event.
func (s *Store) InsertMessage(ctx context.Context, message models.NewMessage) (*models.Message, error) {
	if err := message.Validate(); err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (
			conversation_id,
			sender_id,
			content,
			image_ref,
			created_at
		) VALUES (?, ?, ?, ?, ?)`,
		message.ConversationID,
		message.SenderID,
		nullString(message.Content),
		nullString(message.ImageRef),
		s.now().UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert message into conversation %d: %w", message.ConversationID, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("read inserted message id: %w", err)
	}

	stored, err := s.GetMessageByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.feed.Publish(feed.Event{Kind: feed.KindInsert, ConversationID: stored.ConversationID, Message: *stored})
	return stored, nil
}

// ListMessages returns all messages of a conversation in creation order.
func (s *Store) ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages for conversation %d: %w", conversationID, err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, *message)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}

	return messages, nil
}

// GetMessageByID fetches one message by ID.
func (s *Store) GetMessageByID(ctx context.Context, id int64) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+messageColumns+`
		FROM messages
		WHERE id = ?`,
		id,
	)

	message, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get message %d: %w", id, err)
	}
	return message, nil
}

// UpdateMessageContent replaces the content of a message and stamps updated_at.
func (s *Store) UpdateMessageContent(ctx context.Context, id int64, content string, updatedAt time.Time) error {
	if content == "" {
		return models.ErrEmptyMessage
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE messages
		SET content = ?, updated_at = ?
		WHERE id = ?`,
		content,
		updatedAt.UnixMilli(),
		id,
	)
	if err != nil {
		return fmt.Errorf("update content of message %d: %w", id, err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for update message %d: %w", id, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	stored, err := s.GetMessageByID(ctx, id)
	if err != nil {
		return err
	}
	s.feed.Publish(feed.Event{Kind: feed.KindUpdate, ConversationID: stored.ConversationID, Message: *stored})
	return nil
}

// DeleteMessage removes one message.
func (s *Store) DeleteMessage(ctx context.Context, id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var conversationID int64
	if err := s.db.QueryRowContext(ctx, `SELECT conversation_id FROM messages WHERE id = ?`, id).Scan(&conversationID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("look up message %d: %w", id, err)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete message %d: %w", id, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for delete message %d: %w", id, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.feed.Publish(feed.Event{
		Kind:           feed.KindDelete,
		ConversationID: conversationID,
		Message:        models.Message{ID: id, ConversationID: conversationID},
	})
	return nil
}

// BatchMarkRead stamps read_at on the given messages that are still unread.
// Already read messages keep their original timestamp.
func (s *Store) BatchMarkRead(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark read: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	unread, err := queryIDs(ctx, tx,
		`SELECT id FROM messages WHERE read_at IS NULL AND id IN (`+placeholders(len(ids))+`) ORDER BY id ASC`,
		int64Args(ids)...,
	)
	if err != nil {
		return fmt.Errorf("select unread messages: %w", err)
	}
	if len(unread) == 0 {
		return nil
	}

	args := append([]any{s.now().UnixMilli()}, int64Args(unread)...)
	if _, err := tx.ExecContext(ctx,
		`UPDATE messages SET read_at = ? WHERE id IN (`+placeholders(len(unread))+`)`,
		args...,
	); err != nil {
		return fmt.Errorf("mark %d messages read: %w", len(unread), err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark read: %w", err)
	}

	for _, id := range unread {
		stored, err := s.GetMessageByID(ctx, id)
		if err != nil {
			// deleted after commit; its delete event covers it
			continue
		}
		s.feed.Publish(feed.Event{Kind: feed.KindUpdate, ConversationID: stored.ConversationID, Message: *stored})
	}
	return nil
}

func (s *Store) lastMessage(ctx context.Context, conversationID int64) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT`+messageColumns+`
		FROM messages
		WHERE conversation_id = ?
		ORDER BY id DESC
		LIMIT 1`,
		conversationID,
	)
	message, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("last message of conversation %d: %w", conversationID, err)
	}
	return message, nil
}

func scanMessage(row scanner) (*models.Message, error) {
	var (
		message   models.Message
		content   sql.NullString
		imageRef  sql.NullString
		createdAt int64
		updatedAt sql.NullInt64
		readAt    sql.NullInt64
	)

	if err := row.Scan(
		&message.ID,
		&message.ConversationID,
		&message.SenderID,
		&content,
		&imageRef,
		&createdAt,
		&updatedAt,
		&readAt,
	); err != nil {
		return nil, err
	}

	message.Content = stringPtr(content)
	message.ImageRef = stringPtr(imageRef)
	message.CreatedAt = time.UnixMilli(createdAt)
	message.UpdatedAt = timePtr(updatedAt)
	message.ReadAt = timePtr(readAt)

	return &message, nil
}
