package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/koresolucoes/pontog-sub001/feed"
	"github.com/koresolucoes/pontog-sub001/models"
)

// GetOrCreateConversation returns the conversation between two users, creating
// it on first contact. Argument order does not matter.
func (s *Store) GetOrCreateConversation(ctx context.Context, userA, userB string) (int64, error) {
	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return 0, errors.New("both participant ids are required")
	}
	if userA == userB {
		return 0, ErrSelfConversation
	}
	a, b := models.NormalizePair(userA, userB)

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (participant_a, participant_b, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (participant_a, participant_b) DO NOTHING`,
		a,
		b,
		s.now().UnixMilli(),
	); err != nil {
		return 0, fmt.Errorf("create conversation %q/%q: %w", a, b, err)
	}

	var id int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT id FROM conversations WHERE participant_a = ? AND participant_b = ?`,
		a,
		b,
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("resolve conversation %q/%q: %w", a, b, err)
	}

	return id, nil
}

// GetConversation fetches one conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id int64) (*models.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, participant_a, participant_b, created_at
		FROM conversations
		WHERE id = ?`,
		id,
	)
	conversation, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conversation %d: %w", id, err)
	}
	return conversation, nil
}

// ListConversations returns the inbox of userID, most recently active first,
// with the last message and the count of unread messages from the peer.
func (s *Store) ListConversations(ctx context.Context, userID string) ([]ConversationSummary, error) {
	if userID == "" {
		return nil, errors.New("user_id is required")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT
			c.id,
			c.participant_a,
			c.participant_b,
			c.created_at,
			(SELECT COUNT(1) FROM messages m
				WHERE m.conversation_id = c.id AND m.sender_id != ? AND m.read_at IS NULL) AS unread
		FROM conversations c
		WHERE c.participant_a = ? OR c.participant_b = ?
		ORDER BY COALESCE((SELECT MAX(m.id) FROM messages m WHERE m.conversation_id = c.id), 0) DESC, c.id DESC`,
		userID,
		userID,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list conversations for %q: %w", userID, err)
	}
	defer rows.Close()

	summaries := make([]ConversationSummary, 0)
	for rows.Next() {
		var (
			conversation models.Conversation
			createdAt    int64
			unread       int
		)
		if err := rows.Scan(
			&conversation.ID,
			&conversation.ParticipantA,
			&conversation.ParticipantB,
			&createdAt,
			&unread,
		); err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		conversation.CreatedAt = time.UnixMilli(createdAt)
		summaries = append(summaries, ConversationSummary{
			Conversation: conversation,
			Peer:         conversation.Peer(userID),
			UnreadCount:  unread,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	rows.Close()

	for i := range summaries {
		last, err := s.lastMessage(ctx, summaries[i].Conversation.ID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
		summaries[i].LastMessage = last
	}

	return summaries, nil
}

// DeleteConversation removes a conversation and, by cascade, its messages.
// Subscribers receive a delete event per message and are then closed.
func (s *Store) DeleteConversation(ctx context.Context, id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete conversation %d: %w", id, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	ids, err := queryIDs(ctx, tx, `SELECT id FROM messages WHERE conversation_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return fmt.Errorf("collect messages of conversation %d: %w", id, err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation %d: %w", id, err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("read rows affected for delete conversation %d: %w", id, err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete conversation %d: %w", id, err)
	}

	for _, messageID := range ids {
		s.feed.Publish(feed.Event{
			Kind:           feed.KindDelete,
			ConversationID: id,
			Message:        models.Message{ID: messageID, ConversationID: id},
		})
	}
	s.feed.CloseConversation(id)
	return nil
}

// SubscribeToConversation opens a change-feed subscription for one conversation.
func (s *Store) SubscribeToConversation(ctx context.Context, conversationID int64) (*feed.Subscription, error) {
	sub, err := s.feed.Subscribe(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("subscribe to conversation %d: %w", conversationID, err)
	}
	return sub, nil
}

func scanConversation(row scanner) (*models.Conversation, error) {
	var (
		conversation models.Conversation
		createdAt    int64
	)
	if err := row.Scan(
		&conversation.ID,
		&conversation.ParticipantA,
		&conversation.ParticipantB,
		&createdAt,
	); err != nil {
		return nil, err
	}
	conversation.CreatedAt = time.UnixMilli(createdAt)
	return &conversation, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryIDs(ctx context.Context, q querier, query string, args ...any) ([]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
