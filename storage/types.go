package storage

import (
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/koresolucoes/pontog-sub001/models"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
	// ErrSelfConversation rejects a conversation between a user and themselves.
	ErrSelfConversation = errors.New("storage: conversation needs two distinct participants")
)

// ConversationSummary is one inbox row for a user.
type ConversationSummary struct {
	Conversation models.Conversation
	Peer         string
	LastMessage  *models.Message
	UnreadCount  int
}

// AlbumGrant records that an album owner let grantee view a private album.
type AlbumGrant struct {
	AlbumID   string
	OwnerID   string
	GranteeID string
	Token     string
	GrantedAt time.Time
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(ptr *string) sql.NullString {
	if ptr == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *ptr, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func timePtr(ni sql.NullInt64) *time.Time {
	if !ni.Valid {
		return nil
	}
	v := time.UnixMilli(ni.Int64)
	return &v
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	return args
}
