package chat

import (
	"context"
	"time"

	"github.com/koresolucoes/pontog-sub001/feed"
	"github.com/koresolucoes/pontog-sub001/models"
)

// Backend is the remote data service holding conversations and messages.
type Backend interface {
	GetOrCreateConversation(ctx context.Context, userA, userB string) (int64, error)
	ListMessages(ctx context.Context, conversationID int64) ([]models.Message, error)
	InsertMessage(ctx context.Context, message models.NewMessage) (*models.Message, error)
	UpdateMessageContent(ctx context.Context, id int64, content string, updatedAt time.Time) error
	DeleteMessage(ctx context.Context, id int64) error
	DeleteConversation(ctx context.Context, conversationID int64) error
	BatchMarkRead(ctx context.Context, ids []int64) error
	SubscribeToConversation(ctx context.Context, conversationID int64) (*feed.Subscription, error)
}

// Notifier delivers push notifications.
type Notifier interface {
	Notify(ctx context.Context, receiverID, preview string) error
}

// UnreadCounter tracks the inbox unread badge per conversation.
type UnreadCounter interface {
	ClearUnread(ctx context.Context, conversationID int64) error
}

// AlbumAccess grants peers access to private albums.
type AlbumAccess interface {
	GrantAccess(ctx context.Context, albumID, granteeID string) error
}

// Locator reports the device position.
type Locator interface {
	Locate(ctx context.Context) (models.Location, error)
}
