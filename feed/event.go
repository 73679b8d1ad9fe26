// Package feed delivers row-level change events for one conversation scope.
package feed

import (
	"context"
	"errors"

	"github.com/koresolucoes/pontog-sub001/models"
)

const (
	// KindInsert is emitted after a message row is created.
	KindInsert Kind = "INSERT"
	// KindUpdate is emitted after a message row changed.
	KindUpdate Kind = "UPDATE"
	// KindDelete is emitted after a message row was removed. Only Message.ID is set.
	KindDelete Kind = "DELETE"

	// kindClosed tells subscribers the conversation is gone. Never delivered.
	kindClosed Kind = "CLOSED"
)

// ErrClosed is returned when subscribing to a stopped hub.
var ErrClosed = errors.New("feed: hub is closed")

// Kind identifies a change event.
type Kind string

// Event is one change to a message row in a conversation.
type Event struct {
	Kind           Kind           `json:"kind"`
	ConversationID int64          `json:"conversation_id"`
	Message        models.Message `json:"message"`
}

// Publisher fans out change events. Implemented by Hub and RedisHub.
type Publisher interface {
	Publish(event Event)
	CloseConversation(conversationID int64)
}

// Broker is a Publisher that also hands out subscriptions.
type Broker interface {
	Publisher
	Subscribe(ctx context.Context, conversationID int64) (*Subscription, error)
	Close()
}
