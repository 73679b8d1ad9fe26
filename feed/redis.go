package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultRedisPrefix namespaces change-feed channels.
const DefaultRedisPrefix = "pontog"

// RedisHub fans change events out over Redis pub/sub so sessions in other
// processes observe the same conversation.
type RedisHub struct {
	client redis.UniversalClient
	prefix string
	logger *zap.Logger

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
}

// NewRedisHub wraps a Redis client. An empty prefix uses DefaultRedisPrefix.
func NewRedisHub(client redis.UniversalClient, prefix string, logger *zap.Logger) *RedisHub {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisHub{
		client: client,
		prefix: prefix,
		logger: logger,
		subs:   make(map[string]*Subscription),
	}
}

// Channel returns the pub/sub channel of a conversation.
func (h *RedisHub) Channel(conversationID int64) string {
	return fmt.Sprintf("%s:conversation:%d:changes", h.prefix, conversationID)
}

// Publish sends event to the conversation channel. Failures are logged.
func (h *RedisHub) Publish(event Event) {
	h.publish(event)
}

// CloseConversation ends every subscription of the conversation, in every process.
func (h *RedisHub) CloseConversation(conversationID int64) {
	h.publish(Event{Kind: kindClosed, ConversationID: conversationID})
}

func (h *RedisHub) publish(event Event) {
	payload, err := encodeEvent(event)
	if err != nil {
		h.logger.Error("encode change event", zap.Int64("conversation_id", event.ConversationID), zap.Error(err))
		return
	}
	if err := h.client.Publish(context.Background(), h.Channel(event.ConversationID), payload).Err(); err != nil {
		h.logger.Error("publish change event",
			zap.String("kind", string(event.Kind)),
			zap.Int64("conversation_id", event.ConversationID),
			zap.Error(err))
	}
}

// Subscribe listens on the conversation channel.
func (h *RedisHub) Subscribe(ctx context.Context, conversationID int64) (*Subscription, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}

	pubsub := h.client.Subscribe(ctx, h.Channel(conversationID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe conversation %d: %w", conversationID, err)
	}

	stop := make(chan struct{})
	var forwarders sync.WaitGroup
	var sub *Subscription
	sub = newSubscription(conversationID, func() {
		close(stop)
		_ = pubsub.Close()
		forwarders.Wait()

		h.mu.Lock()
		delete(h.subs, sub.ID())
		h.mu.Unlock()
	})

	messages := pubsub.Channel()
	forwarders.Add(1)
	go func() {
		defer forwarders.Done()
		for {
			select {
			case msg, ok := <-messages:
				if !ok {
					return
				}
				event, err := decodeEvent(msg.Payload)
				if err != nil {
					h.logger.Warn("drop malformed change event", zap.String("channel", msg.Channel), zap.Error(err))
					continue
				}
				sub.push(event)
			case <-stop:
				return
			}
		}
	}()

	h.mu.Lock()
	h.subs[sub.ID()] = sub
	h.mu.Unlock()
	return sub, nil
}

// Close ends all local subscriptions. The Redis client is owned by the caller.
func (h *RedisHub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func encodeEvent(event Event) (string, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeEvent(payload string) (Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return Event{}, err
	}
	switch event.Kind {
	case KindInsert, KindUpdate, KindDelete, kindClosed:
	default:
		return Event{}, fmt.Errorf("unknown event kind %q", event.Kind)
	}
	if event.ConversationID <= 0 {
		return Event{}, fmt.Errorf("event without conversation id")
	}
	return event, nil
}
