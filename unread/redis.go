package unread

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Redis keeps the counters of one user in a hash: <prefix>:unread:<user> -> {conversation: n}.
type Redis struct {
	client redis.UniversalClient
	key    string
}

// NewRedis binds counters to userID. An empty prefix defaults to "pontog".
func NewRedis(client redis.UniversalClient, prefix, userID string) *Redis {
	if prefix == "" {
		prefix = "pontog"
	}
	return &Redis{client: client, key: fmt.Sprintf("%s:unread:%s", prefix, userID)}
}

// Key is the hash holding the counters.
func (r *Redis) Key() string {
	return r.key
}

func field(conversationID int64) string {
	return strconv.FormatInt(conversationID, 10)
}

// Set overwrites the counter of a conversation.
func (r *Redis) Set(ctx context.Context, conversationID int64, n int) error {
	if n <= 0 {
		return r.ClearUnread(ctx, conversationID)
	}
	if err := r.client.HSet(ctx, r.key, field(conversationID), n).Err(); err != nil {
		return fmt.Errorf("set unread of conversation %d: %w", conversationID, err)
	}
	return nil
}

// Increment adds one unread message to a conversation.
func (r *Redis) Increment(ctx context.Context, conversationID int64) error {
	if err := r.client.HIncrBy(ctx, r.key, field(conversationID), 1).Err(); err != nil {
		return fmt.Errorf("increment unread of conversation %d: %w", conversationID, err)
	}
	return nil
}

// Count returns the unread counter of a conversation.
func (r *Redis) Count(ctx context.Context, conversationID int64) (int, error) {
	n, err := r.client.HGet(ctx, r.key, field(conversationID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read unread of conversation %d: %w", conversationID, err)
	}
	return n, nil
}

// Total sums all counters.
func (r *Redis) Total(ctx context.Context) (int, error) {
	values, err := r.client.HVals(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("read unread counters: %w", err)
	}
	total := 0
	for _, v := range values {
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		total += n
	}
	return total, nil
}

// ClearUnread zeroes the counter of a conversation.
func (r *Redis) ClearUnread(ctx context.Context, conversationID int64) error {
	if err := r.client.HDel(ctx, r.key, field(conversationID)).Err(); err != nil {
		return fmt.Errorf("clear unread of conversation %d: %w", conversationID, err)
	}
	return nil
}
