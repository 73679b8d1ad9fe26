package feed

import (
	"context"
	"sync"
)

// Hub is an in-process change-feed keyed by conversation ID.
type Hub struct {
	mu     sync.Mutex
	subs   map[int64]map[string]*Subscription
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int64]map[string]*Subscription)}
}

// Subscribe opens a subscription scoped to one conversation.
func (h *Hub) Subscribe(_ context.Context, conversationID int64) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	var sub *Subscription
	sub = newSubscription(conversationID, func() { h.remove(conversationID, sub.ID()) })

	scoped, ok := h.subs[conversationID]
	if !ok {
		scoped = make(map[string]*Subscription)
		h.subs[conversationID] = scoped
	}
	scoped[sub.ID()] = sub
	return sub, nil
}

// Publish delivers event to every subscription of its conversation.
func (h *Hub) Publish(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, sub := range h.subs[event.ConversationID] {
		sub.push(event)
	}
}

// CloseConversation ends every subscription of a conversation after the events
// already published to it.
func (h *Hub) CloseConversation(conversationID int64) {
	h.mu.Lock()
	scoped := h.subs[conversationID]
	delete(h.subs, conversationID)
	h.mu.Unlock()

	for _, sub := range scoped {
		sub.push(Event{Kind: kindClosed, ConversationID: conversationID})
	}
}

// SubscriberCount returns the number of live subscriptions for a conversation.
func (h *Hub) SubscriberCount(conversationID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[conversationID])
}

// Close ends all subscriptions and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	all := h.subs
	h.subs = make(map[int64]map[string]*Subscription)
	h.mu.Unlock()

	for _, scoped := range all {
		for _, sub := range scoped {
			sub.Close()
		}
	}
}

func (h *Hub) remove(conversationID int64, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	scoped, ok := h.subs[conversationID]
	if !ok {
		return
	}
	delete(scoped, id)
	if len(scoped) == 0 {
		delete(h.subs, conversationID)
	}
}
