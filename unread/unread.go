// Package unread keeps per-conversation unread counters for one user's inbox.
package unread

import (
	"context"
	"sync"
)

// Memory is a process-local counter set.
type Memory struct {
	mu     sync.Mutex
	counts map[int64]int
}

// NewMemory returns an empty counter set.
func NewMemory() *Memory {
	return &Memory{counts: make(map[int64]int)}
}

// Set overwrites the counter of a conversation.
func (m *Memory) Set(_ context.Context, conversationID int64, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 {
		delete(m.counts, conversationID)
		return nil
	}
	m.counts[conversationID] = n
	return nil
}

// Increment adds one unread message to a conversation.
func (m *Memory) Increment(_ context.Context, conversationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[conversationID]++
	return nil
}

// Count returns the unread counter of a conversation.
func (m *Memory) Count(_ context.Context, conversationID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[conversationID], nil
}

// Total sums all counters.
func (m *Memory) Total(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.counts {
		total += n
	}
	return total, nil
}

// ClearUnread zeroes the counter of a conversation.
func (m *Memory) ClearUnread(_ context.Context, conversationID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counts, conversationID)
	return nil
}
