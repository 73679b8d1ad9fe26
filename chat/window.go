package chat

import (
	"context"
	"sync"
)

// Window holds at most one live session. Switching peers closes the previous
// session, and with it its subscription, before the next one opens.
//
// Session callbacks must not call back into the Window.
type Window struct {
	base Options

	mu      sync.Mutex
	current *Session
}

// NewWindow returns an empty window. base supplies every session option except
// RemoteUserID.
func NewWindow(base Options) *Window {
	return &Window{base: base}
}

// Show opens the conversation with peerID, closing the current one first.
func (w *Window) Show(ctx context.Context, peerID string) (*Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current != nil {
		w.current.Close()
		w.current = nil
	}

	options := w.base
	options.RemoteUserID = peerID

	var session *Session
	options.OnConversationDeleted = func(conversationID int64) {
		w.forget(session)
		if w.base.OnConversationDeleted != nil {
			w.base.OnConversationDeleted(conversationID)
		}
	}

	session, err := NewSession(options)
	if err != nil {
		return nil, err
	}
	if err := session.Open(ctx); err != nil {
		session.Close()
		return nil, err
	}

	w.current = session
	return session, nil
}

// Current returns the live session, or nil.
func (w *Window) Current() *Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Close closes the live session, if any.
func (w *Window) Close() {
	w.mu.Lock()
	current := w.current
	w.current = nil
	w.mu.Unlock()

	if current != nil {
		current.Close()
	}
}

func (w *Window) forget(session *Session) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == session {
		w.current = nil
	}
}
