package storage

import (
	"context"
	"testing"
	"time"

	"github.com/koresolucoes/pontog-sub001/feed"
	"github.com/koresolucoes/pontog-sub001/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func mustConversation(t *testing.T, store *Store, a, b string) int64 {
	t.Helper()

	id, err := store.GetOrCreateConversation(context.Background(), a, b)
	if err != nil {
		t.Fatalf("get or create conversation %q/%q: %v", a, b, err)
	}
	return id
}

func mustInsertText(t *testing.T, store *Store, conversationID int64, sender, text string) models.Message {
	t.Helper()

	stored, err := store.InsertMessage(context.Background(), models.NewMessage{
		SenderID:       sender,
		ConversationID: conversationID,
		Content:        models.StringPtr(text),
	})
	if err != nil {
		t.Fatalf("insert message %q: %v", text, err)
	}
	return *stored
}

func nextEvent(t *testing.T, sub *feed.Subscription) feed.Event {
	t.Helper()

	select {
	case event, ok := <-sub.Events():
		if !ok {
			t.Fatalf("subscription closed before event")
		}
		return event
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for change event")
	}
	return feed.Event{}
}
