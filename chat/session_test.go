package chat

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/koresolucoes/pontog-sub001/feed"
	"github.com/koresolucoes/pontog-sub001/metrics"
	"github.com/koresolucoes/pontog-sub001/models"
	"github.com/koresolucoes/pontog-sub001/unread"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestOpenResolvesSameConversationForPair(t *testing.T) {
	backend := newFakeBackend(t)

	first := openSession(t, Options{Backend: backend, Logger: zaptest.NewLogger(t)})
	second := openSession(t, Options{Backend: backend, LocalUserID: bob, RemoteUserID: alice})

	assert.Equal(t, int64(42), first.ConversationID())
	assert.Equal(t, int64(42), second.ConversationID())
	assert.True(t, first.State().Ready)
}

func TestSendAppearsThroughChangeFeed(t *testing.T) {
	backend := newFakeBackend(t)
	session := openSession(t, Options{Backend: backend, Metrics: metrics.New()})

	require.NoError(t, session.Send(context.Background(), "  hi  ", ""))

	eventually(t, func() bool { return len(session.State().Messages) == 1 }, "insert never delivered")
	message := session.State().Messages[0]
	assert.Equal(t, alice, message.SenderID)
	require.NotNil(t, message.Content)
	assert.Equal(t, "hi", *message.Content)
	assert.Nil(t, message.ImageRef)
	assert.Nil(t, message.ReadAt)
	assert.Empty(t, backend.markReadCalls(), "own messages are never acknowledged")
}

func TestSendWithoutChangeFeedLeavesHistoryUntouched(t *testing.T) {
	backend := newFakeBackend(t)
	backend.silent = true
	session := openSession(t, Options{Backend: backend})

	require.NoError(t, session.Send(context.Background(), "hi", ""))

	assert.Equal(t, 1, backend.insertCount())
	assert.Empty(t, session.State().Messages)
}

func TestSendRejectsEmptyMessageWithoutRemoteCall(t *testing.T) {
	backend := newFakeBackend(t)
	session := openSession(t, Options{Backend: backend})

	assert.ErrorIs(t, session.Send(context.Background(), "", ""), ErrEmptyMessage)
	assert.ErrorIs(t, session.Send(context.Background(), "   ", " "), ErrEmptyMessage)
	assert.Zero(t, backend.insertCount())
}

func TestSendImageOnly(t *testing.T) {
	backend := newFakeBackend(t)
	notifier := &fakeNotifier{}
	session := openSession(t, Options{Backend: backend, Notifier: notifier})

	require.NoError(t, session.Send(context.Background(), "", "images/1.jpg"))

	inserted := backend.lastInsert()
	assert.Nil(t, inserted.Content)
	require.NotNil(t, inserted.ImageRef)
	assert.Equal(t, "images/1.jpg", *inserted.ImageRef)

	session.Close()
	assert.Empty(t, notifier.recorded(), "image-only sends carry no preview")
}

func TestIntentsBeforeOpenAreNotReady(t *testing.T) {
	backend := newFakeBackend(t)
	session, err := NewSession(Options{Backend: backend, LocalUserID: alice, RemoteUserID: bob})
	require.NoError(t, err)
	t.Cleanup(session.Close)

	assert.ErrorIs(t, session.Send(context.Background(), "hi", ""), ErrNotReady)
	assert.ErrorIs(t, session.Edit(context.Background(), 1, "x"), ErrNotReady)
	assert.ErrorIs(t, session.RequestDelete(1), ErrNotReady)
	assert.ErrorIs(t, session.MarkRead(context.Background(), []int64{1}), ErrNotReady)
	assert.Zero(t, backend.insertCount())
}

func TestNewSessionValidatesOptions(t *testing.T) {
	backend := newFakeBackend(t)

	_, err := NewSession(Options{LocalUserID: alice, RemoteUserID: bob})
	assert.Error(t, err)
	_, err = NewSession(Options{Backend: backend, RemoteUserID: bob})
	assert.Error(t, err)
	_, err = NewSession(Options{Backend: backend, LocalUserID: alice, RemoteUserID: " alice "})
	assert.Error(t, err)
}

func TestSendFailureIsMutationError(t *testing.T) {
	backend := newFakeBackend(t)
	backend.insertErr = errBackend
	session := openSession(t, Options{Backend: backend})

	err := session.Send(context.Background(), "hi", "")

	var mutation *MutationError
	require.ErrorAs(t, err, &mutation)
	assert.Equal(t, OpSend, mutation.Op)
	assert.ErrorIs(t, err, errBackend)
	assert.Empty(t, session.State().Messages)
}

func TestSendNotifiesPeerAndIgnoresPushFailure(t *testing.T) {
	backend := newFakeBackend(t)
	notifier := &fakeNotifier{err: errors.New("push gateway down")}
	session := openSession(t, Options{Backend: backend, Notifier: notifier})

	require.NoError(t, session.Send(context.Background(), "hi", ""))

	session.Close()
	assert.Equal(t, []pushCall{{receiver: bob, preview: "hi"}}, notifier.recorded())
}

func TestOpenAcknowledgesUnreadPeerMessagesInOneBatch(t *testing.T) {
	backend := newFakeBackend(t)
	readAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	backend.seed(models.Message{ID: 1, ConversationID: 42, SenderID: bob, Content: models.StringPtr("one")})
	backend.seed(models.Message{ID: 2, ConversationID: 42, SenderID: bob, Content: models.StringPtr("two"), ReadAt: &readAt})
	backend.seed(models.Message{ID: 3, ConversationID: 42, SenderID: alice, Content: models.StringPtr("three")})
	backend.seed(models.Message{ID: 4, ConversationID: 42, SenderID: bob, ImageRef: models.StringPtr("img.png")})

	counter := unread.NewMemory()
	require.NoError(t, counter.Set(context.Background(), 42, 2))

	session := openSession(t, Options{Backend: backend, Unread: counter})

	assert.Equal(t, [][]int64{{1, 4}}, backend.markReadCalls())

	state := session.State()
	assert.Equal(t, []int64{1, 2, 3, 4}, messageIDs(state.Messages))
	for _, id := range []int64{1, 4} {
		message, _ := findMessage(state, id)
		assert.NotNil(t, message.ReadAt, "message %d should be stamped read", id)
	}
	two, _ := findMessage(state, 2)
	require.NotNil(t, two.ReadAt)
	assert.True(t, two.ReadAt.Equal(readAt))
	three, _ := findMessage(state, 3)
	assert.Nil(t, three.ReadAt)

	count, err := counter.Count(context.Background(), 42)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestOpenWithoutUnreadMakesNoAckCall(t *testing.T) {
	backend := newFakeBackend(t)
	backend.seed(models.Message{ID: 1, ConversationID: 42, SenderID: alice, Content: models.StringPtr("mine")})

	openSession(t, Options{Backend: backend})

	assert.Empty(t, backend.markReadCalls())
}

func TestIncomingPeerMessageIsAcknowledged(t *testing.T) {
	backend := newFakeBackend(t)
	counter := unread.NewMemory()
	require.NoError(t, counter.Set(context.Background(), 42, 3))
	session := openSession(t, Options{Backend: backend, Unread: counter})

	backend.remoteInsert(models.Message{ID: 7, ConversationID: 42, SenderID: bob, Content: models.StringPtr("hey")})

	eventually(t, func() bool {
		message, ok := findMessage(session.State(), 7)
		return ok && message.ReadAt != nil
	}, "message 7 never marked read")
	assert.Equal(t, [][]int64{{7}}, backend.markReadCalls())
	eventually(t, func() bool {
		count, _ := counter.Count(context.Background(), 42)
		return count == 0
	}, "unread counter not cleared")
}

func TestAckFailureLeavesStateUntouched(t *testing.T) {
	backend := newFakeBackend(t)
	backend.markReadErr = errBackend
	backend.seed(models.Message{ID: 1, ConversationID: 42, SenderID: bob, Content: models.StringPtr("one")})
	counter := unread.NewMemory()
	require.NoError(t, counter.Set(context.Background(), 42, 1))

	session := openSession(t, Options{Backend: backend, Unread: counter})

	message, ok := findMessage(session.State(), 1)
	require.True(t, ok)
	assert.Nil(t, message.ReadAt)

	err := session.MarkRead(context.Background(), []int64{1})
	var ackErr *AckError
	require.ErrorAs(t, err, &ackErr)
	assert.Equal(t, []int64{1}, ackErr.IDs)

	count, _ := counter.Count(context.Background(), 42)
	assert.Equal(t, 1, count)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	backend := newFakeBackend(t)
	readAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	backend.seed(models.Message{ID: 5, ConversationID: 42, SenderID: bob, Content: models.StringPtr("old"), ReadAt: &readAt})
	backend.seed(models.Message{ID: 6, ConversationID: 42, SenderID: alice, Content: models.StringPtr("mine")})
	session := openSession(t, Options{Backend: backend})

	require.NoError(t, session.MarkRead(context.Background(), []int64{5, 5}))
	require.NoError(t, session.MarkRead(context.Background(), []int64{6, 999}))

	assert.Equal(t, [][]int64{{5}}, backend.markReadCalls(), "own and unknown IDs are filtered out")
	message, _ := findMessage(session.State(), 5)
	require.NotNil(t, message.ReadAt)
	assert.True(t, message.ReadAt.Equal(readAt))
}

func TestEditConvergesThroughChangeFeed(t *testing.T) {
	backend := newFakeBackend(t)
	backend.seed(models.Message{ID: 7, ConversationID: 42, SenderID: alice, Content: models.StringPtr("hi")})
	session := openSession(t, Options{Backend: backend})

	require.NoError(t, session.Edit(context.Background(), 7, "hello"))

	eventually(t, func() bool {
		message, _ := findMessage(session.State(), 7)
		return message.Content != nil && *message.Content == "hello" && message.UpdatedAt != nil
	}, "edit never converged")
}

func TestEditIsNotOptimistic(t *testing.T) {
	backend := newFakeBackend(t)
	backend.seed(models.Message{ID: 7, ConversationID: 42, SenderID: alice, Content: models.StringPtr("hi")})
	backend.silent = true
	session := openSession(t, Options{Backend: backend})

	require.NoError(t, session.Edit(context.Background(), 7, "hello"))

	message, _ := findMessage(session.State(), 7)
	assert.Equal(t, "hi", *message.Content)
	assert.Nil(t, message.UpdatedAt)
}

func TestEditRejectedWithoutRemoteCall(t *testing.T) {
	backend := newFakeBackend(t)
	location, err := models.LocationShare(models.Location{Latitude: 1, Longitude: 2}).Encode()
	require.NoError(t, err)
	backend.seed(models.Message{ID: 1, ConversationID: 42, SenderID: alice, ImageRef: models.StringPtr("a.png")})
	backend.seed(models.Message{ID: 2, ConversationID: 42, SenderID: alice, Content: models.StringPtr(location)})
	backend.seed(models.Message{ID: 3, ConversationID: 42, SenderID: bob, Content: models.StringPtr("theirs")})
	backend.seed(models.Message{ID: 4, ConversationID: 42, SenderID: alice, Content: models.StringPtr("caption"), ImageRef: models.StringPtr("b.png")})
	session := openSession(t, Options{Backend: backend})

	for _, id := range []int64{1, 2, 3, 4} {
		assert.ErrorIs(t, session.Edit(context.Background(), id, "changed"), ErrNotEditable, "message %d", id)
		assert.ErrorIs(t, session.BeginEdit(id), ErrNotEditable, "message %d", id)
	}
	assert.ErrorIs(t, session.Edit(context.Background(), 99, "changed"), ErrUnknownMessage)
	assert.ErrorIs(t, session.Edit(context.Background(), 1, "  "), ErrEmptyMessage)
	assert.Zero(t, backend.updateCount())
}

func TestSubmitEditLeavesEditModeWhateverTheOutcome(t *testing.T) {
	backend := newFakeBackend(t)
	backend.seed(models.Message{ID: 7, ConversationID: 42, SenderID: alice, Content: models.StringPtr("hi")})
	backend.updateErr = errBackend
	session := openSession(t, Options{Backend: backend})

	assert.ErrorIs(t, session.SubmitEdit(context.Background(), "x"), ErrNoPendingEdit)

	require.NoError(t, session.BeginEdit(7))
	assert.Equal(t, int64(7), session.State().EditingID)

	assert.ErrorIs(t, session.SubmitEdit(context.Background(), "   "), ErrEmptyMessage)
	assert.Equal(t, int64(7), session.State().EditingID, "blank submit keeps edit mode")

	err := session.SubmitEdit(context.Background(), "hello")
	var mutation *MutationError
	require.ErrorAs(t, err, &mutation)
	assert.Equal(t, OpEdit, mutation.Op)
	assert.Equal(t, int64(7), mutation.MessageID)
	assert.Zero(t, session.State().EditingID)

	message, _ := findMessage(session.State(), 7)
	assert.Equal(t, "hi", *message.Content)

	require.NoError(t, session.BeginEdit(7))
	session.CancelEdit()
	assert.Zero(t, session.State().EditingID)
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	backend := newFakeBackend(t)
	album, err := models.AlbumShareContent("a1", "Beach").Encode()
	require.NoError(t, err)
	backend.seed(models.Message{ID: 1, ConversationID: 42, SenderID: alice, Content: models.StringPtr("bye")})
	backend.seed(models.Message{ID: 2, ConversationID: 42, SenderID: bob, Content: models.StringPtr("theirs")})
	backend.seed(models.Message{ID: 3, ConversationID: 42, SenderID: alice, Content: models.StringPtr(album)})
	backend.seed(models.Message{ID: 4, ConversationID: 42, SenderID: alice, ImageRef: models.StringPtr("c.png")})
	session := openSession(t, Options{Backend: backend})

	assert.ErrorIs(t, session.RequestDelete(2), ErrNotDeletable)
	assert.ErrorIs(t, session.RequestDelete(3), ErrNotDeletable)
	assert.ErrorIs(t, session.ConfirmDelete(context.Background()), ErrNoPendingDelete)

	require.NoError(t, session.RequestDelete(1))
	assert.Equal(t, int64(1), session.State().PendingDeleteID)
	session.CancelDelete()
	assert.Zero(t, session.State().PendingDeleteID)
	assert.ErrorIs(t, session.ConfirmDelete(context.Background()), ErrNoPendingDelete)

	require.NoError(t, session.RequestDelete(4))
	require.NoError(t, session.ConfirmDelete(context.Background()))
	assert.Zero(t, session.State().PendingDeleteID)

	eventually(t, func() bool {
		_, ok := findMessage(session.State(), 4)
		return !ok
	}, "delete never delivered")
	assert.Equal(t, []int64{1, 2, 3}, messageIDs(session.State().Messages))
}

func TestDeleteFailureKeepsMessage(t *testing.T) {
	backend := newFakeBackend(t)
	backend.seed(models.Message{ID: 1, ConversationID: 42, SenderID: alice, Content: models.StringPtr("bye")})
	backend.deleteErr = errBackend
	session := openSession(t, Options{Backend: backend})

	require.NoError(t, session.RequestDelete(1))
	err := session.ConfirmDelete(context.Background())

	var mutation *MutationError
	require.ErrorAs(t, err, &mutation)
	assert.Equal(t, OpDelete, mutation.Op)
	assert.Equal(t, []int64{1}, messageIDs(session.State().Messages))
}

func TestDuplicateInsertIsSkipped(t *testing.T) {
	backend := newFakeBackend(t)
	backend.seed(models.Message{ID: 5, ConversationID: 42, SenderID: alice, Content: models.StringPtr("once")})
	session := openSession(t, Options{Backend: backend})

	backend.remoteInsert(models.Message{ID: 5, ConversationID: 42, SenderID: alice, Content: models.StringPtr("once")})
	backend.remoteInsert(models.Message{ID: 6, ConversationID: 42, SenderID: alice, Content: models.StringPtr("twice")})

	eventually(t, func() bool { return len(session.State().Messages) == 2 }, "second insert never delivered")
	assert.Equal(t, []int64{5, 6}, messageIDs(session.State().Messages))
}

func TestUpdateNeverClearsReadAt(t *testing.T) {
	backend := newFakeBackend(t)
	readAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	backend.seed(models.Message{ID: 8, ConversationID: 42, SenderID: bob, Content: models.StringPtr("hi"), ReadAt: &readAt})
	session := openSession(t, Options{Backend: backend})

	backend.set(func(b *fakeBackend) {
		b.publishLocked(feed.KindUpdate, models.Message{ID: 8, ConversationID: 42, SenderID: bob, Content: models.StringPtr("edited")})
	})

	eventually(t, func() bool {
		message, _ := findMessage(session.State(), 8)
		return *message.Content == "edited"
	}, "update never delivered")
	message, _ := findMessage(session.State(), 8)
	require.NotNil(t, message.ReadAt)
	assert.True(t, message.ReadAt.Equal(readAt))
}

func TestHistoryConvergesToBackendRows(t *testing.T) {
	backend := newFakeBackend(t)
	session := openSession(t, Options{Backend: backend, LocalUserID: alice, RemoteUserID: bob})
	peer := openSession(t, Options{Backend: backend, LocalUserID: bob, RemoteUserID: alice})

	rng := rand.New(rand.NewSource(7))
	ctx := context.Background()
	for i := 0; i < 60; i++ {
		rows := backend.snapshot(42)
		switch op := rng.Intn(4); {
		case op <= 1 || len(rows) == 0:
			actor := session
			if rng.Intn(2) == 0 {
				actor = peer
			}
			require.NoError(t, actor.Send(ctx, "message", ""))
		case op == 2:
			row := rows[rng.Intn(len(rows))]
			require.NoError(t, backend.UpdateMessageContent(ctx, row.ID, "edited", time.Now()))
		default:
			row := rows[rng.Intn(len(rows))]
			require.NoError(t, backend.DeleteMessage(ctx, row.ID))
		}
	}

	want := contents(backend.snapshot(42))
	eventually(t, func() bool {
		return assert.ObjectsAreEqual(want, contents(session.State().Messages)) &&
			assert.ObjectsAreEqual(want, contents(peer.State().Messages))
	}, "histories never converged")
}

func contents(messages []models.Message) []string {
	out := make([]string, 0, len(messages))
	for _, message := range messages {
		out = append(out, fmt.Sprintf("%d:%s", message.ID, *message.Content))
	}
	return out
}

func TestOpenTwiceAndAfterClose(t *testing.T) {
	backend := newFakeBackend(t)
	session := openSession(t, Options{Backend: backend})

	assert.ErrorIs(t, session.Open(context.Background()), ErrAlreadyOpen)

	session.Close()
	session.Close()
	state := session.State()
	assert.True(t, state.Closed)
	assert.False(t, state.Ready)
	assert.Zero(t, backend.hub.SubscriberCount(42))
	assert.ErrorIs(t, session.Open(context.Background()), ErrClosed)
	assert.ErrorIs(t, session.Send(context.Background(), "hi", ""), ErrClosed)
}

func TestOpenSetupFailures(t *testing.T) {
	cases := []struct {
		name  string
		setup func(b *fakeBackend)
		stage Stage
	}{
		{name: "resolve", setup: func(b *fakeBackend) { b.resolveErr = errBackend }, stage: StageResolve},
		{name: "subscribe", setup: func(b *fakeBackend) { b.subscribeErr = errBackend }, stage: StageSubscribe},
		{name: "history", setup: func(b *fakeBackend) { b.listErr = errBackend }, stage: StageHistory},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			backend := newFakeBackend(t)
			tc.setup(backend)
			session, err := NewSession(Options{Backend: backend, LocalUserID: alice, RemoteUserID: bob})
			require.NoError(t, err)
			t.Cleanup(session.Close)

			err = session.Open(context.Background())
			var setup *SetupError
			require.ErrorAs(t, err, &setup)
			assert.Equal(t, tc.stage, setup.Stage)
			assert.ErrorIs(t, err, errBackend)
			assert.False(t, session.State().Ready)
			assert.Zero(t, backend.hub.SubscriberCount(42))
			assert.ErrorIs(t, session.Send(context.Background(), "hi", ""), ErrNotReady)

			backend.set(func(b *fakeBackend) {
				b.resolveErr, b.subscribeErr, b.listErr = nil, nil, nil
			})
			require.NoError(t, session.Open(context.Background()))
			assert.True(t, session.State().Ready)
		})
	}
}

func TestResolveFailureSkipsSubscribe(t *testing.T) {
	backend := newFakeBackend(t)
	backend.resolveErr = errBackend
	session, err := NewSession(Options{Backend: backend, LocalUserID: alice, RemoteUserID: bob})
	require.NoError(t, err)
	t.Cleanup(session.Close)

	require.Error(t, session.Open(context.Background()))
	assert.Zero(t, backend.subscribeCalls)
}

func TestConfirmConversationDelete(t *testing.T) {
	backend := newFakeBackend(t)
	backend.seed(models.Message{ID: 1, ConversationID: 42, SenderID: alice, Content: models.StringPtr("a")})
	backend.seed(models.Message{ID: 2, ConversationID: 42, SenderID: bob, Content: models.StringPtr("b")})

	var deleted atomic.Int64
	session := openSession(t, Options{
		Backend:               backend,
		OnConversationDeleted: func(id int64) { deleted.Store(id) },
	})

	assert.ErrorIs(t, session.ConfirmConversationDelete(context.Background()), ErrNoPendingDelete)
	require.NoError(t, session.RequestConversationDelete())
	session.CancelConversationDelete()
	assert.False(t, session.State().ConversationDeletePending)

	require.NoError(t, session.RequestConversationDelete())
	assert.True(t, session.State().ConversationDeletePending)
	require.NoError(t, session.ConfirmConversationDelete(context.Background()))

	assert.Equal(t, int64(42), deleted.Load())
	state := session.State()
	assert.True(t, state.Closed)
	assert.Empty(t, state.Messages)
	assert.Zero(t, backend.hub.SubscriberCount(42))
	assert.Empty(t, backend.snapshot(42))

	backend.remoteInsert(models.Message{ID: 9, ConversationID: 42, SenderID: bob, Content: models.StringPtr("late")})
	assert.Empty(t, session.State().Messages)
}

func TestConversationDeleteFailureKeepsSessionOpen(t *testing.T) {
	backend := newFakeBackend(t)
	backend.deleteConvErr = errBackend
	session := openSession(t, Options{Backend: backend})

	require.NoError(t, session.RequestConversationDelete())
	err := session.ConfirmConversationDelete(context.Background())

	var mutation *MutationError
	require.ErrorAs(t, err, &mutation)
	assert.Equal(t, OpDeleteConversation, mutation.Op)
	state := session.State()
	assert.True(t, state.Ready)
	assert.False(t, state.ConversationDeletePending)
}

func TestPeerDeletingConversationEndsFeed(t *testing.T) {
	backend := newFakeBackend(t)
	backend.seed(models.Message{ID: 1, ConversationID: 42, SenderID: alice, Content: models.StringPtr("a")})
	session := openSession(t, Options{Backend: backend})

	require.NoError(t, backend.DeleteConversation(context.Background(), 42))

	eventually(t, func() bool { return session.State().FeedClosed }, "feed end never observed")
	assert.Empty(t, session.State().Messages)
}

func TestShareLocation(t *testing.T) {
	backend := newFakeBackend(t)
	notifier := &fakeNotifier{}

	unavailable := openSession(t, Options{Backend: backend, RemoteUserID: "carol"})
	assert.ErrorIs(t, unavailable.ShareLocation(context.Background()), ErrUnavailable)

	failing := openSession(t, Options{Backend: backend, RemoteUserID: "dave", Locator: fakeLocator{err: errors.New("no fix")}})
	assert.Error(t, failing.ShareLocation(context.Background()))
	assert.Zero(t, backend.insertCount())

	session := openSession(t, Options{
		Backend:  backend,
		Notifier: notifier,
		Locator:  fakeLocator{location: models.Location{Latitude: -23.5, Longitude: -46.6}},
	})
	require.NoError(t, session.ShareLocation(context.Background()))

	inserted := backend.lastInsert()
	require.NotNil(t, inserted.Content)
	body := models.ParseContent(*inserted.Content)
	require.Equal(t, models.KindLocation, body.Kind)
	assert.Equal(t, -23.5, body.Location.Latitude)

	eventually(t, func() bool { return len(session.State().Messages) == 1 }, "share never delivered")
	assert.ErrorIs(t, session.BeginEdit(session.State().Messages[0].ID), ErrNotEditable)

	session.Close()
	assert.Equal(t, []pushCall{{receiver: bob, preview: "📍 Shared a location"}}, notifier.recorded())
}

func TestShareAlbum(t *testing.T) {
	backend := newFakeBackend(t)
	albums := &fakeAlbums{err: errors.New("grant rejected")}
	session := openSession(t, Options{Backend: backend, Albums: albums})

	err := session.ShareAlbum(context.Background(), "album-1", "Beach")
	var mutation *MutationError
	require.ErrorAs(t, err, &mutation)
	assert.Equal(t, OpShareAlbum, mutation.Op)
	assert.Zero(t, backend.insertCount(), "nothing is sent when the grant fails")

	albums.mu.Lock()
	albums.err = nil
	albums.mu.Unlock()
	require.NoError(t, session.ShareAlbum(context.Background(), "album-1", "Beach"))

	assert.Equal(t, [][2]string{{"album-1", bob}}, albums.grants)
	body := models.ParseContent(*backend.lastInsert().Content)
	require.Equal(t, models.KindAlbumShare, body.Kind)
	assert.Equal(t, "album-1", body.Album.AlbumID)
	assert.Equal(t, "Beach", body.Album.AlbumName)

	assert.Error(t, session.ShareAlbum(context.Background(), " ", "x"))
	noAlbums := openSession(t, Options{Backend: backend, RemoteUserID: "carol"})
	assert.ErrorIs(t, noAlbums.ShareAlbum(context.Background(), "album-1", "Beach"), ErrUnavailable)
}

func TestOnChangeReceivesSnapshots(t *testing.T) {
	backend := newFakeBackend(t)
	var calls atomic.Int32
	session := openSession(t, Options{
		Backend: backend,
		OnChange: func(state State) {
			calls.Add(1)
			if len(state.Messages) > 0 {
				state.Messages[0].Content = models.StringPtr("mutated")
			}
		},
	})
	require.NotZero(t, calls.Load())

	require.NoError(t, session.Send(context.Background(), "hi", ""))
	eventually(t, func() bool { return len(session.State().Messages) == 1 }, "insert never delivered")
	assert.Equal(t, "hi", *session.State().Messages[0].Content)
}
