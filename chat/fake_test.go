package chat

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/koresolucoes/pontog-sub001/feed"
	"github.com/koresolucoes/pontog-sub001/models"
)

var errBackend = errors.New("backend unavailable")

// fakeBackend is an in-memory Backend publishing to a feed.Hub like the
// sqlite store does.
type fakeBackend struct {
	hub *feed.Hub

	mu            sync.Mutex
	nextConv      int64
	nextMessage   int64
	conversations map[[2]string]int64
	rows          map[int64]models.Message

	// silent suppresses change events, to observe the absence of optimistic updates.
	silent bool

	resolveErr    error
	subscribeErr  error
	listErr       error
	insertErr     error
	updateErr     error
	deleteErr     error
	deleteConvErr error
	markReadErr   error

	resolveCalls   int
	subscribeCalls int
	inserts        []models.NewMessage
	updates        []int64
	deletes        []int64
	deletedConvs   []int64
	markRead       [][]int64
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		hub:           feed.NewHub(),
		nextConv:      41,
		nextMessage:   100,
		conversations: make(map[[2]string]int64),
		rows:          make(map[int64]models.Message),
	}
	t.Cleanup(b.hub.Close)
	return b
}

func (b *fakeBackend) GetOrCreateConversation(_ context.Context, userA, userB string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resolveCalls++
	if b.resolveErr != nil {
		return 0, b.resolveErr
	}
	a, c := models.NormalizePair(userA, userB)
	key := [2]string{a, c}
	if id, ok := b.conversations[key]; ok {
		return id, nil
	}
	b.nextConv++
	b.conversations[key] = b.nextConv
	return b.nextConv, nil
}

func (b *fakeBackend) ListMessages(_ context.Context, conversationID int64) ([]models.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listErr != nil {
		return nil, b.listErr
	}
	return b.rowsLocked(conversationID), nil
}

func (b *fakeBackend) InsertMessage(_ context.Context, message models.NewMessage) (*models.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inserts = append(b.inserts, message)
	if b.insertErr != nil {
		return nil, b.insertErr
	}
	if err := message.Validate(); err != nil {
		return nil, err
	}
	b.nextMessage++
	row := models.Message{
		ID:             b.nextMessage,
		ConversationID: message.ConversationID,
		SenderID:       message.SenderID,
		Content:        message.Content,
		ImageRef:       message.ImageRef,
		CreatedAt:      time.Now(),
	}
	b.rows[row.ID] = row
	b.publishLocked(feed.KindInsert, row)
	return &row, nil
}

func (b *fakeBackend) UpdateMessageContent(_ context.Context, id int64, content string, updatedAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, id)
	if b.updateErr != nil {
		return b.updateErr
	}
	row, ok := b.rows[id]
	if !ok {
		return errors.New("not found")
	}
	row.Content = models.StringPtr(content)
	row.UpdatedAt = models.TimePtr(updatedAt)
	b.rows[id] = row
	b.publishLocked(feed.KindUpdate, row)
	return nil
}

func (b *fakeBackend) DeleteMessage(_ context.Context, id int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletes = append(b.deletes, id)
	if b.deleteErr != nil {
		return b.deleteErr
	}
	row, ok := b.rows[id]
	if !ok {
		return errors.New("not found")
	}
	delete(b.rows, id)
	b.publishLocked(feed.KindDelete, models.Message{ID: id, ConversationID: row.ConversationID})
	return nil
}

func (b *fakeBackend) DeleteConversation(_ context.Context, conversationID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deletedConvs = append(b.deletedConvs, conversationID)
	if b.deleteConvErr != nil {
		return b.deleteConvErr
	}
	for _, row := range b.rowsLocked(conversationID) {
		delete(b.rows, row.ID)
		b.publishLocked(feed.KindDelete, models.Message{ID: row.ID, ConversationID: conversationID})
	}
	for key, id := range b.conversations {
		if id == conversationID {
			delete(b.conversations, key)
		}
	}
	b.hub.CloseConversation(conversationID)
	return nil
}

func (b *fakeBackend) BatchMarkRead(_ context.Context, ids []int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.markRead = append(b.markRead, append([]int64(nil), ids...))
	if b.markReadErr != nil {
		return b.markReadErr
	}
	now := time.Now()
	for _, id := range ids {
		row, ok := b.rows[id]
		if !ok || row.ReadAt != nil {
			continue
		}
		row.ReadAt = models.TimePtr(now)
		b.rows[id] = row
		b.publishLocked(feed.KindUpdate, row)
	}
	return nil
}

func (b *fakeBackend) SubscribeToConversation(ctx context.Context, conversationID int64) (*feed.Subscription, error) {
	b.mu.Lock()
	b.subscribeCalls++
	err := b.subscribeErr
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return b.hub.Subscribe(ctx, conversationID)
}

// seed stores a row without publishing, as history that predates the session.
func (b *fakeBackend) seed(message models.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	b.rows[message.ID] = message
}

// remoteInsert stores and publishes a row written by another client.
func (b *fakeBackend) remoteInsert(message models.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now()
	}
	b.rows[message.ID] = message
	b.publishLocked(feed.KindInsert, message)
}

func (b *fakeBackend) snapshot(conversationID int64) []models.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rowsLocked(conversationID)
}

func (b *fakeBackend) markReadCalls() [][]int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]int64(nil), b.markRead...)
}

func (b *fakeBackend) insertCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.inserts)
}

func (b *fakeBackend) lastInsert() models.NewMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inserts[len(b.inserts)-1]
}

func (b *fakeBackend) updateCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.updates)
}

func (b *fakeBackend) set(fn func(b *fakeBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *fakeBackend) rowsLocked(conversationID int64) []models.Message {
	out := make([]models.Message, 0)
	for _, row := range b.rows {
		if row.ConversationID == conversationID {
			out = append(out, row.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (b *fakeBackend) publishLocked(kind feed.Kind, row models.Message) {
	if b.silent {
		return
	}
	b.hub.Publish(feed.Event{Kind: kind, ConversationID: row.ConversationID, Message: row.Clone()})
}

type pushCall struct {
	receiver string
	preview  string
}

type fakeNotifier struct {
	mu    sync.Mutex
	calls []pushCall
	err   error
}

func (n *fakeNotifier) Notify(_ context.Context, receiverID, preview string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, pushCall{receiver: receiverID, preview: preview})
	return n.err
}

func (n *fakeNotifier) recorded() []pushCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]pushCall(nil), n.calls...)
}

type fakeAlbums struct {
	mu     sync.Mutex
	grants [][2]string
	err    error
}

func (a *fakeAlbums) GrantAccess(_ context.Context, albumID, granteeID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return a.err
	}
	a.grants = append(a.grants, [2]string{albumID, granteeID})
	return nil
}

type fakeLocator struct {
	location models.Location
	err      error
}

func (l fakeLocator) Locate(context.Context) (models.Location, error) {
	return l.location, l.err
}

const (
	alice = "alice"
	bob   = "bob"
)

func openSession(t *testing.T, options Options) *Session {
	t.Helper()
	if options.LocalUserID == "" {
		options.LocalUserID = alice
	}
	if options.RemoteUserID == "" {
		options.RemoteUserID = bob
	}
	session, err := NewSession(options)
	require.NoError(t, err)
	t.Cleanup(session.Close)
	require.NoError(t, session.Open(context.Background()))
	return session
}

func messageIDs(messages []models.Message) []int64 {
	ids := make([]int64, 0, len(messages))
	for _, message := range messages {
		ids = append(ids, message.ID)
	}
	return ids
}

func findMessage(state State, id int64) (models.Message, bool) {
	for _, message := range state.Messages {
		if message.ID == id {
			return message, true
		}
	}
	return models.Message{}, false
}

func eventually(t *testing.T, condition func() bool, msg string) {
	t.Helper()
	require.Eventually(t, condition, 2*time.Second, 5*time.Millisecond, msg)
}
