// Package chat manages the state of one open conversation window: history,
// change-feed reconciliation, read acknowledgments and message intents.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/koresolucoes/pontog-sub001/feed"
	"github.com/koresolucoes/pontog-sub001/metrics"
	"github.com/koresolucoes/pontog-sub001/models"
)

type phase int

const (
	phaseIdle phase = iota
	phaseOpening
	phaseOpen
	phaseClosed
)

// Options configures a Session.
//
// OnChange and OnConversationDeleted run outside the session lock, on the
// goroutine that caused the change. They must not call Close.
type Options struct {
	LocalUserID  string
	RemoteUserID string

	Backend  Backend
	Notifier Notifier
	Unread   UnreadCounter
	Albums   AlbumAccess
	Locator  Locator

	Logger  *zap.Logger
	Metrics *metrics.Collector
	Now     func() time.Time

	OnChange              func(State)
	OnConversationDeleted func(conversationID int64)
}

// State is a snapshot of the session.
type State struct {
	ConversationID            int64
	Messages                  []models.Message
	EditingID                 int64
	PendingDeleteID           int64
	ConversationDeletePending bool
	Ready                     bool
	Closed                    bool
	// FeedClosed is set when the change-feed ended while the session was open,
	// usually because the conversation was deleted by the peer.
	FeedClosed bool
}

// Session is the state of one conversation between the local user and a peer.
type Session struct {
	options Options
	log     *zap.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu                        sync.Mutex
	phase                     phase
	conversationID            int64
	messages                  []models.Message
	editingID                 int64
	pendingDeleteID           int64
	conversationDeletePending bool
	feedClosed                bool
	sub                       *feed.Subscription

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewSession validates options and returns an unopened session.
func NewSession(options Options) (*Session, error) {
	if options.Backend == nil {
		return nil, errors.New("backend is required")
	}
	options.LocalUserID = strings.TrimSpace(options.LocalUserID)
	options.RemoteUserID = strings.TrimSpace(options.RemoteUserID)
	if options.LocalUserID == "" {
		return nil, errors.New("local user id is required")
	}
	if options.RemoteUserID == "" {
		return nil, errors.New("remote user id is required")
	}
	if options.LocalUserID == options.RemoteUserID {
		return nil, errors.New("remote user must differ from local user")
	}

	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		options: options,
		log: logger.With(
			zap.String("local_user", options.LocalUserID),
			zap.String("remote_user", options.RemoteUserID),
		),
		now:    now,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Open resolves the conversation, subscribes to its change-feed, loads the
// history and acknowledges unread peer messages in one batch.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	switch s.phase {
	case phaseOpening, phaseOpen:
		s.mu.Unlock()
		return ErrAlreadyOpen
	case phaseClosed:
		s.mu.Unlock()
		return ErrClosed
	}
	s.phase = phaseOpening
	s.mu.Unlock()

	backend := s.options.Backend

	conversationID, err := backend.GetOrCreateConversation(ctx, s.options.LocalUserID, s.options.RemoteUserID)
	if err != nil {
		return s.failOpen(&SetupError{Stage: StageResolve, Err: err})
	}

	sub, err := backend.SubscribeToConversation(ctx, conversationID)
	if err != nil {
		return s.failOpen(&SetupError{Stage: StageSubscribe, Err: err})
	}

	history, err := backend.ListMessages(ctx, conversationID)
	if err != nil {
		sub.Close()
		return s.failOpen(&SetupError{Stage: StageHistory, Err: err})
	}

	s.mu.Lock()
	if s.phase == phaseClosed {
		s.mu.Unlock()
		sub.Close()
		return ErrClosed
	}
	s.phase = phaseOpen
	s.conversationID = conversationID
	s.sub = sub
	s.messages = make([]models.Message, 0, len(history))
	for _, message := range history {
		s.messages = append(s.messages, message.Clone())
	}
	unread := s.unreadFromPeerLocked()
	s.wg.Add(1)
	s.mu.Unlock()

	go s.loop(sub)

	s.options.Metrics.SessionOpened()
	s.log.Info("chat session open",
		zap.Int64("conversation_id", conversationID),
		zap.Int("history", len(history)),
		zap.Int("unread", len(unread)))
	s.notifyChange()

	if len(unread) > 0 {
		_ = s.MarkRead(ctx, unread)
	}
	return nil
}

func (s *Session) failOpen(err *SetupError) error {
	s.mu.Lock()
	if s.phase == phaseOpening {
		s.phase = phaseIdle
	}
	s.mu.Unlock()

	s.log.Error("chat session setup failed", zap.String("stage", string(err.Stage)), zap.Error(err.Err))
	return err
}

// Close releases the subscription and waits for background work. Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		wasOpen := s.phase == phaseOpen
		s.phase = phaseClosed
		sub := s.sub
		s.sub = nil
		s.editingID = 0
		s.pendingDeleteID = 0
		s.conversationDeletePending = false
		s.mu.Unlock()

		s.cancel()
		if sub != nil {
			sub.Close()
		}
		s.wg.Wait()

		if wasOpen {
			s.options.Metrics.SessionClosed()
			s.log.Info("chat session closed")
		}
	})
}

// State returns a snapshot that does not alias session memory.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() State {
	messages := make([]models.Message, 0, len(s.messages))
	for _, message := range s.messages {
		messages = append(messages, message.Clone())
	}
	return State{
		ConversationID:            s.conversationID,
		Messages:                  messages,
		EditingID:                 s.editingID,
		PendingDeleteID:           s.pendingDeleteID,
		ConversationDeletePending: s.conversationDeletePending,
		Ready:                     s.phase == phaseOpen,
		Closed:                    s.phase == phaseClosed,
		FeedClosed:                s.feedClosed,
	}
}

// ConversationID returns the resolved conversation, or 0.
func (s *Session) ConversationID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// MarkRead acknowledges peer messages in one remote call. On success the local
// read timestamps are stamped where missing and the unread badge is cleared. A
// failure is logged and returned as *AckError; local state is untouched.
func (s *Session) MarkRead(ctx context.Context, ids []int64) error {
	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	conversationID := s.conversationID
	ids = s.peerMessageIDsLocked(ids)
	s.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}

	err := s.options.Backend.BatchMarkRead(ctx, ids)
	s.options.Metrics.ReadAck(err)
	if err != nil {
		ackErr := &AckError{IDs: ids, Err: err}
		s.log.Warn("read acknowledgment failed", zap.Int64s("message_ids", ids), zap.Error(err))
		return ackErr
	}

	now := s.now()
	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	s.mu.Lock()
	changed := false
	for i := range s.messages {
		if _, ok := wanted[s.messages[i].ID]; ok && s.messages[i].ReadAt == nil {
			s.messages[i].ReadAt = models.TimePtr(now)
			changed = true
		}
	}
	s.mu.Unlock()

	if s.options.Unread != nil {
		if err := s.options.Unread.ClearUnread(ctx, conversationID); err != nil {
			s.log.Warn("clear unread counter failed", zap.Int64("conversation_id", conversationID), zap.Error(err))
		}
	}
	if changed {
		s.notifyChange()
	}
	return nil
}

// unreadFromPeerLocked lists peer messages without a read timestamp.
func (s *Session) unreadFromPeerLocked() []int64 {
	var ids []int64
	for _, message := range s.messages {
		if message.SenderID == s.options.RemoteUserID && message.ReadAt == nil {
			ids = append(ids, message.ID)
		}
	}
	return ids
}

// peerMessageIDsLocked keeps known peer-authored IDs, once each, in input order.
func (s *Session) peerMessageIDsLocked(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		i := s.indexLocked(id)
		if i < 0 || s.messages[i].SenderID != s.options.RemoteUserID {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (s *Session) indexLocked(id int64) int {
	for i := range s.messages {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) readyLocked() error {
	switch s.phase {
	case phaseOpen:
		return nil
	case phaseClosed:
		return ErrClosed
	default:
		return ErrNotReady
	}
}

func (s *Session) notifyChange() {
	if s.options.OnChange == nil {
		return
	}
	s.options.OnChange(s.State())
}
