package chat

import (
	"go.uber.org/zap"

	"github.com/koresolucoes/pontog-sub001/feed"
	"github.com/koresolucoes/pontog-sub001/models"
)

// loop applies change events one at a time until the subscription ends.
func (s *Session) loop(sub *feed.Subscription) {
	defer s.wg.Done()

	for event := range sub.Events() {
		s.apply(event)
	}

	s.mu.Lock()
	ended := s.phase == phaseOpen
	if ended {
		s.feedClosed = true
	}
	s.mu.Unlock()

	if ended {
		s.log.Info("change-feed ended", zap.Int64("conversation_id", sub.ConversationID()))
		s.notifyChange()
	}
}

func (s *Session) apply(event feed.Event) {
	s.mu.Lock()
	if s.phase != phaseOpen || event.ConversationID != s.conversationID {
		s.mu.Unlock()
		return
	}

	var (
		changed bool
		ackID   int64
	)
	switch event.Kind {
	case feed.KindInsert:
		changed, ackID = s.insertLocked(event.Message)
	case feed.KindUpdate:
		changed = s.updateLocked(event.Message)
	case feed.KindDelete:
		changed = s.deleteLocked(event.Message.ID)
	default:
		s.log.Debug("ignore change event", zap.String("kind", string(event.Kind)))
	}
	s.mu.Unlock()

	s.options.Metrics.FeedEvent(string(event.Kind))
	if changed {
		s.notifyChange()
	}
	if ackID != 0 {
		_ = s.MarkRead(s.ctx, []int64{ackID})
	}
}

// insertLocked appends at the tail. The history is never re-sorted; an ID
// already present (listed and delivered during Open) is skipped.
func (s *Session) insertLocked(message models.Message) (bool, int64) {
	if s.indexLocked(message.ID) >= 0 {
		return false, 0
	}
	s.messages = append(s.messages, message.Clone())

	if message.SenderID == s.options.RemoteUserID && message.ReadAt == nil {
		return true, message.ID
	}
	return true, 0
}

// updateLocked merges a changed row in place. A read timestamp, once set,
// is never cleared by a stale event.
func (s *Session) updateLocked(message models.Message) bool {
	i := s.indexLocked(message.ID)
	if i < 0 {
		s.log.Debug("update for unknown message", zap.Int64("message_id", message.ID))
		return false
	}
	mergeMessage(&s.messages[i], message)
	return true
}

func (s *Session) deleteLocked(id int64) bool {
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.messages = append(s.messages[:i], s.messages[i+1:]...)
	if s.editingID == id {
		s.editingID = 0
	}
	if s.pendingDeleteID == id {
		s.pendingDeleteID = 0
	}
	return true
}

func mergeMessage(dst *models.Message, src models.Message) {
	src = src.Clone()
	dst.Content = src.Content
	dst.ImageRef = src.ImageRef
	if src.UpdatedAt != nil {
		dst.UpdatedAt = src.UpdatedAt
	}
	if src.ReadAt != nil {
		dst.ReadAt = src.ReadAt
	}
}
