package chat

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/koresolucoes/pontog-sub001/models"
)

// Send posts a text and/or image message. Nothing is inserted locally: the
// message appears once the change-feed delivers it.
func (s *Session) Send(ctx context.Context, content, imageRef string) error {
	content = strings.TrimSpace(content)
	imageRef = strings.TrimSpace(imageRef)
	if content == "" && imageRef == "" {
		return ErrEmptyMessage
	}
	return s.send(ctx, models.PlainText(content), imageRef)
}

// ShareLocation captures the device position once and sends it.
func (s *Session) ShareLocation(ctx context.Context) error {
	if s.options.Locator == nil {
		return ErrUnavailable
	}
	if err := s.ready(); err != nil {
		return err
	}

	location, err := s.options.Locator.Locate(ctx)
	if err != nil {
		return fmt.Errorf("locate device: %w", err)
	}
	return s.send(ctx, models.LocationShare(location), "")
}

// ShareAlbum grants the peer access to a private album, then sends a reference
// to it. If the grant fails nothing is sent.
func (s *Session) ShareAlbum(ctx context.Context, albumID, albumName string) error {
	if s.options.Albums == nil {
		return ErrUnavailable
	}
	albumID = strings.TrimSpace(albumID)
	if albumID == "" {
		return fmt.Errorf("album id is required")
	}
	if err := s.ready(); err != nil {
		return err
	}

	if err := s.options.Albums.GrantAccess(ctx, albumID, s.options.RemoteUserID); err != nil {
		s.options.Metrics.MutationFailed(string(OpShareAlbum))
		s.log.Warn("album grant failed", zap.String("album_id", albumID), zap.Error(err))
		return &MutationError{Op: OpShareAlbum, Err: err}
	}
	return s.send(ctx, models.AlbumShareContent(albumID, strings.TrimSpace(albumName)), "")
}

func (s *Session) send(ctx context.Context, body models.Content, imageRef string) error {
	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	conversationID := s.conversationID
	s.mu.Unlock()

	encoded, err := body.Encode()
	if err != nil {
		return fmt.Errorf("encode %s content: %w", body.Kind, err)
	}

	_, err = s.options.Backend.InsertMessage(ctx, models.NewMessage{
		SenderID:       s.options.LocalUserID,
		ConversationID: conversationID,
		Content:        models.StringPtr(encoded),
		ImageRef:       models.StringPtr(imageRef),
	})
	if err != nil {
		s.options.Metrics.MutationFailed(string(OpSend))
		s.log.Warn("send failed", zap.Int64("conversation_id", conversationID), zap.Error(err))
		return &MutationError{Op: OpSend, Err: err}
	}

	s.options.Metrics.MessageSent(string(body.Kind))
	if encoded != "" {
		s.notifyPeer(body.Preview())
	}
	return nil
}

// notifyPeer pushes a preview to the peer in the background. Failures are
// logged only.
func (s *Session) notifyPeer(preview string) {
	notifier := s.options.Notifier
	if notifier == nil {
		return
	}

	s.mu.Lock()
	if s.phase == phaseClosed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		err := notifier.Notify(s.ctx, s.options.RemoteUserID, preview)
		s.options.Metrics.PushAttempt(err)
		if err != nil {
			s.log.Warn("push notification failed", zap.Error(&SecondaryEffectError{Effect: "push", Err: err}))
		}
	}()
}

// BeginEdit enters edit mode for one of the local user's plain text messages.
func (s *Session) BeginEdit(id int64) error {
	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.editableLocked(id); err != nil {
		s.mu.Unlock()
		return err
	}
	s.editingID = id
	s.mu.Unlock()

	s.notifyChange()
	return nil
}

// CancelEdit leaves edit mode.
func (s *Session) CancelEdit() {
	s.mu.Lock()
	changed := s.editingID != 0
	s.editingID = 0
	s.mu.Unlock()

	if changed {
		s.notifyChange()
	}
}

// SubmitEdit sends the edited content of the message in edit mode. Blank
// content is rejected and keeps edit mode; otherwise edit mode ends before the
// remote call, whatever its outcome.
func (s *Session) SubmitEdit(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)

	s.mu.Lock()
	id := s.editingID
	if id == 0 {
		s.mu.Unlock()
		return ErrNoPendingEdit
	}
	if content == "" {
		s.mu.Unlock()
		return ErrEmptyMessage
	}
	s.editingID = 0
	s.mu.Unlock()

	s.notifyChange()
	return s.Edit(ctx, id, content)
}

// Edit replaces the content of one of the local user's plain text messages.
// Local state changes only when the change-feed echoes the update.
func (s *Session) Edit(ctx context.Context, id int64, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.editableLocked(id); err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	if err := s.options.Backend.UpdateMessageContent(ctx, id, content, s.now()); err != nil {
		s.options.Metrics.MutationFailed(string(OpEdit))
		s.log.Warn("edit failed", zap.Int64("message_id", id), zap.Error(err))
		return &MutationError{Op: OpEdit, MessageID: id, Err: err}
	}
	return nil
}

func (s *Session) editableLocked(id int64) error {
	i := s.indexLocked(id)
	if i < 0 {
		return ErrUnknownMessage
	}
	if !s.messages[i].Editable(s.options.LocalUserID) {
		return ErrNotEditable
	}
	return nil
}

// RequestDelete asks for confirmation before deleting one of the local user's messages.
func (s *Session) RequestDelete(id int64) error {
	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return ErrUnknownMessage
	}
	if !s.messages[i].Deletable(s.options.LocalUserID) {
		s.mu.Unlock()
		return ErrNotDeletable
	}
	s.pendingDeleteID = id
	s.mu.Unlock()

	s.notifyChange()
	return nil
}

// CancelDelete drops a pending message delete.
func (s *Session) CancelDelete() {
	s.mu.Lock()
	changed := s.pendingDeleteID != 0
	s.pendingDeleteID = 0
	s.mu.Unlock()

	if changed {
		s.notifyChange()
	}
}

// ConfirmDelete deletes the message awaiting confirmation. The message leaves
// the local history when the change-feed delivers the delete.
func (s *Session) ConfirmDelete(ctx context.Context) error {
	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	id := s.pendingDeleteID
	if id == 0 {
		s.mu.Unlock()
		return ErrNoPendingDelete
	}
	s.pendingDeleteID = 0
	s.mu.Unlock()

	s.notifyChange()
	if err := s.options.Backend.DeleteMessage(ctx, id); err != nil {
		s.options.Metrics.MutationFailed(string(OpDelete))
		s.log.Warn("delete failed", zap.Int64("message_id", id), zap.Error(err))
		return &MutationError{Op: OpDelete, MessageID: id, Err: err}
	}
	return nil
}

// RequestConversationDelete asks for confirmation before deleting the whole conversation.
func (s *Session) RequestConversationDelete() error {
	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	s.conversationDeletePending = true
	s.mu.Unlock()

	s.notifyChange()
	return nil
}

// CancelConversationDelete drops a pending conversation delete.
func (s *Session) CancelConversationDelete() {
	s.mu.Lock()
	changed := s.conversationDeletePending
	s.conversationDeletePending = false
	s.mu.Unlock()

	if changed {
		s.notifyChange()
	}
}

// ConfirmConversationDelete deletes the conversation and all its messages. On
// success the history is cleared, OnConversationDeleted runs and the session
// closes.
func (s *Session) ConfirmConversationDelete(ctx context.Context) error {
	s.mu.Lock()
	if err := s.readyLocked(); err != nil {
		s.mu.Unlock()
		return err
	}
	if !s.conversationDeletePending {
		s.mu.Unlock()
		return ErrNoPendingDelete
	}
	s.conversationDeletePending = false
	conversationID := s.conversationID
	s.mu.Unlock()

	if err := s.options.Backend.DeleteConversation(ctx, conversationID); err != nil {
		s.options.Metrics.MutationFailed(string(OpDeleteConversation))
		s.log.Warn("delete conversation failed", zap.Int64("conversation_id", conversationID), zap.Error(err))
		s.notifyChange()
		return &MutationError{Op: OpDeleteConversation, Err: err}
	}

	s.mu.Lock()
	s.messages = nil
	s.editingID = 0
	s.pendingDeleteID = 0
	s.mu.Unlock()

	s.log.Info("conversation deleted", zap.Int64("conversation_id", conversationID))
	if s.options.OnConversationDeleted != nil {
		s.options.OnConversationDeleted(conversationID)
	}
	s.Close()
	s.notifyChange()
	return nil
}

func (s *Session) ready() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyLocked()
}
