package chat

import (
	"errors"
	"fmt"

	"github.com/koresolucoes/pontog-sub001/models"
)

var (
	// ErrNotReady is returned for intents issued before the conversation is resolved.
	ErrNotReady = errors.New("chat: session not ready")
	// ErrAlreadyOpen is returned by a second Open.
	ErrAlreadyOpen = errors.New("chat: session already open")
	// ErrClosed is returned once the session was closed.
	ErrClosed = errors.New("chat: session closed")
	// ErrEmptyMessage rejects sends and edits without content.
	ErrEmptyMessage = models.ErrEmptyMessage
	// ErrNotEditable rejects edits of foreign, image or structured messages.
	ErrNotEditable = errors.New("chat: message cannot be edited")
	// ErrNotDeletable rejects deletes of foreign or structured messages.
	ErrNotDeletable = errors.New("chat: message cannot be deleted")
	// ErrNoPendingEdit is returned by SubmitEdit outside an edit.
	ErrNoPendingEdit = errors.New("chat: no message is being edited")
	// ErrNoPendingDelete is returned when confirming a delete nobody requested.
	ErrNoPendingDelete = errors.New("chat: no delete pending confirmation")
	// ErrUnavailable is returned when an intent needs a collaborator that is not configured.
	ErrUnavailable = errors.New("chat: collaborator not configured")
	// ErrUnknownMessage is returned for IDs not in the session history.
	ErrUnknownMessage = errors.New("chat: unknown message")
)

// Stage names a step of session setup.
type Stage string

const (
	StageResolve   Stage = "resolve"
	StageSubscribe Stage = "subscribe"
	StageHistory   Stage = "history"
)

// SetupError means the session could not be opened.
type SetupError struct {
	Stage Stage
	Err   error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("chat setup (%s): %v", e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// Op names a mutating intent.
type Op string

const (
	OpSend               Op = "send"
	OpShareAlbum         Op = "share_album"
	OpEdit               Op = "edit"
	OpDelete             Op = "delete"
	OpDeleteConversation Op = "delete_conversation"
)

// MutationError is a remote rejection of send, edit or delete. Session state is
// unchanged and nothing is retried.
type MutationError struct {
	Op        Op
	MessageID int64
	Err       error
}

func (e *MutationError) Error() string {
	if e.MessageID != 0 {
		return fmt.Sprintf("chat %s message %d: %v", e.Op, e.MessageID, e.Err)
	}
	return fmt.Sprintf("chat %s: %v", e.Op, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// AckError is a failed read acknowledgment. The session only logs it.
type AckError struct {
	IDs []int64
	Err error
}

func (e *AckError) Error() string {
	return fmt.Sprintf("chat read ack of %d messages: %v", len(e.IDs), e.Err)
}

func (e *AckError) Unwrap() error { return e.Err }

// SecondaryEffectError is a failed side effect of a successful intent, such as
// the push notification after a send. It never changes the intent outcome.
type SecondaryEffectError struct {
	Effect string
	Err    error
}

func (e *SecondaryEffectError) Error() string {
	return fmt.Sprintf("chat %s: %v", e.Effect, e.Err)
}

func (e *SecondaryEffectError) Unwrap() error { return e.Err }
