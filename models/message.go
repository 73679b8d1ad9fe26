package models

import (
	"errors"
	"strings"
	"time"
)

// ErrEmptyMessage indicates a message with neither content nor image reference.
var ErrEmptyMessage = errors.New("message requires content or image reference")

// Message is one chat message row as held by the remote store.
//
// ID is service-assigned and increases monotonically; it is the display order.
type Message struct {
	ID             int64      `json:"id"`
	ConversationID int64      `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	Content        *string    `json:"content"`
	ImageRef       *string    `json:"image_url"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      *time.Time `json:"updated_at"`
	ReadAt         *time.Time `json:"read_at"`
}

// NewMessage is the insert payload for a message.
type NewMessage struct {
	SenderID       string  `json:"sender_id"`
	ConversationID int64   `json:"conversation_id"`
	Content        *string `json:"content"`
	ImageRef       *string `json:"image_url"`
}

// Validate reports whether the payload can be inserted.
func (m NewMessage) Validate() error {
	if strings.TrimSpace(m.SenderID) == "" {
		return errors.New("sender_id is required")
	}
	if m.ConversationID <= 0 {
		return errors.New("conversation_id is required")
	}
	if IsBlank(m.Content) && IsBlank(m.ImageRef) {
		return ErrEmptyMessage
	}
	return nil
}

// Body decodes the message content into its tagged form.
func (m Message) Body() Content {
	if m.Content == nil {
		return Content{Kind: KindText}
	}
	return ParseContent(*m.Content)
}

// HasImage reports whether the message carries an image reference.
func (m Message) HasImage() bool {
	return !IsBlank(m.ImageRef)
}

// IsStructured reports whether the content is a location or album share.
func (m Message) IsStructured() bool {
	return m.Body().Structured()
}

// IsRead reports whether the recipient acknowledged the message.
func (m Message) IsRead() bool {
	return m.ReadAt != nil
}

// Editable reports whether userID may edit this message: own plain text only.
func (m Message) Editable(userID string) bool {
	return m.SenderID == userID && !m.HasImage() && !m.IsStructured()
}

// Deletable reports whether userID may delete this message.
func (m Message) Deletable(userID string) bool {
	return m.SenderID == userID && !m.IsStructured()
}

// Clone returns a deep copy so snapshots never alias session state.
func (m Message) Clone() Message {
	out := m
	out.Content = cloneString(m.Content)
	out.ImageRef = cloneString(m.ImageRef)
	out.UpdatedAt = cloneTime(m.UpdatedAt)
	out.ReadAt = cloneTime(m.ReadAt)
	return out
}

// IsBlank reports whether s is nil or only whitespace.
func IsBlank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}

// StringPtr returns a pointer to s, or nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time {
	return &t
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
