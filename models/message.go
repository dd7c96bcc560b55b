package models

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

type MessageType string

const (
	MessageText   MessageType = "text"
	MessageImage  MessageType = "image"
	MessageSystem MessageType = "system"
)

const (
	MaxMessageLength = 2000
	MaxImageBytes    = 5 << 20

	// SystemSenderName labels messages with no sender.
	SystemSenderName = "System"
)

// Message is a stored row. SenderID is nil for system messages.
type Message struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversationId"`
	SenderID       *int64      `json:"senderId"`
	Type           MessageType `json:"type"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"createdAt"`
}

// MessagePayload is the denormalized message that goes over the wire, both as
// the POST /api/messages response and inside broadcast frames.
type MessagePayload struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversationId"`
	SenderID       *int64      `json:"senderId"`
	Type           MessageType `json:"type"`
	Content        string      `json:"content"`
	CreatedAt      time.Time   `json:"createdAt"`
	SenderName     string      `json:"senderName"`
	SenderAvatar   string      `json:"senderAvatar"`
	Reactions      []Reaction  `json:"reactions"`
}

// NewMessagePayload joins a message with its sender and reactions. sender may
// be nil for system messages. Timestamps are normalized to UTC.
func NewMessagePayload(m *Message, sender *User, reactions []Reaction) MessagePayload {
	p := MessagePayload{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Type:           m.Type,
		Content:        m.Content,
		CreatedAt:      m.CreatedAt.UTC(),
		SenderName:     SystemSenderName,
		Reactions:      reactions,
	}
	if sender != nil {
		p.SenderName = sender.Name
		p.SenderAvatar = sender.AvatarURL
	}
	if p.Reactions == nil {
		p.Reactions = []Reaction{}
	}
	return p
}

type CreateMessageRequest struct {
	ConversationID int64       `json:"conversationId"`
	Content        string      `json:"content"`
	Type           MessageType `json:"type"`
}

func (r *CreateMessageRequest) Validate() error {
	if r.ConversationID <= 0 {
		return fmt.Errorf("conversationId is required")
	}
	if r.Type == "" {
		r.Type = MessageText
	}

	switch r.Type {
	case MessageText:
		r.Content = strings.TrimSpace(r.Content)
		n := utf8.RuneCountInString(r.Content)
		if n == 0 {
			return fmt.Errorf("content is required")
		}
		if n > MaxMessageLength {
			return fmt.Errorf("content must be at most %d characters", MaxMessageLength)
		}
	case MessageImage:
		if !strings.HasPrefix(r.Content, "data:image/") {
			return fmt.Errorf("image content must be a data:image URL")
		}
		if len(r.Content) > MaxImageBytes {
			return fmt.Errorf("image must be at most %d bytes", MaxImageBytes)
		}
	default:
		return fmt.Errorf("invalid message type %q", r.Type)
	}
	return nil
}
