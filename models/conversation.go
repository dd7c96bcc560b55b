package models

import (
	"fmt"
	"time"
)

type Conversation struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ConversationSummary is one row of the caller's conversation list.
type ConversationSummary struct {
	ID           int64           `json:"id"`
	Participants []Participant   `json:"participants"`
	LastMessage  *MessagePayload `json:"lastMessage"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// RoomData is the authoritative state of one conversation: what a client
// fetches on open and after every reconnect.
type RoomData struct {
	ConversationID int64            `json:"conversationId"`
	Participants   []Participant    `json:"participants"`
	Messages       []MessagePayload `json:"messages"`
}

type CreateConversationRequest struct {
	UserID int64 `json:"userId"`
}

func (r *CreateConversationRequest) Validate() error {
	if r.UserID <= 0 {
		return fmt.Errorf("userId is required")
	}
	return nil
}

type AddParticipantRequest struct {
	UserID int64 `json:"userId"`
}

func (r *AddParticipantRequest) Validate() error {
	if r.UserID <= 0 {
		return fmt.Errorf("userId is required")
	}
	return nil
}
