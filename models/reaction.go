package models

import (
	"fmt"
	"strings"
)

type ReactionType string

const (
	ReactionLike  ReactionType = "like"
	ReactionLove  ReactionType = "love"
	ReactionLaugh ReactionType = "laugh"
)

func (t ReactionType) Valid() bool {
	switch t {
	case ReactionLike, ReactionLove, ReactionLaugh:
		return true
	}
	return false
}

// Reaction is one (user, type) mark on a message. Storage enforces
// UNIQUE(message_id, user_id, type), so a message's reactions form a set.
type Reaction struct {
	ID        int64        `json:"id"`
	MessageID int64        `json:"messageId"`
	UserID    int64        `json:"userId"`
	Type      ReactionType `json:"type"`
}

type ToggleReactionRequest struct {
	Type ReactionType `json:"type"`
}

func (r *ToggleReactionRequest) Validate() error {
	r.Type = ReactionType(strings.ToLower(strings.TrimSpace(string(r.Type))))
	if !r.Type.Valid() {
		return fmt.Errorf("invalid reaction type %q", r.Type)
	}
	return nil
}

// ToggleReactionResult reports which way the toggle went and the full set
// read back after commit.
type ToggleReactionResult struct {
	Added     bool       `json:"added"`
	Reactions []Reaction `json:"reactions"`
}
