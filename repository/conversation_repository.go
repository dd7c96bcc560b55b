package repository

import (
	"context"

	"github.com/akinalp/convo/models"
)

type ConversationRepository interface {
	Create(ctx context.Context) (*models.Conversation, error)
	GetByID(ctx context.Context, id int64) (*models.Conversation, error)
	Delete(ctx context.Context, id int64) error
	// Touch bumps updated_at so the conversation sorts first in lists.
	Touch(ctx context.Context, id int64) error

	// FindDirect returns the conversation whose participants are exactly
	// userA and userB, or pkg.ErrNotFound.
	FindDirect(ctx context.Context, userA, userB int64) (*models.Conversation, error)
	ListForUser(ctx context.Context, userID int64) ([]models.Conversation, error)

	AddParticipant(ctx context.Context, conversationID, userID int64) error
	RemoveParticipant(ctx context.Context, conversationID, userID int64) error
	IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error)
	ListParticipants(ctx context.Context, conversationID int64) ([]models.Participant, error)
}
