package repository

import (
	"context"

	"github.com/akinalp/convo/models"
)

type MessageRepository interface {
	// Create inserts the message and fills in its ID and CreatedAt.
	// IDs are strictly increasing.
	Create(ctx context.Context, msg *models.Message) error
	GetByID(ctx context.Context, id int64) (*models.Message, error)
	// ListByConversation returns up to limit of the newest messages, oldest first.
	ListByConversation(ctx context.Context, conversationID int64, limit int) ([]models.Message, error)
	Last(ctx context.Context, conversationID int64) (*models.Message, error)
}
