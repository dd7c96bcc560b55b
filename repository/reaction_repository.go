package repository

import (
	"context"

	"github.com/akinalp/convo/models"
)

type ReactionRepository interface {
	// Toggle removes the (message, user, type) reaction if present and adds it
	// otherwise. added reports which happened.
	Toggle(ctx context.Context, messageID, userID int64, reactionType models.ReactionType) (added bool, err error)
	ListByMessage(ctx context.Context, messageID int64) ([]models.Reaction, error)
	ListByMessages(ctx context.Context, messageIDs []int64) (map[int64][]models.Reaction, error)
}
