// Package repository is the storage boundary. Each concern has an interface
// file and a sqlite_*.go implementation built on database.TxQuerier, so the
// same repository type works against the pool or inside a transaction.
package repository

import (
	"context"

	"github.com/akinalp/convo/models"
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	// ListNotInConversation returns users who are not participants of
	// conversationID, ordered by name.
	ListNotInConversation(ctx context.Context, conversationID int64) ([]models.Participant, error)
}
