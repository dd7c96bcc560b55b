package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/akinalp/convo/database"
	"github.com/akinalp/convo/models"
	"github.com/akinalp/convo/pkg"
	"github.com/akinalp/convo/repository"
	"github.com/akinalp/convo/ws"
)

// ReactionService toggles reactions and broadcasts the message with its
// complete reaction set.
type ReactionService interface {
	Toggle(ctx context.Context, userID, messageID int64, req *models.ToggleReactionRequest) (*models.ToggleReactionResult, error)
}

type reactionService struct {
	db       *sql.DB
	messages repository.MessageRepository
	emitter  EventEmitter
	locks    *ConversationLocks
	log      zerolog.Logger
}

// NewReactionService wires the service. The reaction set and sender that go
// out with message-updated are read inside the toggling transaction.
func NewReactionService(
	db *sql.DB,
	messages repository.MessageRepository,
	emitter EventEmitter,
	locks *ConversationLocks,
	log zerolog.Logger,
) ReactionService {
	return &reactionService{
		db:       db,
		messages: messages,
		emitter:  emitter,
		locks:    locks,
		log:      log,
	}
}

func (s *reactionService) Toggle(ctx context.Context, userID, messageID int64, req *models.ToggleReactionRequest) (*models.ToggleReactionResult, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", pkg.ErrBadRequest, err.Error())
	}

	msg, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Type == models.MessageSystem {
		return nil, fmt.Errorf("%w: system messages cannot be reacted to", pkg.ErrBadRequest)
	}

	unlock := s.locks.Lock(msg.ConversationID)
	defer unlock()

	var (
		added     bool
		reactions []models.Reaction
		payload   models.MessagePayload
	)
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := requireParticipant(ctx, repository.NewSQLiteConversationRepo(tx), msg.ConversationID, userID); err != nil {
			return err
		}
		reactRepo := repository.NewSQLiteReactionRepo(tx)
		var err error
		if added, err = reactRepo.Toggle(ctx, messageID, userID, req.Type); err != nil {
			return err
		}
		// the event carries the set as stored, not a client-side delta
		if reactions, err = reactRepo.ListByMessage(ctx, messageID); err != nil {
			return err
		}
		payload, err = newSenderLookup(repository.NewSQLiteUserRepo(tx)).payload(ctx, msg, reactions)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.emitter.EmitAfterCommit(ws.MessageUpdatedEvent(payload))

	s.log.Debug().
		Int64("message_id", messageID).
		Str("reaction", string(req.Type)).
		Bool("added", added).
		Msg("reaction toggled")

	return &models.ToggleReactionResult{Added: added, Reactions: reactions}, nil
}
