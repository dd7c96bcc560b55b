package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/akinalp/convo/database"
	"github.com/akinalp/convo/models"
	"github.com/akinalp/convo/pkg"
	"github.com/akinalp/convo/repository"
	"github.com/akinalp/convo/ws"
)

// roomHistoryLimit caps how many messages Get returns.
const roomHistoryLimit = 200

// ConversationService manages conversations and their rosters. Roster changes
// are broadcast as participants-updated followed by the system message that
// records them.
type ConversationService interface {
	List(ctx context.Context, userID int64) ([]models.ConversationSummary, error)
	// Create starts a conversation with another user, or returns the existing
	// one-to-one conversation between them. created reports which.
	Create(ctx context.Context, userID int64, req *models.CreateConversationRequest) (summary *models.ConversationSummary, created bool, err error)
	// Get returns the authoritative state clients reconcile against.
	Get(ctx context.Context, userID, conversationID int64) (*models.RoomData, error)
	Delete(ctx context.Context, userID, conversationID int64) error
	AvailableUsers(ctx context.Context, userID, conversationID int64) ([]models.Participant, error)
	AddParticipant(ctx context.Context, actorID, conversationID int64, req *models.AddParticipantRequest) ([]models.Participant, error)
	Leave(ctx context.Context, userID, conversationID int64) error
}

type conversationService struct {
	db        *sql.DB
	convs     repository.ConversationRepository
	messages  repository.MessageRepository
	reactions repository.ReactionRepository
	users     repository.UserRepository
	emitter   EventEmitter
	authz     *ParticipantCache
	revoker   SubscriptionRevoker
	locks     *ConversationLocks
	log       zerolog.Logger
}

// NewConversationService wires the service. authz and revoker may be nil when
// broadcast is disabled.
func NewConversationService(
	db *sql.DB,
	convs repository.ConversationRepository,
	messages repository.MessageRepository,
	reactions repository.ReactionRepository,
	users repository.UserRepository,
	emitter EventEmitter,
	authz *ParticipantCache,
	revoker SubscriptionRevoker,
	locks *ConversationLocks,
	log zerolog.Logger,
) ConversationService {
	return &conversationService{
		db:        db,
		convs:     convs,
		messages:  messages,
		reactions: reactions,
		users:     users,
		emitter:   emitter,
		authz:     authz,
		revoker:   revoker,
		locks:     locks,
		log:       log,
	}
}

func (s *conversationService) List(ctx context.Context, userID int64) ([]models.ConversationSummary, error) {
	convs, err := s.convs.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	senders := newSenderLookup(s.users)
	out := make([]models.ConversationSummary, 0, len(convs))
	for i := range convs {
		summary, err := s.summarize(ctx, &convs[i], senders)
		if err != nil {
			return nil, err
		}
		out = append(out, *summary)
	}
	return out, nil
}

func (s *conversationService) summarize(ctx context.Context, conv *models.Conversation, senders *senderLookup) (*models.ConversationSummary, error) {
	participants, err := s.convs.ListParticipants(ctx, conv.ID)
	if err != nil {
		return nil, err
	}

	summary := &models.ConversationSummary{
		ID:           conv.ID,
		Participants: participants,
		UpdatedAt:    conv.UpdatedAt.UTC(),
	}

	last, err := s.messages.Last(ctx, conv.ID)
	switch {
	case errors.Is(err, pkg.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		p, err := senders.payload(ctx, last, nil)
		if err != nil {
			return nil, err
		}
		summary.LastMessage = &p
	}
	return summary, nil
}

func (s *conversationService) Create(ctx context.Context, userID int64, req *models.CreateConversationRequest) (*models.ConversationSummary, bool, error) {
	if err := req.Validate(); err != nil {
		return nil, false, fmt.Errorf("%w: %s", pkg.ErrBadRequest, err.Error())
	}
	if req.UserID == userID {
		return nil, false, fmt.Errorf("%w: cannot start a conversation with yourself", pkg.ErrBadRequest)
	}
	if _, err := s.users.GetByID(ctx, req.UserID); err != nil {
		return nil, false, err
	}

	existing, err := s.convs.FindDirect(ctx, userID, req.UserID)
	if err == nil {
		summary, err := s.summarize(ctx, existing, newSenderLookup(s.users))
		return summary, false, err
	}
	if !errors.Is(err, pkg.ErrNotFound) {
		return nil, false, err
	}

	var summary *models.ConversationSummary
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		convs := repository.NewSQLiteConversationRepo(tx)
		conv, err := convs.Create(ctx)
		if err != nil {
			return err
		}
		if err := convs.AddParticipant(ctx, conv.ID, userID); err != nil {
			return err
		}
		if err := convs.AddParticipant(ctx, conv.ID, req.UserID); err != nil {
			return err
		}
		participants, err := convs.ListParticipants(ctx, conv.ID)
		if err != nil {
			return err
		}
		summary = &models.ConversationSummary{
			ID:           conv.ID,
			Participants: participants,
			UpdatedAt:    conv.UpdatedAt.UTC(),
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	s.log.Info().Int64("conversation_id", summary.ID).Int64("user_id", userID).Msg("conversation created")
	return summary, true, nil
}

func (s *conversationService) Get(ctx context.Context, userID, conversationID int64) (*models.RoomData, error) {
	if err := requireParticipant(ctx, s.convs, conversationID, userID); err != nil {
		return nil, err
	}

	participants, err := s.convs.ListParticipants(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.messages.ListByConversation(ctx, conversationID, roomHistoryLimit)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, len(msgs))
	for i := range msgs {
		ids[i] = msgs[i].ID
	}
	reactions, err := s.reactions.ListByMessages(ctx, ids)
	if err != nil {
		return nil, err
	}

	senders := newSenderLookup(s.users)
	payloads := make([]models.MessagePayload, 0, len(msgs))
	for i := range msgs {
		p, err := senders.payload(ctx, &msgs[i], reactions[msgs[i].ID])
		if err != nil {
			return nil, err
		}
		payloads = append(payloads, p)
	}

	return &models.RoomData{
		ConversationID: conversationID,
		Participants:   participants,
		Messages:       payloads,
	}, nil
}

func (s *conversationService) Delete(ctx context.Context, userID, conversationID int64) error {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	if err := requireParticipant(ctx, s.convs, conversationID, userID); err != nil {
		return err
	}

	participants, err := s.convs.ListParticipants(ctx, conversationID)
	if err != nil {
		return err
	}

	if err := s.convs.Delete(ctx, conversationID); err != nil {
		return err
	}

	s.authz.InvalidateConversation(conversationID)
	if s.revoker != nil {
		for _, p := range participants {
			s.revoker.RevokeUser(conversationID, p.ID)
		}
	}

	s.log.Info().Int64("conversation_id", conversationID).Int64("user_id", userID).Msg("conversation deleted")
	return nil
}

func (s *conversationService) AvailableUsers(ctx context.Context, userID, conversationID int64) ([]models.Participant, error) {
	if err := requireParticipant(ctx, s.convs, conversationID, userID); err != nil {
		return nil, err
	}
	return s.users.ListNotInConversation(ctx, conversationID)
}

func (s *conversationService) AddParticipant(ctx context.Context, actorID, conversationID int64, req *models.AddParticipantRequest) ([]models.Participant, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", pkg.ErrBadRequest, err.Error())
	}

	unlock := s.locks.Lock(conversationID)
	defer unlock()

	var (
		systemMsg    *models.Message
		participants []models.Participant
	)
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		convs := repository.NewSQLiteConversationRepo(tx)
		if err := requireParticipant(ctx, convs, conversationID, actorID); err != nil {
			return err
		}

		target, err := repository.NewSQLiteUserRepo(tx).GetByID(ctx, req.UserID)
		if err != nil {
			return err
		}
		if err := convs.AddParticipant(ctx, conversationID, target.ID); err != nil {
			return err
		}

		systemMsg, err = s.writeSystemMessage(ctx, tx, conversationID, target.Name+" joined the conversation")
		if err != nil {
			return err
		}
		participants, err = convs.ListParticipants(ctx, conversationID)
		return err
	})
	if err != nil {
		return nil, err
	}

	// a cached "not a participant" would block the new member's join
	s.authz.Invalidate(conversationID, req.UserID)

	s.announceRoster(conversationID, participants, systemMsg)

	s.log.Info().
		Int64("conversation_id", conversationID).
		Int64("user_id", req.UserID).
		Int64("actor_id", actorID).
		Msg("participant added")
	return participants, nil
}

func (s *conversationService) Leave(ctx context.Context, userID, conversationID int64) error {
	unlock := s.locks.Lock(conversationID)
	defer unlock()

	var (
		systemMsg    *models.Message
		participants []models.Participant
	)
	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		convs := repository.NewSQLiteConversationRepo(tx)
		if err := requireParticipant(ctx, convs, conversationID, userID); err != nil {
			return err
		}

		user, err := repository.NewSQLiteUserRepo(tx).GetByID(ctx, userID)
		if err != nil {
			return err
		}
		if err := convs.RemoveParticipant(ctx, conversationID, userID); err != nil {
			return err
		}

		systemMsg, err = s.writeSystemMessage(ctx, tx, conversationID, user.Name+" left the conversation")
		if err != nil {
			return err
		}
		participants, err = convs.ListParticipants(ctx, conversationID)
		return err
	})
	if err != nil {
		return err
	}

	s.authz.Invalidate(conversationID, userID)
	if s.revoker != nil {
		s.revoker.RevokeUser(conversationID, userID)
	}

	s.announceRoster(conversationID, participants, systemMsg)

	s.log.Info().Int64("conversation_id", conversationID).Int64("user_id", userID).Msg("participant left")
	return nil
}

func (s *conversationService) writeSystemMessage(ctx context.Context, tx *sql.Tx, conversationID int64, content string) (*models.Message, error) {
	msg := &models.Message{
		ConversationID: conversationID,
		Type:           models.MessageSystem,
		Content:        content,
	}
	if err := repository.NewSQLiteMessageRepo(tx).Create(ctx, msg); err != nil {
		return nil, err
	}
	if err := repository.NewSQLiteConversationRepo(tx).Touch(ctx, conversationID); err != nil {
		return nil, err
	}
	return msg, nil
}

// announceRoster emits participants-updated followed by the system message.
// participants is the roster read inside the committing transaction. Caller
// holds the conversation lock.
func (s *conversationService) announceRoster(conversationID int64, participants []models.Participant, systemMsg *models.Message) {
	s.emitter.EmitAfterCommit(ws.ParticipantsUpdatedEvent(conversationID, participants))
	s.emitter.EmitAfterCommit(ws.NewMessageEvent(models.NewMessagePayload(systemMsg, nil, nil)))
}
