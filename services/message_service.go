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

// MessageService persists messages and announces them to the conversation.
type MessageService interface {
	// Send stores the message and returns the persisted payload, the same
	// shape that is broadcast as new-message.
	Send(ctx context.Context, senderID int64, req *models.CreateMessageRequest) (*models.MessagePayload, error)
}

type messageService struct {
	db      *sql.DB
	users   repository.UserRepository
	emitter EventEmitter
	locks   *ConversationLocks
	log     zerolog.Logger
}

// NewMessageService wires the service. emitter is never nil; with broadcast
// disabled it is an emitter without a publisher.
func NewMessageService(
	db *sql.DB,
	users repository.UserRepository,
	emitter EventEmitter,
	locks *ConversationLocks,
	log zerolog.Logger,
) MessageService {
	return &messageService{db: db, users: users, emitter: emitter, locks: locks, log: log}
}

func (s *messageService) Send(ctx context.Context, senderID int64, req *models.CreateMessageRequest) (*models.MessagePayload, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s", pkg.ErrBadRequest, err.Error())
	}

	sender, err := s.users.GetByID(ctx, senderID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(req.ConversationID)
	defer unlock()

	msg := &models.Message{
		ConversationID: req.ConversationID,
		SenderID:       &sender.ID,
		Type:           req.Type,
		Content:        req.Content,
	}

	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		convs := repository.NewSQLiteConversationRepo(tx)
		if err := requireParticipant(ctx, convs, req.ConversationID, senderID); err != nil {
			return err
		}
		if err := repository.NewSQLiteMessageRepo(tx).Create(ctx, msg); err != nil {
			return err
		}
		return convs.Touch(ctx, req.ConversationID)
	})
	if err != nil {
		return nil, err
	}

	payload := models.NewMessagePayload(msg, sender, nil)
	s.emitter.EmitAfterCommit(ws.NewMessageEvent(payload))

	s.log.Debug().
		Int64("conversation_id", msg.ConversationID).
		Int64("message_id", msg.ID).
		Str("type", string(msg.Type)).
		Msg("message sent")

	return &payload, nil
}

// requireParticipant distinguishes a missing conversation (not found) from
// one the user is not in (forbidden).
func requireParticipant(ctx context.Context, convs repository.ConversationRepository, conversationID, userID int64) error {
	if _, err := convs.GetByID(ctx, conversationID); err != nil {
		return err
	}
	ok, err := convs.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: you are not a participant of this conversation", pkg.ErrForbidden)
	}
	return nil
}

// senderLookup resolves message senders, caching within one request.
type senderLookup struct {
	users repository.UserRepository
	seen  map[int64]*models.User
}

func newSenderLookup(users repository.UserRepository) *senderLookup {
	return &senderLookup{users: users, seen: make(map[int64]*models.User)}
}

// payload joins msg with its sender. A sender whose account is gone renders
// like a system message.
func (l *senderLookup) payload(ctx context.Context, msg *models.Message, reactions []models.Reaction) (models.MessagePayload, error) {
	if msg.SenderID == nil {
		return models.NewMessagePayload(msg, nil, reactions), nil
	}

	u, ok := l.seen[*msg.SenderID]
	if !ok {
		var err error
		u, err = l.users.GetByID(ctx, *msg.SenderID)
		if err != nil && !errors.Is(err, pkg.ErrNotFound) {
			return models.MessagePayload{}, err
		}
		l.seen[*msg.SenderID] = u
	}
	return models.NewMessagePayload(msg, u, reactions), nil
}
