package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/akinalp/convo/database"
	"github.com/akinalp/convo/models"
	"github.com/akinalp/convo/pkg"
)

type sqliteMessageRepo struct {
	db database.TxQuerier
}

func NewSQLiteMessageRepo(db database.TxQuerier) MessageRepository {
	return &sqliteMessageRepo{db: db}
}

func (r *sqliteMessageRepo) Create(ctx context.Context, msg *models.Message) error {
	msg.CreatedAt = time.Now().UTC()

	err := r.db.QueryRowContext(ctx, `
		INSERT INTO messages (conversation_id, sender_id, type, content, created_at)
		VALUES (?, ?, ?, ?, ?)
		RETURNING id`,
		msg.ConversationID, msg.SenderID, msg.Type, msg.Content, msg.CreatedAt,
	).Scan(&msg.ID)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

func (r *sqliteMessageRepo) GetByID(ctx context.Context, id int64) (*models.Message, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender_id, type, content, created_at
		FROM messages WHERE id = ?`, id)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: message", pkg.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return msg, nil
}

func (r *sqliteMessageRepo) ListByConversation(ctx context.Context, conversationID int64, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 200
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, type, content, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY id DESC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	out := []models.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		out = append(out, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}

	slices.Reverse(out)
	return out, nil
}

func (r *sqliteMessageRepo) Last(ctx context.Context, conversationID int64) (*models.Message, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender_id, type, content, created_at
		FROM messages WHERE conversation_id = ?
		ORDER BY id DESC LIMIT 1`, conversationID)

	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: message", pkg.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get last message: %w", err)
	}
	return msg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	var senderID sql.NullInt64
	if err := row.Scan(&msg.ID, &msg.ConversationID, &senderID, &msg.Type, &msg.Content, &msg.CreatedAt); err != nil {
		return nil, err
	}
	if senderID.Valid {
		id := senderID.Int64
		msg.SenderID = &id
	}
	msg.CreatedAt = msg.CreatedAt.UTC()
	return msg, nil
}
