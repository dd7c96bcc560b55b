package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/akinalp/convo/database"
	"github.com/akinalp/convo/models"
	"github.com/akinalp/convo/pkg"
)

type sqliteConversationRepo struct {
	db database.TxQuerier
}

func NewSQLiteConversationRepo(db database.TxQuerier) ConversationRepository {
	return &sqliteConversationRepo{db: db}
}

func (r *sqliteConversationRepo) Create(ctx context.Context) (*models.Conversation, error) {
	now := time.Now().UTC()
	conv := &models.Conversation{CreatedAt: now, UpdatedAt: now}

	err := r.db.QueryRowContext(ctx,
		`INSERT INTO conversations (created_at, updated_at) VALUES (?, ?) RETURNING id`,
		now, now,
	).Scan(&conv.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

func (r *sqliteConversationRepo) GetByID(ctx context.Context, id int64) (*models.Conversation, error) {
	conv := &models.Conversation{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: conversation", pkg.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

func (r *sqliteConversationRepo) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return requireAffected(result, "conversation")
}

func (r *sqliteConversationRepo) Touch(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to touch conversation: %w", err)
	}
	return nil
}

func (r *sqliteConversationRepo) FindDirect(ctx context.Context, userA, userB int64) (*models.Conversation, error) {
	query := `
		SELECT c.id, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants a ON a.conversation_id = c.id AND a.user_id = ?
		JOIN conversation_participants b ON b.conversation_id = c.id AND b.user_id = ?
		WHERE (SELECT COUNT(*) FROM conversation_participants p WHERE p.conversation_id = c.id) = 2
		ORDER BY c.id ASC
		LIMIT 1`

	conv := &models.Conversation{}
	err := r.db.QueryRowContext(ctx, query, userA, userB).Scan(&conv.ID, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: conversation", pkg.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find direct conversation: %w", err)
	}
	return conv, nil
}

func (r *sqliteConversationRepo) ListForUser(ctx context.Context, userID int64) ([]models.Conversation, error) {
	query := `
		SELECT c.id, c.created_at, c.updated_at
		FROM conversations c
		JOIN conversation_participants p ON p.conversation_id = c.id
		WHERE p.user_id = ?
		ORDER BY c.updated_at DESC, c.id DESC`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	out := []models.Conversation{}
	for rows.Next() {
		var c models.Conversation
		if err := rows.Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conversations: %w", err)
	}
	return out, nil
}

func (r *sqliteConversationRepo) AddParticipant(ctx context.Context, conversationID, userID int64) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO conversation_participants (conversation_id, user_id, joined_at) VALUES (?, ?, ?)`,
		conversationID, userID, time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) || isPrimaryKeyViolation(err) {
			return fmt.Errorf("%w: user is already a participant", pkg.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to add participant: %w", err)
	}
	return nil
}

func (r *sqliteConversationRepo) RemoveParticipant(ctx context.Context, conversationID, userID int64) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM conversation_participants WHERE conversation_id = ? AND user_id = ?`,
		conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}
	return requireAffected(result, "participant")
}

func (r *sqliteConversationRepo) IsParticipant(ctx context.Context, conversationID, userID int64) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM conversation_participants WHERE conversation_id = ? AND user_id = ?)`,
		conversationID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}
	return exists, nil
}

func (r *sqliteConversationRepo) ListParticipants(ctx context.Context, conversationID int64) ([]models.Participant, error) {
	query := `
		SELECT u.id, u.name, u.avatar_url
		FROM conversation_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = ?
		ORDER BY p.joined_at ASC, u.id ASC`

	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	return scanParticipants(rows)
}

func requireAffected(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", pkg.ErrNotFound, what)
	}
	return nil
}
