package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/akinalp/convo/database"
	"github.com/akinalp/convo/models"
)

type sqliteReactionRepo struct {
	db database.TxQuerier
}

func NewSQLiteReactionRepo(db database.TxQuerier) ReactionRepository {
	return &sqliteReactionRepo{db: db}
}

// Toggle relies on UNIQUE(message_id, user_id, type): INSERT OR IGNORE adds the
// row when absent; zero affected rows means it existed and is deleted instead.
func (r *sqliteReactionRepo) Toggle(ctx context.Context, messageID, userID int64, reactionType models.ReactionType) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_reactions (message_id, user_id, type, created_at)
		VALUES (?, ?, ?, ?)`,
		messageID, userID, reactionType, time.Now().UTC(),
	)
	if err != nil {
		return false, fmt.Errorf("toggle reaction insert: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("toggle reaction rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return true, nil
	}

	_, err = r.db.ExecContext(ctx,
		`DELETE FROM message_reactions WHERE message_id = ? AND user_id = ? AND type = ?`,
		messageID, userID, reactionType,
	)
	if err != nil {
		return false, fmt.Errorf("toggle reaction delete: %w", err)
	}
	return false, nil
}

func (r *sqliteReactionRepo) ListByMessage(ctx context.Context, messageID int64) ([]models.Reaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, message_id, user_id, type
		FROM message_reactions
		WHERE message_id = ?
		ORDER BY id ASC`, messageID)
	if err != nil {
		return nil, fmt.Errorf("get reactions by message: %w", err)
	}
	defer rows.Close()

	out := []models.Reaction{}
	err = scanReactions(rows, func(rc models.Reaction) { out = append(out, rc) })
	return out, err
}

func (r *sqliteReactionRepo) ListByMessages(ctx context.Context, messageIDs []int64) (map[int64][]models.Reaction, error) {
	result := make(map[int64][]models.Reaction, len(messageIDs))
	if len(messageIDs) == 0 {
		return result, nil
	}

	placeholders := make([]string, len(messageIDs))
	args := make([]any, len(messageIDs))
	for i, id := range messageIDs {
		placeholders[i] = "?"
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT id, message_id, user_id, type
		FROM message_reactions
		WHERE message_id IN (%s)
		ORDER BY message_id, id ASC`,
		strings.Join(placeholders, ","))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("get reactions by message ids: %w", err)
	}
	defer rows.Close()

	err = scanReactions(rows, func(rc models.Reaction) {
		result[rc.MessageID] = append(result[rc.MessageID], rc)
	})
	return result, err
}

func scanReactions(rows *sql.Rows, fn func(models.Reaction)) error {
	for rows.Next() {
		var rc models.Reaction
		if err := rows.Scan(&rc.ID, &rc.MessageID, &rc.UserID, &rc.Type); err != nil {
			return fmt.Errorf("scan reaction: %w", err)
		}
		fn(rc)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate reaction rows: %w", err)
	}
	return nil
}
