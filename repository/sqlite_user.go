package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/akinalp/convo/database"
	"github.com/akinalp/convo/models"
	"github.com/akinalp/convo/pkg"
)

type sqliteUserRepo struct {
	db database.TxQuerier
}

func NewSQLiteUserRepo(db database.TxQuerier) UserRepository {
	return &sqliteUserRepo{db: db}
}

func (r *sqliteUserRepo) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (username, name, avatar_url, password_hash)
		VALUES (?, ?, ?, ?)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		user.Username,
		user.Name,
		user.AvatarURL,
		user.PasswordHash,
	).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: username already taken", pkg.ErrAlreadyExists)
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *sqliteUserRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `
		SELECT id, username, name, avatar_url, password_hash, created_at
		FROM users WHERE id = ?`

	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *sqliteUserRepo) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	query := `
		SELECT id, username, name, avatar_url, password_hash, created_at
		FROM users WHERE username = ?`

	return r.scanOne(r.db.QueryRowContext(ctx, query, username))
}

func (r *sqliteUserRepo) scanOne(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.Username, &user.Name, &user.AvatarURL, &user.PasswordHash, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user", pkg.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (r *sqliteUserRepo) ListNotInConversation(ctx context.Context, conversationID int64) ([]models.Participant, error) {
	query := `
		SELECT u.id, u.name, u.avatar_url
		FROM users u
		WHERE u.id NOT IN (
			SELECT user_id FROM conversation_participants WHERE conversation_id = ?
		)
		ORDER BY u.name COLLATE NOCASE ASC`

	rows, err := r.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list available users: %w", err)
	}
	defer rows.Close()

	return scanParticipants(rows)
}

func scanParticipants(rows *sql.Rows) ([]models.Participant, error) {
	out := []models.Participant{}
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.AvatarURL); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate participants: %w", err)
	}
	return out, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isPrimaryKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "PRIMARY KEY")
}
