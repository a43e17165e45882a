package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/nestpulse/presence-api/internal/domain"
	apperrors "github.com/nestpulse/presence-api/internal/errors"
)

const userColumns = `id, username, avatar, follower_count, following_count, all_time_score, last_accrued_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var (
		user          domain.User
		lastAccruedAt sql.NullTime
	)

	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.Avatar,
		&user.FollowerCount,
		&user.FollowingCount,
		&user.AllTimeScore,
		&lastAccruedAt,
		&user.CreatedAt,
	); err != nil {
		return nil, err
	}

	if lastAccruedAt.Valid {
		user.LastAccruedAt = lastAccruedAt.Time
	}

	return &user, nil
}

// CreateUser inserts the user record and its search entry in one transaction.
// A duplicate id or username fails with AlreadyExists and leaves nothing behind.
func (s *postgresStore) CreateUser(ctx context.Context, params CreateUserParams) (*domain.User, error) {
	user := &domain.User{
		ID:        params.ID,
		Username:  params.Username,
		Avatar:    params.Avatar,
		CreatedAt: time.Now().UTC(),
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		const insertUser = `
			INSERT INTO users (id, username, avatar, created_at)
			VALUES ($1, $2, $3, $4)
		`

		if _, err := tx.ExecContext(ctx, insertUser, user.ID, user.Username, user.Avatar, user.CreatedAt); err != nil {
			if isUniqueViolation(err) {
				return apperrors.NewAlreadyExists("user")
			}
			return fmt.Errorf("insert user: %w", err)
		}

		const insertEntry = `
			INSERT INTO search_entries (username_lower, user_id)
			VALUES ($1, $2)
		`

		if _, err := tx.ExecContext(ctx, insertEntry, strings.ToLower(user.Username), user.ID); err != nil {
			if isUniqueViolation(err) {
				return apperrors.NewAlreadyExists("username")
			}
			return fmt.Errorf("insert search entry: %w", err)
		}

		return nil
	})
	if err != nil {
		s.logError("create_user", err)
		return nil, err
	}

	return user, nil
}

// UserByID retrieves a user by their identifier.
func (s *postgresStore) UserByID(ctx context.Context, id string) (*domain.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)

	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFound("user")
		}

		s.logError("user_by_id", err)
		return nil, fmt.Errorf("select user by id: %w", err)
	}

	return user, nil
}

// UsersByIDs fetches the given users in one round trip, keyed by id. Missing
// ids are simply absent from the result.
func (s *postgresStore) UsersByIDs(ctx context.Context, ids []string) (map[string]*domain.User, error) {
	users := make(map[string]*domain.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}

	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = ANY($1)`, userColumns)

	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		s.logError("users_by_ids", err)
		return nil, fmt.Errorf("select users by ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users[user.ID] = user
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

// UpdateUserInfo mutates username and avatar. When the username changes the
// old search entry is removed and the new one inserted in the same
// transaction as the rename.
func (s *postgresStore) UpdateUserInfo(ctx context.Context, params UpdateUserInfoParams) (*domain.User, error) {
	var updated *domain.User

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1 FOR UPDATE`, userColumns)

		current, err := scanUser(tx.QueryRowContext(ctx, query, params.ID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperrors.NewNotFound("user")
			}
			return fmt.Errorf("select user for update: %w", err)
		}

		newUsername := current.Username
		if params.Username != "" {
			newUsername = params.Username
		}
		newAvatar := current.Avatar
		if params.Avatar != "" {
			newAvatar = params.Avatar
		}

		const update = `UPDATE users SET username = $2, avatar = $3 WHERE id = $1`
		if _, err := tx.ExecContext(ctx, update, params.ID, newUsername, newAvatar); err != nil {
			if isUniqueViolation(err) {
				return apperrors.NewAlreadyExists("username")
			}
			return fmt.Errorf("update user: %w", err)
		}

		oldLower, newLower := strings.ToLower(current.Username), strings.ToLower(newUsername)
		if oldLower != newLower {
			if _, err := tx.ExecContext(ctx, `DELETE FROM search_entries WHERE username_lower = $1`, oldLower); err != nil {
				return fmt.Errorf("delete old search entry: %w", err)
			}

			const insertEntry = `INSERT INTO search_entries (username_lower, user_id) VALUES ($1, $2)`
			if _, err := tx.ExecContext(ctx, insertEntry, newLower, params.ID); err != nil {
				if isUniqueViolation(err) {
					return apperrors.NewAlreadyExists("username")
				}
				return fmt.Errorf("insert new search entry: %w", err)
			}
		}

		current.Username = newUsername
		current.Avatar = newAvatar
		updated = current

		return nil
	})
	if err != nil {
		s.logError("update_user_info", err)
		return nil, err
	}

	return updated, nil
}

// UsernameExists reports whether the username is taken, case-insensitively.
func (s *postgresStore) UsernameExists(ctx context.Context, username string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM search_entries WHERE username_lower = $1)`

	var exists bool
	if err := s.db.QueryRowContext(ctx, query, strings.ToLower(username)).Scan(&exists); err != nil {
		s.logError("username_exists", err)
		return false, fmt.Errorf("check username: %w", err)
	}

	return exists, nil
}

// SaveAllTimeScore persists the accrued score and advances the accrual clock.
func (s *postgresStore) SaveAllTimeScore(ctx context.Context, userID string, score float64, accruedAt time.Time) error {
	const query = `UPDATE users SET all_time_score = $2, last_accrued_at = $3 WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query, userID, score, accruedAt)
	if err != nil {
		s.logError("save_all_time_score", err)
		return fmt.Errorf("save all-time score: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save all-time score rows affected: %w", err)
	}
	if affected == 0 {
		return apperrors.NewNotFound("user")
	}

	return nil
}

// AllScores streams every user's persisted all-time score for index rebuilds.
func (s *postgresStore) AllScores(ctx context.Context) ([]ScoreRow, error) {
	const query = `SELECT id, all_time_score FROM users`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		s.logError("all_scores", err)
		return nil, fmt.Errorf("select all scores: %w", err)
	}
	defer rows.Close()

	var scores []ScoreRow
	for rows.Next() {
		var row ScoreRow
		if err := rows.Scan(&row.UserID, &row.Score); err != nil {
			return nil, fmt.Errorf("scan score row: %w", err)
		}
		scores = append(scores, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scores: %w", err)
	}

	return scores, nil
}
