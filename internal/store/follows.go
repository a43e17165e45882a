package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/nestpulse/presence-api/internal/domain"
	apperrors "github.com/nestpulse/presence-api/internal/errors"
)

// Follow creates the edge and bumps both denormalized counters as a single
// atomic unit. An already-existing edge is a no-op and leaves the counters
// untouched.
func (s *postgresStore) Follow(ctx context.Context, followerID, followingID string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		const insertEdge = `
			INSERT INTO follow_edges (follower_id, following_id)
			VALUES ($1, $2)
			ON CONFLICT (follower_id, following_id) DO NOTHING
		`

		result, err := tx.ExecContext(ctx, insertEdge, followerID, followingID)
		if err != nil {
			return fmt.Errorf("insert follow edge: %w", err)
		}

		inserted, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert follow edge rows affected: %w", err)
		}
		if inserted == 0 {
			return nil
		}

		if err := adjustCounters(ctx, tx, followerID, followingID, +1); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		s.logError("follow", err)
		return err
	}

	return nil
}

// Unfollow removes the edge and decrements both counters atomically. A
// missing edge is a no-op.
func (s *postgresStore) Unfollow(ctx context.Context, followerID, followingID string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		const deleteEdge = `
			DELETE FROM follow_edges
			WHERE follower_id = $1 AND following_id = $2
		`

		result, err := tx.ExecContext(ctx, deleteEdge, followerID, followingID)
		if err != nil {
			return fmt.Errorf("delete follow edge: %w", err)
		}

		deleted, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete follow edge rows affected: %w", err)
		}
		if deleted == 0 {
			return nil
		}

		if err := adjustCounters(ctx, tx, followerID, followingID, -1); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		s.logError("unfollow", err)
		return err
	}

	return nil
}

func adjustCounters(ctx context.Context, tx *sql.Tx, followerID, followingID string, delta int) error {
	const updateFollowing = `UPDATE users SET following_count = following_count + $2 WHERE id = $1`
	if err := execExpectingOneRow(ctx, tx, updateFollowing, followerID, delta); err != nil {
		return fmt.Errorf("update following count: %w", err)
	}

	const updateFollower = `UPDATE users SET follower_count = follower_count + $2 WHERE id = $1`
	if err := execExpectingOneRow(ctx, tx, updateFollower, followingID, delta); err != nil {
		return fmt.Errorf("update follower count: %w", err)
	}

	return nil
}

func execExpectingOneRow(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected != 1 {
		return apperrors.NewNotFound("user")
	}

	return nil
}

// FollowedUsers returns the hydrated users the given user follows, newest
// edge first.
func (s *postgresStore) FollowedUsers(ctx context.Context, userID string) ([]*domain.User, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM follow_edges e
		JOIN users u ON u.id = e.following_id
		WHERE e.follower_id = $1
		ORDER BY e.created_at DESC
	`, prefixedUserColumns("u"))

	return s.queryUsers(ctx, "followed_users", query, userID)
}

// Followers returns the hydrated users following the given user, newest edge
// first.
func (s *postgresStore) Followers(ctx context.Context, userID string) ([]*domain.User, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM follow_edges e
		JOIN users u ON u.id = e.follower_id
		WHERE e.following_id = $1
		ORDER BY e.created_at DESC
	`, prefixedUserColumns("u"))

	return s.queryUsers(ctx, "followers", query, userID)
}

// FollowingSet reports which of candidateIDs the follower currently follows.
func (s *postgresStore) FollowingSet(ctx context.Context, followerID string, candidateIDs []string) (map[string]bool, error) {
	followed := make(map[string]bool, len(candidateIDs))
	if len(candidateIDs) == 0 {
		return followed, nil
	}

	const query = `
		SELECT following_id
		FROM follow_edges
		WHERE follower_id = $1 AND following_id = ANY($2)
	`

	rows, err := s.db.QueryContext(ctx, query, followerID, pq.Array(candidateIDs))
	if err != nil {
		s.logError("following_set", err)
		return nil, fmt.Errorf("select following set: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan following id: %w", err)
		}
		followed[id] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate following set: %w", err)
	}

	return followed, nil
}

func (s *postgresStore) queryUsers(ctx context.Context, operation, query string, args ...any) ([]*domain.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.logError(operation, err)
		return nil, fmt.Errorf("%s: %w", operation, err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}

	return users, nil
}

func prefixedUserColumns(alias string) string {
	return fmt.Sprintf(
		"%[1]s.id, %[1]s.username, %[1]s.avatar, %[1]s.follower_count, %[1]s.following_count, %[1]s.all_time_score, %[1]s.last_accrued_at, %[1]s.created_at",
		alias,
	)
}
