// Package store implements the durable presence event store on PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/nestpulse/presence-api/internal/domain"
)

// pq error code for unique constraint violations.
const uniqueViolation = "23505"

// CreateUserParams carries the fields accepted when registering a user.
type CreateUserParams struct {
	ID       string
	Username string
	Avatar   string
}

// UpdateUserInfoParams carries a profile mutation. Empty fields are left
// untouched.
type UpdateUserInfoParams struct {
	ID       string
	Username string
	Avatar   string
}

// ScoreRow pairs a user with their persisted all-time score.
type ScoreRow struct {
	UserID string
	Score  float64
}

// Store defines persistence operations for users, presence events, the follow
// graph, and the username search index.
type Store interface {
	CreateUser(ctx context.Context, params CreateUserParams) (*domain.User, error)
	UserByID(ctx context.Context, id string) (*domain.User, error)
	UsersByIDs(ctx context.Context, ids []string) (map[string]*domain.User, error)
	UpdateUserInfo(ctx context.Context, params UpdateUserInfoParams) (*domain.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	SaveAllTimeScore(ctx context.Context, userID string, score float64, accruedAt time.Time) error

	CreateEvent(ctx context.Context, event domain.PresenceEvent) (bool, error)
	LatestEvent(ctx context.Context, userID string) (*domain.PresenceEvent, error)
	UserWithEventsSince(ctx context.Context, userID string, since time.Time) (*domain.User, []domain.PresenceEvent, error)

	Follow(ctx context.Context, followerID, followingID string) error
	Unfollow(ctx context.Context, followerID, followingID string) error
	FollowedUsers(ctx context.Context, userID string) ([]*domain.User, error)
	Followers(ctx context.Context, userID string) ([]*domain.User, error)
	FollowingSet(ctx context.Context, followerID string, candidateIDs []string) (map[string]bool, error)

	SearchUsers(ctx context.Context, prefix, afterUsername string, limit int) ([]*domain.User, bool, error)

	AllScores(ctx context.Context) ([]ScoreRow, error)
	DeleteOrphanSearchEntries(ctx context.Context) (int64, error)
}

type postgresStore struct {
	db  *sql.DB
	log *slog.Logger
}

// New creates a SQL-backed presence event store.
func New(db *sql.DB, log *slog.Logger) Store {
	return &postgresStore{
		db:  db,
		log: log,
	}
}

// inTx runs fn inside a transaction, rolling back on any error so multi-record
// mutations are never observed partially applied.
func (s *postgresStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logError("tx.rollback", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func (s *postgresStore) logError(operation string, err error) {
	if s == nil || s.log == nil || err == nil {
		return
	}

	s.log.Error("store operation failed",
		slog.String("operation", operation),
		slog.Any("error", err),
	)
}
