// Package resolver composes the store, caches, and score engine into the
// operations consumed by the boundary layer.
package resolver

import (
	"context"
	"log/slog"
	"time"

	"github.com/nestpulse/presence-api/internal/cursor"
	"github.com/nestpulse/presence-api/internal/domain"
	apperrors "github.com/nestpulse/presence-api/internal/errors"
	"github.com/nestpulse/presence-api/internal/eventcache"
	"github.com/nestpulse/presence-api/internal/rankcache"
	"github.com/nestpulse/presence-api/internal/scoring"
	"github.com/nestpulse/presence-api/internal/store"
	"github.com/nestpulse/presence-api/pkg/metrics"
)

// LatestEventCache is the fast path for the most recent presence event.
type LatestEventCache interface {
	Get(ctx context.Context, userID string) (*domain.PresenceEvent, error)
	Set(ctx context.Context, event *domain.PresenceEvent) error
}

// RankedScoreCache is the sorted all-time score index.
type RankedScoreCache interface {
	Save(ctx context.Context, userID string, score float64) error
	Score(ctx context.Context, userID string) (float64, error)
	Rank(ctx context.Context, userID string) (int64, error)
	Range(ctx context.Context, startRank, endRank int64) ([]rankcache.Entry, error)
}

var (
	_ LatestEventCache = (*eventcache.Cache)(nil)
	_ RankedScoreCache = (*rankcache.Cache)(nil)
)

const searchScopePrefix = "search:"

type searchCursorState struct {
	LastUsername string `json:"last_username"`
}

// Resolver orchestrates presence ingestion, scoring, the follow graph, search,
// and the leaderboard. All dependencies are injected; the resolver holds no
// global state and takes no locks — atomicity comes from the storage layer.
type Resolver struct {
	store   store.Store
	events  LatestEventCache
	ranks   RankedScoreCache
	codec   *cursor.Codec
	breaker *apperrors.CircuitBreaker
	log     *slog.Logger
	now     func() time.Time
}

// New constructs a Resolver. now may be nil, in which case time.Now is used.
func New(st store.Store, events LatestEventCache, ranks RankedScoreCache, codec *cursor.Codec, log *slog.Logger, now func() time.Time) *Resolver {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	return &Resolver{
		store:   st,
		events:  events,
		ranks:   ranks,
		codec:   codec,
		breaker: apperrors.NewCircuitBreaker(),
		log:     log,
		now:     now,
	}
}

// CreateUser registers a new user and seeds their leaderboard entry at zero.
func (r *Resolver) CreateUser(ctx context.Context, params store.CreateUserParams) (*domain.User, error) {
	if params.ID == "" || params.Username == "" {
		return nil, apperrors.NewInvalidArgument("user id and username are required")
	}

	user, err := r.store.CreateUser(ctx, params)
	if err != nil {
		return nil, err
	}

	if err := r.ranks.Save(ctx, user.ID, 0); err != nil {
		r.logError("create_user.seed_rank", user.ID, err)
	}

	return user, nil
}

// UpdateUserInfo changes username and/or avatar.
func (r *Resolver) UpdateUserInfo(ctx context.Context, params store.UpdateUserInfoParams) (*domain.User, error) {
	if params.ID == "" {
		return nil, apperrors.NewInvalidArgument("user id is required")
	}

	return r.store.UpdateUserInfo(ctx, params)
}

// UsernameExists reports whether a username is taken, case-insensitively.
func (r *Resolver) UsernameExists(ctx context.Context, username string) (bool, error) {
	return r.store.UsernameExists(ctx, username)
}

// CreateEvent ingests a presence transition. A repeat of the current state is
// an idempotent no-op returning the existing latest event. On an accepted
// transition away from HOME, the elapsed home time is accrued immediately so
// it is not lost between reads.
func (r *Resolver) CreateEvent(ctx context.Context, userID string, eventType domain.EventType, occurredAt time.Time) (*domain.PresenceEvent, error) {
	if !eventType.Valid() {
		return nil, apperrors.NewInvalidArgument("event type must be HOME or AWAY")
	}

	previous, err := r.latestEvent(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !domain.Transitions(previous, eventType) {
		metrics.RecordPresenceEvent(string(eventType), metrics.OutcomeDeduped)
		return previous, nil
	}

	event := domain.PresenceEvent{
		UserID:     userID,
		Type:       eventType,
		OccurredAt: occurredAt.UTC(),
	}

	if _, err := r.store.CreateEvent(ctx, event); err != nil {
		metrics.RecordPresenceEvent(string(eventType), metrics.OutcomeRejected)
		return nil, err
	}

	if err := r.events.Set(ctx, &event); err != nil {
		r.logError("create_event.cache_set", userID, err)
	}

	if previous != nil && previous.Type == domain.EventHome {
		user, err := r.store.UserByID(ctx, userID)
		if err != nil {
			r.logError("create_event.accrual_load", userID, err)
		} else if _, err := r.accrue(ctx, user, previous); err != nil {
			r.logError("create_event.accrual", userID, err)
		}
	}

	metrics.RecordPresenceEvent(string(eventType), metrics.OutcomeAccepted)

	return &event, nil
}

// Follow creates a follow edge from callerID to targetID.
func (r *Resolver) Follow(ctx context.Context, callerID, targetID string) error {
	if callerID == targetID {
		metrics.RecordFollowMutation("follow", "rejected")
		return apperrors.NewCannotFollowSelf()
	}

	if err := r.store.Follow(ctx, callerID, targetID); err != nil {
		metrics.RecordFollowMutation("follow", "error")
		return err
	}

	metrics.RecordFollowMutation("follow", "ok")
	return nil
}

// Unfollow removes the follow edge from callerID to targetID.
func (r *Resolver) Unfollow(ctx context.Context, callerID, targetID string) error {
	if callerID == targetID {
		metrics.RecordFollowMutation("unfollow", "rejected")
		return apperrors.NewCannotFollowSelf()
	}

	if err := r.store.Unfollow(ctx, callerID, targetID); err != nil {
		metrics.RecordFollowMutation("unfollow", "error")
		return err
	}

	metrics.RecordFollowMutation("unfollow", "ok")
	return nil
}

// FollowedUsers lists the users the given user follows, newest edge first.
func (r *Resolver) FollowedUsers(ctx context.Context, userID string) ([]*domain.User, error) {
	return r.store.FollowedUsers(ctx, userID)
}

// Followers lists the users following the given user, newest edge first.
func (r *Resolver) Followers(ctx context.Context, userID string) ([]*domain.User, error) {
	return r.store.Followers(ctx, userID)
}

// GetCurrentUser assembles the caller's own composite view.
func (r *Resolver) GetCurrentUser(ctx context.Context, callerID string) (*domain.UserView, error) {
	return r.GetUser(ctx, callerID, callerID)
}

// GetUser assembles the composite view of targetID as seen by callerID: the
// profile, the 24-hour score recomputed from the event window, the lazily
// accrued all-time score, the leaderboard rank, and whether the caller
// follows the target. The view is reconstructed per read, never persisted.
func (r *Resolver) GetUser(ctx context.Context, callerID, targetID string) (*domain.UserView, error) {
	now := r.now()
	since := now.Add(-scoring.Window)

	user, windowEvents, err := r.store.UserWithEventsSince(ctx, targetID, since)
	if err != nil {
		return nil, err
	}

	var latest *domain.PresenceEvent
	if len(windowEvents) > 0 {
		latest = &windowEvents[len(windowEvents)-1]
	} else if latest, err = r.latestEvent(ctx, targetID); err != nil {
		return nil, err
	}

	dayScore := scoring.DayScore(windowEvents, latest, now)

	allTime, err := r.accrue(ctx, user, latest)
	if err != nil {
		return nil, err
	}

	rank, err := r.ranks.Rank(ctx, targetID)
	if err != nil {
		r.logError("get_user.rank", targetID, err)
		rank = rankcache.UnrankedSentinel
	}

	isFollowed := false
	if callerID != "" && callerID != targetID {
		followed, err := r.store.FollowingSet(ctx, callerID, []string{targetID})
		if err != nil {
			return nil, err
		}
		isFollowed = followed[targetID]
	}

	return &domain.UserView{
		User:         user,
		DayScore:     dayScore,
		AllTimeScore: allTime,
		Rank:         int(rank),
		IsFollowed:   isFollowed,
	}, nil
}

// accrue applies the lazy all-time score protocol. While the user's latest
// event is HOME, the time elapsed since the later of that event and the last
// accrual is converted to points and persisted, and the accrual clock moves
// to now. While AWAY (or with no events) the stored score is returned as is.
//
// This is a read-then-write sequence with no lock: two concurrent reads of
// the same user can accrue from the same base and double-count the interval.
func (r *Resolver) accrue(ctx context.Context, user *domain.User, latest *domain.PresenceEvent) (float64, error) {
	if latest == nil || latest.Type != domain.EventHome {
		return user.AllTimeScore, nil
	}

	now := r.now()

	base := latest.OccurredAt
	if user.LastAccruedAt.After(base) {
		base = user.LastAccruedAt
	}

	delta := scoring.AccrualDelta(now.Sub(base))
	if delta <= 0 {
		return user.AllTimeScore, nil
	}

	newScore := user.AllTimeScore + delta
	if err := r.store.SaveAllTimeScore(ctx, user.ID, newScore, now); err != nil {
		return 0, err
	}

	user.AllTimeScore = newScore
	user.LastAccruedAt = now

	if err := r.ranks.Save(ctx, user.ID, newScore); err != nil {
		r.logError("accrue.rank_save", user.ID, err)
	}

	metrics.RecordAccrual(delta)

	return newScore, nil
}

// latestEvent reads the latest-event cache behind the circuit breaker and
// falls back to the store on miss or cache failure, repopulating the cache.
func (r *Resolver) latestEvent(ctx context.Context, userID string) (*domain.PresenceEvent, error) {
	var cached *domain.PresenceEvent
	cacheErr := r.breaker.Call(func() error {
		var err error
		cached, err = r.events.Get(ctx, userID)
		return err
	})
	if cacheErr == nil && cached != nil {
		return cached, nil
	}
	if cacheErr != nil {
		r.logError("latest_event.cache_get", userID, cacheErr)
	}

	latest, err := r.store.LatestEvent(ctx, userID)
	if err != nil {
		return nil, err
	}

	if latest != nil {
		if err := r.events.Set(ctx, latest); err != nil {
			r.logError("latest_event.cache_set", userID, err)
		}
	}

	return latest, nil
}

func (r *Resolver) logError(operation, userID string, err error) {
	if r == nil || r.log == nil || err == nil {
		return
	}

	r.log.Error("resolver operation failed",
		slog.String("operation", operation),
		slog.String("user_id", userID),
		slog.Any("error", err),
	)
}
