package resolver

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestpulse/presence-api/internal/cursor"
	"github.com/nestpulse/presence-api/internal/domain"
	apperrors "github.com/nestpulse/presence-api/internal/errors"
	"github.com/nestpulse/presence-api/internal/eventcache"
	"github.com/nestpulse/presence-api/internal/rankcache"
	"github.com/nestpulse/presence-api/internal/store"
)

// memStore is an in-memory store.Store used to exercise the resolver without
// PostgreSQL. failNext forces the next mutating call to fail so no-partial-
// effect behavior can be asserted.
type memStore struct {
	users    map[string]*domain.User
	events   map[string][]domain.PresenceEvent
	edges    map[[2]string]time.Time
	entries  map[string]string
	failNext error
}

func newMemStore() *memStore {
	return &memStore{
		users:   make(map[string]*domain.User),
		events:  make(map[string][]domain.PresenceEvent),
		edges:   make(map[[2]string]time.Time),
		entries: make(map[string]string),
	}
}

func (m *memStore) takeFault() error {
	err := m.failNext
	m.failNext = nil
	return err
}

func (m *memStore) CreateUser(_ context.Context, params store.CreateUserParams) (*domain.User, error) {
	if err := m.takeFault(); err != nil {
		return nil, err
	}
	if _, ok := m.users[params.ID]; ok {
		return nil, apperrors.NewAlreadyExists("user")
	}
	if _, ok := m.entries[strings.ToLower(params.Username)]; ok {
		return nil, apperrors.NewAlreadyExists("username")
	}

	user := &domain.User{ID: params.ID, Username: params.Username, Avatar: params.Avatar}
	m.users[params.ID] = user
	m.entries[strings.ToLower(params.Username)] = params.ID
	return cloneUser(user), nil
}

func (m *memStore) UserByID(_ context.Context, id string) (*domain.User, error) {
	user, ok := m.users[id]
	if !ok {
		return nil, apperrors.NewNotFound("user")
	}
	return cloneUser(user), nil
}

func (m *memStore) UsersByIDs(_ context.Context, ids []string) (map[string]*domain.User, error) {
	result := make(map[string]*domain.User, len(ids))
	for _, id := range ids {
		if user, ok := m.users[id]; ok {
			result[id] = cloneUser(user)
		}
	}
	return result, nil
}

func (m *memStore) UpdateUserInfo(_ context.Context, params store.UpdateUserInfoParams) (*domain.User, error) {
	if err := m.takeFault(); err != nil {
		return nil, err
	}
	user, ok := m.users[params.ID]
	if !ok {
		return nil, apperrors.NewNotFound("user")
	}
	if params.Username != "" && !strings.EqualFold(params.Username, user.Username) {
		lower := strings.ToLower(params.Username)
		if _, taken := m.entries[lower]; taken {
			return nil, apperrors.NewAlreadyExists("username")
		}
		delete(m.entries, strings.ToLower(user.Username))
		m.entries[lower] = user.ID
		user.Username = params.Username
	}
	if params.Avatar != "" {
		user.Avatar = params.Avatar
	}
	return cloneUser(user), nil
}

func (m *memStore) UsernameExists(_ context.Context, username string) (bool, error) {
	_, ok := m.entries[strings.ToLower(username)]
	return ok, nil
}

func (m *memStore) SaveAllTimeScore(_ context.Context, userID string, score float64, accruedAt time.Time) error {
	if err := m.takeFault(); err != nil {
		return err
	}
	user, ok := m.users[userID]
	if !ok {
		return apperrors.NewNotFound("user")
	}
	user.AllTimeScore = score
	user.LastAccruedAt = accruedAt
	return nil
}

func (m *memStore) CreateEvent(_ context.Context, event domain.PresenceEvent) (bool, error) {
	if err := m.takeFault(); err != nil {
		return false, err
	}
	for _, existing := range m.events[event.UserID] {
		if existing.Type == event.Type && existing.OccurredAt.Equal(event.OccurredAt) {
			return false, nil
		}
	}
	m.events[event.UserID] = append(m.events[event.UserID], event)
	return true, nil
}

func (m *memStore) LatestEvent(_ context.Context, userID string) (*domain.PresenceEvent, error) {
	events := m.events[userID]
	if len(events) == 0 {
		return nil, nil
	}
	latest := events[0]
	for _, event := range events[1:] {
		if event.OccurredAt.After(latest.OccurredAt) {
			latest = event
		}
	}
	return &latest, nil
}

func (m *memStore) UserWithEventsSince(ctx context.Context, userID string, since time.Time) (*domain.User, []domain.PresenceEvent, error) {
	user, err := m.UserByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	var window []domain.PresenceEvent
	for _, event := range m.events[userID] {
		if !event.OccurredAt.Before(since) {
			window = append(window, event)
		}
	}
	sort.Slice(window, func(i, j int) bool {
		return window[i].OccurredAt.Before(window[j].OccurredAt)
	})
	return user, window, nil
}

func (m *memStore) Follow(_ context.Context, followerID, followingID string) error {
	if err := m.takeFault(); err != nil {
		return err
	}
	key := [2]string{followerID, followingID}
	if _, ok := m.edges[key]; ok {
		return nil
	}
	follower, ok := m.users[followerID]
	if !ok {
		return apperrors.NewNotFound("user")
	}
	following, ok := m.users[followingID]
	if !ok {
		return apperrors.NewNotFound("user")
	}
	m.edges[key] = time.Now()
	follower.FollowingCount++
	following.FollowerCount++
	return nil
}

func (m *memStore) Unfollow(_ context.Context, followerID, followingID string) error {
	if err := m.takeFault(); err != nil {
		return err
	}
	key := [2]string{followerID, followingID}
	if _, ok := m.edges[key]; !ok {
		return nil
	}
	delete(m.edges, key)
	m.users[followerID].FollowingCount--
	m.users[followingID].FollowerCount--
	return nil
}

func (m *memStore) FollowedUsers(_ context.Context, userID string) ([]*domain.User, error) {
	var users []*domain.User
	for key := range m.edges {
		if key[0] == userID {
			users = append(users, cloneUser(m.users[key[1]]))
		}
	}
	return users, nil
}

func (m *memStore) Followers(_ context.Context, userID string) ([]*domain.User, error) {
	var users []*domain.User
	for key := range m.edges {
		if key[1] == userID {
			users = append(users, cloneUser(m.users[key[0]]))
		}
	}
	return users, nil
}

func (m *memStore) FollowingSet(_ context.Context, followerID string, candidateIDs []string) (map[string]bool, error) {
	followed := make(map[string]bool)
	for _, id := range candidateIDs {
		if _, ok := m.edges[[2]string{followerID, id}]; ok {
			followed[id] = true
		}
	}
	return followed, nil
}

func (m *memStore) SearchUsers(_ context.Context, prefix, afterUsername string, limit int) ([]*domain.User, bool, error) {
	lowerPrefix := strings.ToLower(prefix)
	var matched []string
	for lower := range m.entries {
		if strings.HasPrefix(lower, lowerPrefix) && lower > strings.ToLower(afterUsername) {
			matched = append(matched, lower)
		}
	}
	sort.Strings(matched)

	hasMore := len(matched) > limit
	if hasMore {
		matched = matched[:limit]
	}

	users := make([]*domain.User, 0, len(matched))
	for _, lower := range matched {
		users = append(users, cloneUser(m.users[m.entries[lower]]))
	}
	return users, hasMore, nil
}

func (m *memStore) AllScores(_ context.Context) ([]store.ScoreRow, error) {
	var rows []store.ScoreRow
	for id, user := range m.users {
		rows = append(rows, store.ScoreRow{UserID: id, Score: user.AllTimeScore})
	}
	return rows, nil
}

func (m *memStore) DeleteOrphanSearchEntries(_ context.Context) (int64, error) {
	return 0, nil
}

func cloneUser(user *domain.User) *domain.User {
	if user == nil {
		return nil
	}
	clone := *user
	return &clone
}

var _ store.Store = (*memStore)(nil)

type fixture struct {
	resolver *Resolver
	store    *memStore
	now      *time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	codec, err := cursor.NewCodec(base64.StdEncoding.EncodeToString(key))
	require.NoError(t, err)

	st := newMemStore()
	now := time.UnixMilli(86_400_000).UTC()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	fx := &fixture{store: st, now: &now}
	fx.resolver = New(st, eventcache.New(client), rankcache.New(client), codec, log, func() time.Time {
		return *fx.now
	})

	return fx
}

func (f *fixture) createUser(t *testing.T, id, username string) *domain.User {
	t.Helper()

	user, err := f.resolver.CreateUser(context.Background(), store.CreateUserParams{ID: id, Username: username})
	require.NoError(t, err)
	return user
}

func TestCreateUser_DuplicateIDFails(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.createUser(t, "u1", "alice")

	_, err := fx.resolver.CreateUser(ctx, store.CreateUserParams{ID: "u1", Username: "other"})
	assert.ErrorIs(t, err, &apperrors.AppError{Kind: apperrors.KindAlreadyExists})
}

func TestCreateEvent_DedupIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.createUser(t, "u1", "alice")

	first, err := fx.resolver.CreateEvent(ctx, "u1", domain.EventHome, time.UnixMilli(1_000).UTC())
	require.NoError(t, err)

	second, err := fx.resolver.CreateEvent(ctx, "u1", domain.EventHome, time.UnixMilli(2_000).UTC())
	require.NoError(t, err)

	// The repeat returns the existing latest event and stores nothing new.
	assert.True(t, first.OccurredAt.Equal(second.OccurredAt))
	assert.Equal(t, first.Type, second.Type)
	assert.Len(t, fx.store.events["u1"], 1)
}

func TestCreateEvent_TransitionIsStored(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.createUser(t, "u1", "alice")

	_, err := fx.resolver.CreateEvent(ctx, "u1", domain.EventHome, time.UnixMilli(1_000).UTC())
	require.NoError(t, err)

	_, err = fx.resolver.CreateEvent(ctx, "u1", domain.EventAway, time.UnixMilli(5_000).UTC())
	require.NoError(t, err)

	assert.Len(t, fx.store.events["u1"], 2)
}

func TestCreateEvent_LeavingHomeAccrues(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.createUser(t, "u1", "alice")

	_, err := fx.resolver.CreateEvent(ctx, "u1", domain.EventHome, time.UnixMilli(0).UTC())
	require.NoError(t, err)

	*fx.now = time.UnixMilli(10_000).UTC()
	_, err = fx.resolver.CreateEvent(ctx, "u1", domain.EventAway, *fx.now)
	require.NoError(t, err)

	// 10 000 ms at home / 10 = 1 000 points.
	assert.InDelta(t, 1_000.0, fx.store.users["u1"].AllTimeScore, 1e-9)
}

func TestCreateEvent_RejectsUnknownType(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.resolver.CreateEvent(context.Background(), "u1", domain.EventType("LOST"), time.Now())
	assert.ErrorIs(t, err, &apperrors.AppError{Kind: apperrors.KindInvalidArgument})
}

func TestGetUser_LazyAccrualAdvancesClock(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.createUser(t, "u1", "alice")

	_, err := fx.resolver.CreateEvent(ctx, "u1", domain.EventHome, time.UnixMilli(0).UTC())
	require.NoError(t, err)

	*fx.now = time.UnixMilli(50_000).UTC()

	view, err := fx.resolver.GetCurrentUser(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 5_000.0, view.AllTimeScore, 1e-9)

	// Same instant again: the interval must not be counted twice.
	view, err = fx.resolver.GetCurrentUser(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 5_000.0, view.AllTimeScore, 1e-9)

	// Later read accrues only the new interval.
	*fx.now = time.UnixMilli(60_000).UTC()
	view, err = fx.resolver.GetCurrentUser(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 6_000.0, view.AllTimeScore, 1e-9)
}

func TestGetUser_NoAccrualWhileAway(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.createUser(t, "u1", "alice")

	_, err := fx.resolver.CreateEvent(ctx, "u1", domain.EventAway, time.UnixMilli(0).UTC())
	require.NoError(t, err)

	*fx.now = time.UnixMilli(1_000_000).UTC()

	view, err := fx.resolver.GetCurrentUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0.0, view.AllTimeScore)
}

func TestGetUser_DayScoreFromWindow(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.createUser(t, "u1", "alice")

	_, err := fx.resolver.CreateEvent(ctx, "u1", domain.EventHome, time.UnixMilli(100_000).UTC())
	require.NoError(t, err)
	_, err = fx.resolver.CreateEvent(ctx, "u1", domain.EventAway, time.UnixMilli(200_000).UTC())
	require.NoError(t, err)

	view, err := fx.resolver.GetCurrentUser(ctx, "u1")
	require.NoError(t, err)
	assert.InDelta(t, 0.11574074074074073, view.DayScore, 1e-9)
}

func TestGetUser_UnknownUserIsNotFound(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.resolver.GetCurrentUser(context.Background(), "ghost")
	assert.ErrorIs(t, err, &apperrors.AppError{Kind: apperrors.KindNotFound})
}

func TestGetUser_IsFollowedFlag(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.createUser(t, "u1", "alice")
	fx.createUser(t, "u2", "bob")

	require.NoError(t, fx.resolver.Follow(ctx, "u1", "u2"))

	view, err := fx.resolver.GetUser(ctx, "u1", "u2")
	require.NoError(t, err)
	assert.True(t, view.IsFollowed)

	view, err = fx.resolver.GetUser(ctx, "u2", "u1")
	require.NoError(t, err)
	assert.False(t, view.IsFollowed)
}

func TestFollow_SelfIsRejectedWithoutMutation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.createUser(t, "u1", "alice")

	err := fx.resolver.Follow(ctx, "u1", "u1")
	assert.ErrorIs(t, err, &apperrors.AppError{Kind: apperrors.KindCannotFollowSelf})

	user := fx.store.users["u1"]
	assert.Equal(t, 0, user.FollowerCount)
	assert.Equal(t, 0, user.FollowingCount)
}

func TestFollow_FaultLeavesCountersUntouched(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.createUser(t, "u1", "alice")
	fx.createUser(t, "u2", "bob")

	fx.store.failNext = errors.New("transaction aborted")

	err := fx.resolver.Follow(ctx, "u1", "u2")
	assert.Error(t, err)
	assert.Equal(t, 0, fx.store.users["u1"].FollowingCount)
	assert.Equal(t, 0, fx.store.users["u2"].FollowerCount)
	assert.Empty(t, fx.store.edges)
}

func TestFollowUnfollow_CountersRoundTrip(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.createUser(t, "u1", "alice")
	fx.createUser(t, "u2", "bob")

	require.NoError(t, fx.resolver.Follow(ctx, "u1", "u2"))
	assert.Equal(t, 1, fx.store.users["u1"].FollowingCount)
	assert.Equal(t, 1, fx.store.users["u2"].FollowerCount)

	require.NoError(t, fx.resolver.Unfollow(ctx, "u1", "u2"))
	assert.Equal(t, 0, fx.store.users["u1"].FollowingCount)
	assert.Equal(t, 0, fx.store.users["u2"].FollowerCount)
}

func TestLeaderboardRange_CompetitionRanks(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	scores := []float64{900, 700, 700, 400, 400, 200}
	names := []string{"ua", "ub", "uc", "ud", "ue", "uf"}
	for i, id := range names {
		fx.createUser(t, id, id)
		fx.store.users[id].AllTimeScore = scores[i]
		require.NoError(t, fx.resolver.ranks.Save(ctx, id, scores[i]))
	}

	entries, err := fx.resolver.LeaderboardRange(ctx, 0, 5)
	require.NoError(t, err)
	require.Len(t, entries, 6)

	gotRanks := make([]int, 0, len(entries))
	for i, entry := range entries {
		gotRanks = append(gotRanks, entry.Rank)
		if i > 0 {
			assert.GreaterOrEqual(t, entries[i-1].Score, entry.Score)
		}
	}
	assert.Equal(t, []int{1, 2, 2, 4, 4, 6}, gotRanks)
}

func TestLeaderboardRange_DropsMissingProfiles(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.createUser(t, "u1", "alice")
	require.NoError(t, fx.resolver.ranks.Save(ctx, "u1", 100))
	require.NoError(t, fx.resolver.ranks.Save(ctx, "ghost", 500))

	entries, err := fx.resolver.LeaderboardRange(ctx, 0, 9)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "u1", entries[0].User.ID)
	assert.Equal(t, 1, entries[0].Rank)
}

func TestLeaderboardRange_InvalidRange(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.resolver.LeaderboardRange(context.Background(), 5, 2)
	assert.ErrorIs(t, err, &apperrors.AppError{Kind: apperrors.KindInvalidArgument})
}

func TestSearchUsers_PagesWithCursor(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	for _, name := range []string{"alice", "albert", "alfred", "bob"} {
		fx.createUser(t, "id-"+name, name)
	}

	page, err := fx.resolver.SearchUsers(ctx, "", "al", 2, "")
	require.NoError(t, err)
	require.Len(t, page.Users, 2)
	assert.Equal(t, "albert", page.Users[0].User.Username)
	assert.Equal(t, "alfred", page.Users[1].User.Username)
	require.NotEmpty(t, page.NextCursor)

	rest, err := fx.resolver.SearchUsers(ctx, "", "al", 2, page.NextCursor)
	require.NoError(t, err)
	require.Len(t, rest.Users, 1)
	assert.Equal(t, "alice", rest.Users[0].User.Username)
	assert.Empty(t, rest.NextCursor)
}

func TestSearchUsers_CursorBoundToPrefix(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	for _, name := range []string{"alice", "albert", "alfred"} {
		fx.createUser(t, "id-"+name, name)
	}

	page, err := fx.resolver.SearchUsers(ctx, "", "al", 2, "")
	require.NoError(t, err)
	require.NotEmpty(t, page.NextCursor)

	_, err = fx.resolver.SearchUsers(ctx, "", "bo", 2, page.NextCursor)
	assert.ErrorIs(t, err, &apperrors.AppError{Kind: apperrors.KindInvalidCursor})
}

func TestSearchUsers_MergesFollowFlags(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	fx.createUser(t, "caller", "zoe")
	fx.createUser(t, "id-alice", "alice")
	fx.createUser(t, "id-albert", "albert")
	require.NoError(t, fx.resolver.Follow(ctx, "caller", "id-alice"))

	page, err := fx.resolver.SearchUsers(ctx, "caller", "al", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Users, 2)

	byName := map[string]bool{}
	for _, view := range page.Users {
		byName[view.User.Username] = view.IsFollowed
	}
	assert.True(t, byName["alice"])
	assert.False(t, byName["albert"])
}

func TestLatestEvent_CacheMissFallsBackToStore(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.createUser(t, "u1", "alice")

	// Written directly to the store, bypassing the cache.
	fx.store.events["u1"] = []domain.PresenceEvent{{
		UserID:     "u1",
		Type:       domain.EventHome,
		OccurredAt: time.UnixMilli(1_000).UTC(),
	}}

	latest, err := fx.resolver.latestEvent(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, domain.EventHome, latest.Type)

	// Now cached: a repeated HOME dedups against it without a store write.
	event, err := fx.resolver.CreateEvent(ctx, "u1", domain.EventHome, time.UnixMilli(9_000).UTC())
	require.NoError(t, err)
	assert.True(t, event.OccurredAt.Equal(time.UnixMilli(1_000).UTC()))
	assert.Len(t, fx.store.events["u1"], 1)
}
