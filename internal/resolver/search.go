package resolver

import (
	"context"
	"strings"

	"github.com/nestpulse/presence-api/internal/domain"
	apperrors "github.com/nestpulse/presence-api/internal/errors"
	"github.com/nestpulse/presence-api/pkg/metrics"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// SearchUsers runs a case-insensitive username prefix search and merges in
// whether the caller follows each result. cursorToken continues a previous
// page; it is only accepted for the same normalized prefix that produced it.
func (r *Resolver) SearchUsers(ctx context.Context, callerID, prefix string, limit int, cursorToken string) (*domain.SearchResult, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}

	scope := searchScopePrefix + strings.ToLower(prefix)

	var after string
	if cursorToken != "" {
		var state searchCursorState
		if err := r.codec.Decode(cursorToken, scope, &state); err != nil {
			return nil, err
		}
		after = state.LastUsername
	}

	users, hasMore, err := r.store.SearchUsers(ctx, prefix, after, limit)
	if err != nil {
		return nil, err
	}

	metrics.RecordSearch()

	ids := make([]string, 0, len(users))
	for _, user := range users {
		if user.ID != callerID {
			ids = append(ids, user.ID)
		}
	}

	followed := map[string]bool{}
	if callerID != "" && len(ids) > 0 {
		if followed, err = r.store.FollowingSet(ctx, callerID, ids); err != nil {
			return nil, err
		}
	}

	views := make([]*domain.UserView, 0, len(users))
	for _, user := range users {
		views = append(views, &domain.UserView{
			User:         user,
			AllTimeScore: user.AllTimeScore,
			IsFollowed:   followed[user.ID],
		})
	}

	result := &domain.SearchResult{Users: views}

	if hasMore && len(users) > 0 {
		token, err := r.codec.Encode(scope, searchCursorState{
			LastUsername: strings.ToLower(users[len(users)-1].Username),
		})
		if err != nil {
			return nil, apperrors.NewUnavailable("cursor codec", err)
		}
		result.NextCursor = token
	}

	return result, nil
}
