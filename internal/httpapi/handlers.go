package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/nestpulse/presence-api/internal/domain"
	apperrors "github.com/nestpulse/presence-api/internal/errors"
	"github.com/nestpulse/presence-api/internal/rankcache"
	"github.com/nestpulse/presence-api/internal/store"
)

type userPayload struct {
	ID             string    `json:"id"`
	Username       string    `json:"username"`
	Avatar         string    `json:"avatar,omitempty"`
	FollowerCount  int       `json:"follower_count"`
	FollowingCount int       `json:"following_count"`
	AllTimeScore   float64   `json:"all_time_score"`
	CreatedAt      time.Time `json:"created_at"`
}

type userViewPayload struct {
	userPayload
	DayScore   float64 `json:"day_score"`
	Rank       *int    `json:"rank,omitempty"`
	IsFollowed bool    `json:"is_followed"`
}

type eventPayload struct {
	UserID     string    `json:"user_id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
}

type leaderboardEntryPayload struct {
	userPayload
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

func toUserPayload(u *domain.User) userPayload {
	return userPayload{
		ID:             u.ID,
		Username:       u.Username,
		Avatar:         u.Avatar,
		FollowerCount:  u.FollowerCount,
		FollowingCount: u.FollowingCount,
		AllTimeScore:   u.AllTimeScore,
		CreatedAt:      u.CreatedAt,
	}
}

func toUserViewPayload(v *domain.UserView) userViewPayload {
	payload := userViewPayload{
		userPayload: toUserPayload(v.User),
		DayScore:    v.DayScore,
		IsFollowed:  v.IsFollowed,
	}
	payload.AllTimeScore = v.AllTimeScore

	if v.Rank != rankcache.UnrankedSentinel {
		rank := v.Rank
		payload.Rank = &rank
	}

	return payload
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		s.writeError(w, r, apperrors.NewInvalidArgument("malformed request body"))
		return false
	}
	return true
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Avatar   string `json:"avatar"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}
	if body.ID == "" || body.Username == "" {
		s.writeError(w, r, apperrors.NewInvalidArgument("id and username are required"))
		return
	}

	user, err := s.service.CreateUser(r.Context(), store.CreateUserParams{
		ID:       body.ID,
		Username: body.Username,
		Avatar:   body.Avatar,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserPayload(user))
}

func (s *Server) handleUpdateUserInfo(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.callerID(w, r)
	if !ok {
		return
	}

	var body struct {
		Username string `json:"username"`
		Avatar   string `json:"avatar"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}
	if body.Username == "" && body.Avatar == "" {
		s.writeError(w, r, apperrors.NewInvalidArgument("nothing to update"))
		return
	}

	user, err := s.service.UpdateUserInfo(r.Context(), store.UpdateUserInfoParams{
		ID:       callerID,
		Username: body.Username,
		Avatar:   body.Avatar,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserPayload(user))
}

func (s *Server) handleUsernameExists(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	if username == "" {
		s.writeError(w, r, apperrors.NewInvalidArgument("username is required"))
		return
	}

	exists, err := s.service.UsernameExists(r.Context(), username)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.callerID(w, r)
	if !ok {
		return
	}

	var body struct {
		Type       string     `json:"type"`
		OccurredAt *time.Time `json:"occurred_at"`
	}
	if !s.decodeBody(w, r, &body) {
		return
	}

	occurredAt := time.Now().UTC()
	if body.OccurredAt != nil {
		occurredAt = body.OccurredAt.UTC()
	}

	event, err := s.service.CreateEvent(r.Context(), callerID, domain.EventType(body.Type), occurredAt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	payload := eventPayload{UserID: event.UserID, Type: string(event.Type), OccurredAt: event.OccurredAt}
	writeJSON(w, http.StatusAccepted, payload)
}

func (s *Server) handleGetCurrentUser(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.callerID(w, r)
	if !ok {
		return
	}

	view, err := s.service.GetCurrentUser(r.Context(), callerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserViewPayload(view))
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.callerID(w, r)
	if !ok {
		return
	}

	view, err := s.service.GetUser(r.Context(), callerID, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserViewPayload(view))
}

func (s *Server) handleFollow(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.callerID(w, r)
	if !ok {
		return
	}

	if err := s.service.Follow(r.Context(), callerID, r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnfollow(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.callerID(w, r)
	if !ok {
		return
	}

	if err := s.service.Unfollow(r.Context(), callerID, r.PathValue("id")); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFollowing(w http.ResponseWriter, r *http.Request) {
	s.handleUserList(w, r, s.service.FollowedUsers)
}

func (s *Server) handleFollowers(w http.ResponseWriter, r *http.Request) {
	s.handleUserList(w, r, s.service.Followers)
}

func (s *Server) handleUserList(w http.ResponseWriter, r *http.Request, list func(ctx context.Context, userID string) ([]*domain.User, error)) {
	callerID, ok := s.callerID(w, r)
	if !ok {
		return
	}

	users, err := list(r.Context(), callerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	payload := make([]userPayload, 0, len(users))
	for _, u := range users {
		payload = append(payload, toUserPayload(u))
	}

	writeJSON(w, http.StatusOK, map[string]any{"users": payload})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	callerID, ok := s.callerID(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	prefix := query.Get("q")
	if prefix == "" {
		s.writeError(w, r, apperrors.NewInvalidArgument("q is required"))
		return
	}

	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, r, apperrors.NewInvalidArgument("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	result, err := s.service.SearchUsers(r.Context(), callerID, prefix, limit, query.Get("cursor"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	users := make([]userViewPayload, 0, len(result.Users))
	for _, v := range result.Users {
		users = append(users, toUserViewPayload(v))
	}

	response := map[string]any{"users": users}
	if result.NextCursor != "" {
		response["next_cursor"] = result.NextCursor
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.callerID(w, r); !ok {
		return
	}

	query := r.URL.Query()
	start, err := strconv.ParseInt(query.Get("start"), 10, 64)
	if err != nil {
		s.writeError(w, r, apperrors.NewInvalidArgument("start must be an integer"))
		return
	}
	end, err := strconv.ParseInt(query.Get("end"), 10, 64)
	if err != nil {
		s.writeError(w, r, apperrors.NewInvalidArgument("end must be an integer"))
		return
	}

	entries, err := s.service.LeaderboardRange(r.Context(), start, end)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	payload := make([]leaderboardEntryPayload, 0, len(entries))
	for _, entry := range entries {
		payload = append(payload, leaderboardEntryPayload{
			userPayload: toUserPayload(entry.User),
			Score:       entry.Score,
			Rank:        entry.Rank,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": payload})
}
