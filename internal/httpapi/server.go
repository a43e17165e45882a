// Package httpapi exposes the resolver operations over a thin JSON boundary.
// Handlers parse and validate input, delegate to the resolver, and translate
// error kinds into HTTP statuses; no business rules live here.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/nestpulse/presence-api/internal/domain"
	apperrors "github.com/nestpulse/presence-api/internal/errors"
	"github.com/nestpulse/presence-api/internal/idempotency"
	"github.com/nestpulse/presence-api/internal/ratelimit"
	"github.com/nestpulse/presence-api/internal/resolver"
	"github.com/nestpulse/presence-api/internal/store"
	"github.com/nestpulse/presence-api/pkg/logger"
)

// headerUserID carries the authenticated caller's identifier. Authentication
// itself happens upstream; the service trusts the header.
const headerUserID = "X-User-Id"

// Service is the operation surface the handlers expose. *resolver.Resolver
// satisfies it.
type Service interface {
	CreateUser(ctx context.Context, params store.CreateUserParams) (*domain.User, error)
	UpdateUserInfo(ctx context.Context, params store.UpdateUserInfoParams) (*domain.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	CreateEvent(ctx context.Context, userID string, eventType domain.EventType, occurredAt time.Time) (*domain.PresenceEvent, error)
	Follow(ctx context.Context, callerID, targetID string) error
	Unfollow(ctx context.Context, callerID, targetID string) error
	FollowedUsers(ctx context.Context, userID string) ([]*domain.User, error)
	Followers(ctx context.Context, userID string) ([]*domain.User, error)
	GetCurrentUser(ctx context.Context, callerID string) (*domain.UserView, error)
	GetUser(ctx context.Context, callerID, targetID string) (*domain.UserView, error)
	SearchUsers(ctx context.Context, callerID, prefix string, limit int, cursorToken string) (*domain.SearchResult, error)
	LeaderboardRange(ctx context.Context, startRank, endRank int64) ([]domain.LeaderboardEntry, error)
}

var _ Service = (*resolver.Resolver)(nil)

// RateLimitConfig controls the per-caller request budget.
type RateLimitConfig struct {
	Enabled bool
	Limit   int
	Window  time.Duration
}

// Server wires the handlers, middleware chain and their collaborators.
type Server struct {
	service     Service
	idempotency idempotency.Manager
	limiter     ratelimit.Limiter
	rateLimit   RateLimitConfig
	errs        *apperrors.Handler
	log         *slog.Logger
}

// New constructs a Server. The idempotency manager and limiter may be nil,
// which disables the corresponding middleware.
func New(service Service, idem idempotency.Manager, limiter ratelimit.Limiter, rateLimit RateLimitConfig, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}

	return &Server{
		service:     service,
		idempotency: idem,
		limiter:     limiter,
		rateLimit:   rateLimit,
		errs:        apperrors.NewHandler(log, sentry.CurrentHub().Client() != nil),
		log:         log,
	}
}

// Handler assembles the route table with the shared middleware chain applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /users", s.handleCreateUser)
	mux.HandleFunc("GET /users/me", s.handleGetCurrentUser)
	mux.HandleFunc("PATCH /users/me", s.handleUpdateUserInfo)
	mux.HandleFunc("GET /users/me/following", s.handleFollowing)
	mux.HandleFunc("GET /users/me/followers", s.handleFollowers)
	mux.HandleFunc("GET /users/{id}", s.handleGetUser)
	mux.HandleFunc("POST /users/{id}/follow", s.handleFollow)
	mux.HandleFunc("DELETE /users/{id}/follow", s.handleUnfollow)
	mux.HandleFunc("GET /usernames/{username}", s.handleUsernameExists)
	mux.HandleFunc("POST /events", s.withIdempotency(s.handleCreateEvent))
	mux.HandleFunc("GET /search", s.handleSearch)
	mux.HandleFunc("GET /leaderboard", s.handleLeaderboard)

	var handler http.Handler = mux
	handler = s.rateLimitMiddleware(handler)
	handler = s.metricsMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = logger.Middleware(handler)

	return handler
}

// callerID extracts the authenticated user from the request, writing a 401
// when the header is absent.
func (s *Server) callerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.Header.Get(headerUserID)
	if id == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing " + headerUserID + " header"})
		return "", false
	}

	return id, true
}
