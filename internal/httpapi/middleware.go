package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/nestpulse/presence-api/internal/idempotency"
	"github.com/nestpulse/presence-api/pkg/logger"
	"github.com/nestpulse/presence-api/pkg/metrics"
)

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}

		s.log.Info(
			"handled http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
			slog.String("correlation_id", logger.CorrelationIDFromContext(r.Context())),
		)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)

		operation := r.Method + " " + r.Pattern
		if r.Pattern == "" {
			operation = r.Method + " " + r.URL.Path
		}

		status := "ok"
		if recorder.status >= http.StatusBadRequest {
			status = "error"
		}

		metrics.RecordOperation(operation, status, time.Since(start))
	})
}

// rateLimitMiddleware enforces a per-caller sliding-window budget. Limiter
// failures fail open so Redis trouble does not take the API down with it.
func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.rateLimit.Enabled || s.limiter == nil {
			next.ServeHTTP(w, r)
			return
		}

		callerID := r.Header.Get(headerUserID)
		if callerID == "" {
			next.ServeHTTP(w, r)
			return
		}

		result, err := s.limiter.Check(r.Context(), "user:"+callerID, s.rateLimit.Limit, s.rateLimit.Window)
		if err != nil {
			s.log.Warn("rate limiter unavailable", slog.String("user_id", callerID), slog.Any("error", err))
			next.ServeHTTP(w, r)
			return
		}

		if !result.Allowed {
			s.log.Warn("rate limit exceeded", slog.String("user_id", callerID))
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

// cachedResponse is the replayable portion of an ingest response.
type cachedResponse struct {
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// withIdempotency makes event ingestion safe to retry: requests carrying an
// Idempotency-Key header execute at most once per key, with the recorded
// response replayed to duplicates.
func (s *Server) withIdempotency(next http.HandlerFunc) http.HandlerFunc {
	if s.idempotency == nil {
		return next
	}

	return func(w http.ResponseWriter, r *http.Request) {
		rawKey := r.Header.Get("Idempotency-Key")
		if rawKey == "" {
			next(w, r)
			return
		}

		key := idempotency.GenerateKey(r.Header.Get(headerUserID), rawKey)

		result, err := s.idempotency.Execute(r.Context(), key, 24*time.Hour, func(ctx context.Context) (interface{}, error) {
			recorder := httptest.NewRecorder()
			next(recorder, r.WithContext(ctx))

			return cachedResponse{
				Status: recorder.Code,
				Body:   json.RawMessage(recorder.Body.Bytes()),
			}, nil
		})
		if err != nil {
			if errors.Is(err, idempotency.ErrRequestInProgress) {
				writeJSON(w, http.StatusConflict, errorBody{Error: "request with this key is already in progress"})
				return
			}

			s.log.Error("idempotent ingest failed", slog.String("key", key), slog.Any("error", err))
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
			return
		}

		// Fresh and replayed results take the same path: re-encode the stored
		// response envelope and write it through.
		encoded, err := json.Marshal(result.Response)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
			return
		}

		var response cachedResponse
		if err := json.Unmarshal(encoded, &response); err != nil {
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if result.FromCache {
			w.Header().Set("Idempotency-Replayed", "true")
		}
		w.WriteHeader(response.Status)
		_, _ = w.Write(response.Body)
	}
}
