package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/nestpulse/presence-api/internal/errors"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps application error kinds onto HTTP statuses. Server-side
// failures go through the error handler for severity logging and Sentry;
// unclassified errors become opaque 500s so internals never leak to callers.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		s.errs.Handle(r.Context(), err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}

	status := http.StatusInternalServerError
	switch appErr.Kind {
	case apperrors.KindAlreadyExists:
		status = http.StatusConflict
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindCannotFollowSelf, apperrors.KindInvalidCursor, apperrors.KindInvalidArgument:
		status = http.StatusBadRequest
	case apperrors.KindUnavailable:
		status = http.StatusServiceUnavailable
	}

	if status >= http.StatusInternalServerError {
		s.errs.Handle(r.Context(), err)
	}

	writeJSON(w, status, errorBody{Error: appErr.Message, Kind: string(appErr.Kind)})
}
