package httptransport

import (
	"errors"
	"net/http"

	"parlor/internal/session"
)

// errorStatus maps core errors onto the wire taxonomy. Concurrency
// losses (stale_move, conflict) are 409s the client resolves by
// re-syncing, not user mistakes.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, session.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, session.ErrAlreadyJoined):
		return http.StatusConflict, "already_joined"
	case errors.Is(err, session.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, session.ErrStaleMove):
		return http.StatusConflict, "stale_move"
	case errors.Is(err, session.ErrConflict):
		return http.StatusConflict, "conflict"
	}
	return http.StatusInternalServerError, "internal_error"
}

func writeError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	writeHTTPError(w, status, code)
}
