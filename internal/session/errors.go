package session

import "errors"

var (
	ErrNotFound      = errors.New("not_found")
	ErrInvalidState  = errors.New("invalid_state")
	ErrStaleMove     = errors.New("stale_move")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyJoined = errors.New("already_joined")
	ErrValidation    = errors.New("validation_error")
)
