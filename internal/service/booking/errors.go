package booking

import (
	"errors"

	"github.com/Alijeyrad/simorq_calendar/internal/service/conflict"
)

var (
	ErrNotFound          = errors.New("appointment not found")
	ErrConflict          = errors.New("requested time conflicts with an existing booking or blocked time")
	ErrInvalidTransition = errors.New("appointment cannot move to the requested status")
	ErrPolicyWindow      = errors.New("appointment starts too soon to be changed online")
	ErrBusy              = errors.New("calendar is busy, please retry")
	ErrMissingField      = errors.New("missing required field")
	ErrInvalidEmail      = errors.New("invalid email address")
	ErrInvalidPhone      = errors.New("invalid phone number")
	ErrInvalidDuration   = errors.New("appointment length must be a whole number of minutes")
)

// ConflictError lists what the requested interval collides with.
type ConflictError struct {
	Conflicts []conflict.Conflict
}

func (e *ConflictError) Error() string { return ErrConflict.Error() }
func (e *ConflictError) Unwrap() error { return ErrConflict }

// FieldError names the offending input.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Err.Error() }
func (e *FieldError) Unwrap() error { return e.Err }
