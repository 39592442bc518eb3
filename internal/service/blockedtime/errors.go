package blockedtime

import (
	"errors"

	"github.com/Alijeyrad/simorq_calendar/internal/service/conflict"
)

var (
	ErrNotFound          = errors.New("blocked time not found")
	ErrInvalidReason     = errors.New("invalid blocked time reason")
	ErrInvalidRecurrence = errors.New("invalid recurrence: frequency must be daily, weekly or monthly and end after the first occurrence")
	ErrOverlap           = errors.New("blocked time overlaps an existing blocked time")
	ErrImportedReadOnly  = errors.New("blocked time imported from the external calendar cannot be changed here")
)

// OverlapError carries the blocked intervals a new entry collides with.
type OverlapError struct {
	Conflicts []conflict.Conflict
}

func (e *OverlapError) Error() string { return ErrOverlap.Error() }
func (e *OverlapError) Unwrap() error { return ErrOverlap }
