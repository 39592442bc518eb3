package repo

import "errors"

var (
	ErrNotFound           = errors.New("record not found")
	ErrDuplicate          = errors.New("record already exists")
	ErrOverlap            = errors.New("interval overlaps an existing record")
	ErrStaleState         = errors.New("record changed concurrently")
	ErrInvalidInterval    = errors.New("start time must be before end time")
	ErrInvalidSetting     = errors.New("invalid calendar sync setting")
	ErrCredentialsMissing = errors.New("sync cannot be enabled without stored credentials")
	ErrInvalidTemplate    = errors.New("invalid weekly availability")
)

// IsNotFound reports whether err is (or wraps) ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
