package availability

import "errors"

var (
	ErrInvalidDuration     = errors.New("duration must be between 1 minute and 24 hours")
	ErrInvalidDate         = errors.New("date must be formatted as YYYY-MM-DD")
	ErrRangeTooLong        = errors.New("requested date range is too long")
	ErrOutsideAvailability = errors.New("requested time is outside the practitioner's working hours")
	ErrTooSoon             = errors.New("requested time is inside the minimum notice period")
	ErrTooFar              = errors.New("requested time is beyond the advance booking window")
	ErrDailyLimitReached   = errors.New("practitioner has no more appointments available on this day")
	ErrBusyUnavailable     = errors.New("external calendar is unavailable, try again later")
)
