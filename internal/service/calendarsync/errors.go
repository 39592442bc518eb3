package calendarsync

import (
	"errors"
	"fmt"

	"github.com/Alijeyrad/simorq_calendar/pkg/gcal"
)

var (
	ErrSyncDisabled     = errors.New("calendar sync is disabled")
	ErrInvalidDirection = errors.New("invalid sync direction")
	ErrUnknownChannel   = errors.New("unknown webhook channel")
	ErrInvalidToken     = errors.New("webhook token mismatch")
	ErrWebhookDisabled  = errors.New("webhook address is not configured")
)

// ProviderError is a failed call to the external calendar.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("calendar provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the next scheduled run may succeed.
func (e *ProviderError) Retryable() bool { return gcal.IsRetryable(e.Err) }

func providerErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Op: op, Err: err}
}
