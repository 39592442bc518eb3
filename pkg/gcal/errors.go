package gcal

import (
	"errors"
	"net/http"

	"google.golang.org/api/googleapi"
)

var ErrInvalidEvent = errors.New("event must have a start before its end")

// StatusCode returns the HTTP status of a provider error, or 0.
func StatusCode(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}

// IsGone reports whether the event or channel no longer exists remotely.
func IsGone(err error) bool {
	code := StatusCode(err)
	return code == http.StatusNotFound || code == http.StatusGone
}

// IsRetryable reports whether a later attempt may succeed.
func IsRetryable(err error) bool {
	code := StatusCode(err)
	switch {
	case code == 0:
		return true
	case code == http.StatusTooManyRequests, code >= 500:
		return true
	case code == http.StatusForbidden:
		var gerr *googleapi.Error
		if errors.As(err, &gerr) {
			for _, item := range gerr.Errors {
				if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
					return true
				}
			}
		}
	}
	return false
}
