package notification

import "errors"

var (
	ErrNoTemplate  = errors.New("no notification for this action")
	ErrNoRecipient = errors.New("appointment has no reachable recipient")
)
