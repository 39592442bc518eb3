package calendarsync

import (
	"github.com/Alijeyrad/simorq_calendar/pkg/constants"
	"github.com/Alijeyrad/simorq_calendar/pkg/crypto"
	"github.com/Alijeyrad/simorq_calendar/pkg/util/codes"
)

const (
	pushLockPrefix = constants.RedisKeyPushLock
	pullLockPrefix = constants.RedisKeyPullLock
)

// Channel tokens are stored hashed; the provider echoes the plaintext in
// every notification.
func newChannelToken() (string, error) {
	return codes.GenerateSecureToken(24)
}

func hashToken(token string) string {
	return crypto.Hash(token)
}

func tokenMatches(hashed, token string) bool {
	if hashed == "" {
		return token == ""
	}
	return crypto.Equal(hashed, token)
}
