package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Alijeyrad/simorq_calendar/pkg/constants"
	pasetotoken "github.com/Alijeyrad/simorq_calendar/pkg/paseto"
	"github.com/Alijeyrad/simorq_calendar/pkg/reqctx"
)

// AuthRequired validates a Bearer PASETO access token issued by the identity
// service. The token subject is the practitioner. When rdb is set, the
// session id in the token must still exist in Redis.
// On success, stores *pasetotoken.Claims in c.Locals(pasetotoken.CtxKeyClaims).
func AuthRequired(mgr *pasetotoken.Manager, rdb *redis.Client) fiber.Handler {
	return func(c fiber.Ctx) error {
		h := c.Get("Authorization")
		if h == "" {
			return fiber.ErrUnauthorized
		}

		parts := strings.SplitN(h, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return fiber.ErrUnauthorized
		}

		claims, err := mgr.Verify(strings.TrimSpace(parts[1]))
		if err != nil {
			return fiber.ErrUnauthorized
		}

		// Only practitioner access tokens are accepted on protected routes
		if !claims.IsPractitioner() || claims.UserID == uuid.Nil {
			return fiber.ErrUnauthorized
		}

		if rdb != nil && claims.SessionID != nil {
			key := constants.RedisKeySession + claims.SessionID.String()
			if err := rdb.Get(c.Context(), key).Err(); err != nil {
				return fiber.ErrUnauthorized
			}
		}

		c.Locals(pasetotoken.CtxKeyClaims, claims)
		c.SetContext(reqctx.WithClaims(c.Context(), claims))
		return c.Next()
	}
}

// PractitionerID returns the authenticated practitioner.
func PractitionerID(c fiber.Ctx) (uuid.UUID, bool) {
	claims, ok := pasetotoken.ClaimsFromFiber(c)
	if !ok || claims == nil || claims.UserID == uuid.Nil {
		return uuid.Nil, false
	}
	return claims.UserID, true
}
