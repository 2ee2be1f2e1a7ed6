package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

const userIDLocal = "user_id"

// TokenVerifier yields the principal of a valid bearer token.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// UserResolver maps a principal to the internal user id.
type UserResolver interface {
	Resolve(ctx context.Context, principal string) (int64, error)
}

// Authenticate validates the bearer token and stores the resolved user id
// for RequireUser. Resolver failures go to the app error handler so store
// outages surface as 503 rather than 401.
func Authenticate(verifier TokenVerifier, resolver UserResolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < 7 || !strings.EqualFold(authz[:7], "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		principal, err := verifier.Verify(strings.TrimSpace(authz[7:]))
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		uid, err := resolver.Resolve(c.UserContext(), principal)
		if err != nil {
			return err
		}
		c.Locals(userIDLocal, uid)
		return c.Next()
	}
}

var errNoUser = errors.New("request is not authenticated")

// RequireUser returns the authenticated user id or a 401 error.
func RequireUser(c *fiber.Ctx) (int64, error) {
	uid, ok := c.Locals(userIDLocal).(int64)
	if !ok || uid <= 0 {
		return 0, fiber.NewError(http.StatusUnauthorized, errNoUser.Error())
	}
	return uid, nil
}
