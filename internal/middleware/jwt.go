package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/upi_settle/internal/auth"
)

const (
	// LocalAccountID holds the authenticated account id.
	LocalAccountID = "account_id"
	// LocalAccountKind holds the authenticated account kind.
	LocalAccountKind = "account_kind"
)

// TokenVerifier validates bearer access tokens.
type TokenVerifier interface {
	ParseAccess(token string) (auth.Claims, error)
}

// JWTAuth returns a middleware that validates access tokens and exposes the
// token's account through c.Locals.
func JWTAuth(tokens TokenVerifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		claims, err := tokens.ParseAccess(strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}

		c.Locals(LocalAccountID, claims.AccountID)
		c.Locals(LocalAccountKind, string(claims.Kind))
		return c.Next()
	}
}

// RequireSelf rejects requests whose :param does not name the token's account.
func RequireSelf(param string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, _ := c.Locals(LocalAccountID).(string)
		if id == "" || id != c.Params(param) {
			return fiber.NewError(http.StatusForbidden, "token does not grant access to this account")
		}
		return c.Next()
	}
}
