package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/lumipay/lumipay/internal/auth"
	"github.com/lumipay/lumipay/internal/httpx"
)

// JWTAuth verifies the bearer token and stores its subject as the request owner.
func JWTAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < 7 || !strings.EqualFold(authz[:7], "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		sub, err := auth.ParseAccessToken(strings.TrimSpace(authz[7:]), secret)
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		c.Locals(httpx.OwnerLocal, sub)
		return c.Next()
	}
}
