package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/sol1corejz/sendcent/internal/identity"
	"github.com/sol1corejz/sendcent/internal/models"
)

const (
	UserKey  = "user"
	TokenKey = "token"
)

func Auth(ident *identity.Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearer(c.Get("Authorization"))
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}

		user, err := ident.Authenticate(c.Context(), token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		c.Locals(UserKey, user)
		c.Locals(TokenKey, token)

		return c.Next()
	}
}

// CallerFromContext returns the authenticated user attached by Auth.
func CallerFromContext(c *fiber.Ctx) models.User {
	user, _ := c.Locals(UserKey).(models.User)
	return user
}

func extractBearer(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
