package middleware

import (
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Locals keys set by UserContextMiddleware.
const (
	LocalUserID     = "user_id"
	LocalUserHandle = "user_handle"
	LocalUserRoles  = "user_roles"
)

// UserContextMiddleware extracts the caller identity and roles set by the Gateway.
// Every route behind it acts on behalf of a user, so X-User-ID is required.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-ID"))
		if userID == "" {
			log.Printf("❌ [USER_CTX] X-User-ID required but missing on %s", c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID: request must come through gateway with auth context",
			})
		}

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			r = strings.ToLower(strings.TrimSpace(r))
			if r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals(LocalUserID, userID)
		c.Locals(LocalUserHandle, strings.TrimSpace(c.Get("X-User-Handle")))
		c.Locals(LocalUserRoles, roles)

		return c.Next()
	}
}

// HasRole reports whether the request carries one of roles.
func HasRole(c *fiber.Ctx, roles ...string) bool {
	have, _ := c.Locals(LocalUserRoles).([]string)
	for _, h := range have {
		for _, r := range roles {
			if h == r {
				return true
			}
		}
	}
	return false
}
