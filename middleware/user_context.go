// middleware/user_context.go
package middleware

import (
	"os"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// UserContextMiddleware extracts the acting principal and their role
// ids, forwarded by the Gateway as headers.
func UserContextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-ID")
		if userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing X-User-ID — request must come through gateway with auth context",
			})
		}

		var roles []string
		for _, r := range strings.Split(c.Get("X-User-Roles"), ",") {
			r = strings.TrimSpace(r)
			if r != "" {
				roles = append(roles, r)
			}
		}

		c.Locals("user_id", userID)
		c.Locals("user_roles", roles)
		return c.Next()
	}
}

// UserID returns the acting principal set by UserContextMiddleware.
func UserID(c *fiber.Ctx) string {
	if id, ok := c.Locals("user_id").(string); ok {
		return id
	}
	return ""
}

// HasRole reports whether the principal carries the given role id.
func HasRole(c *fiber.Ctx, roleID string) bool {
	roles, ok := c.Locals("user_roles").([]string)
	if !ok {
		return false
	}
	for _, r := range roles {
		if r == roleID {
			return true
		}
	}
	return false
}

// IsCrew reports whether the principal is event crew (a TO or judge).
func IsCrew(c *fiber.Ctx) bool {
	return HasRole(c, os.Getenv("CREW_ROLE_ID"))
}

// RequireCrew gates a route to event crew.
func RequireCrew() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !IsCrew(c) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "crew role required",
			})
		}
		return c.Next()
	}
}
