package middleware

import (
	"crypto/subtle"
	"log/slog"

	"github.com/gofiber/fiber/v2"
)

// WithKey guards internal routes with a shared key sent in the given header.
func WithKey(header string, real_key func() (string, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		api_key := c.Get(header)
		correct_key, err := real_key()
		if err != nil || correct_key == "" {
			slog.Error("Middleware : cannot check API key", "error", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "cannot check API key",
			})
		}
		if subtle.ConstantTimeCompare([]byte(api_key), []byte(correct_key)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid API key",
			})
		}
		return c.Next()
	}
}
