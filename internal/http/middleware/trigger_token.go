package middleware

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

// TriggerTokenAuth validates the trigger token for job endpoints against a
// bcrypt hash. An empty hash disables the check.
// Expects: Authorization: Bearer <token>
func TriggerTokenAuth(tokenHash string, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if tokenHash == "" {
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing Authorization header",
			})
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid Authorization header format. Expected: Bearer <token>",
			})
		}

		provided := strings.TrimPrefix(authHeader, "Bearer ")
		if provided == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Trigger token is empty",
			})
		}

		if err := bcrypt.CompareHashAndPassword([]byte(tokenHash), []byte(provided)); err != nil {
			logger.Warn("Rejected job trigger", slog.String("ip", c.IP()), slog.Any("error", err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid trigger token",
			})
		}

		return c.Next()
	}
}

// HashTriggerToken produces the value for the trigger token hash setting.
func HashTriggerToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
