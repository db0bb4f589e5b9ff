package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/go-pet-project/stock/internal/auth"
)

const (
	LocalUserID = "userId"
	LocalToken  = "token"
	LocalClaims = "claims"
)

func NewAuthMiddleware(secret string, blacklist *auth.Blacklist) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: missed header"})
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: Invalid header format"})
		}
		token := parts[1]

		if blacklist.IsRevoked(token) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: Token revoked"})
		}

		claims, err := auth.ParseToken(token, secret)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: Invalid token"})
		}

		c.Locals(LocalUserID, claims.UserID)
		c.Locals(LocalToken, token)
		c.Locals(LocalClaims, claims)
		return c.Next()
	}
}
