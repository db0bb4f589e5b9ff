package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sakashimaa/go-pet-project/stock/internal/auth"
	"github.com/sakashimaa/go-pet-project/stock/internal/transport/http/middleware"
	"github.com/sakashimaa/go-pet-project/stock/pkg/mylogger"
	"go.uber.org/zap"
)

type AuthHandler struct {
	blacklist  *auth.Blacklist
	defaultTTL time.Duration
	logger     *zap.Logger
}

func NewAuthHandler(blacklist *auth.Blacklist, defaultTTL time.Duration, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		blacklist:  blacklist,
		defaultTTL: defaultTTL,
		logger:     logger,
	}
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	ctx := c.UserContext()

	token, ok := c.Locals(middleware.LocalToken).(string)
	if !ok || token == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: missed token"})
	}

	expiresAt := time.Now().Add(h.defaultTTL)
	if claims, ok := c.Locals(middleware.LocalClaims).(*auth.Claims); ok && claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	h.blacklist.Revoke(token, expiresAt)

	userID, _ := c.Locals(middleware.LocalUserID).(int64)
	mylogger.Info(
		ctx,
		h.logger,
		"token revoked",
		zap.Int64("user_id", userID),
		zap.Time("expires_at", expiresAt),
	)

	return c.JSON(fiber.Map{"message": "Logged out"})
}
