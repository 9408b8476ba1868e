// Package identity resolves the calling user from the X-User-ID header.
package identity

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/decisionhub/backend/internal/engine"
	"github.com/decisionhub/backend/internal/storage/models"
)

const (
	Header    = "X-User-ID"
	LocalsKey = "user_id"
)

type Users interface {
	GetUser(ctx context.Context, id string) (*models.User, error)
}

type Config struct {
	Users  Users
	Logger *zap.Logger
}

// Middleware rejects requests without a known caller.
func Middleware(cfg Config) fiber.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		id := c.Get(Header)
		if id == "" {
			return unauthorized(c, "Missing "+Header+" header")
		}

		u, err := cfg.Users.GetUser(c.Context(), id)
		if engine.KindOf(err) == engine.KindNotFound {
			return unauthorized(c, "Unknown user")
		}
		if err != nil {
			cfg.Logger.Error("Failed to resolve caller", zap.String("user_id", id), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"success": false,
				"msg":     "Internal server error",
			})
		}

		c.Locals(LocalsKey, u.ID)
		return c.Next()
	}
}

// UserID returns the caller resolved by Middleware.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalsKey).(string)
	return id
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"success": false,
		"msg":     msg,
	})
}
