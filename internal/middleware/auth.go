package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/marketplace-escrow/backend/internal/auth"
	"github.com/marketplace-escrow/backend/internal/config"
	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/marketplace-escrow/backend/internal/rbac"
	"go.uber.org/zap"
)

const (
	CtxUserID      = "user_id"
	CtxRole        = "role"
	CtxFinancialOp = "financial_op"
)

func AuthMiddleware(cfg *config.Config, log *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing authorization header"})
		}

		tokenStr := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenStr == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid authorization format"})
		}

		claims, err := auth.ParseJWT(cfg.JWTSecret, tokenStr)
		if err != nil {
			log.Debug("jwt parse error", zap.Error(err))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid or expired token"})
		}

		c.Locals(CtxUserID, claims.UserID)
		c.Locals(CtxRole, claims.Role)

		return c.Next()
	}
}

func GetUserID(c *fiber.Ctx) uuid.UUID {
	id, _ := c.Locals(CtxUserID).(uuid.UUID)
	return id
}

// GetActor returns the authenticated caller.
func GetActor(c *fiber.Ctx) models.Actor {
	role, _ := c.Locals(CtxRole).(models.Role)
	return models.Actor{ID: GetUserID(c), Role: role}
}

// RequirePermission rejects callers whose role lacks perm with 401.
// Forbidden stays reserved for non-parties of a transaction. Granted
// financial operations are tagged for the request log.
func RequirePermission(perm string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !rbac.HasPermission(GetActor(c).Role, perm) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "role lacks permission " + perm})
		}
		if rbac.IsFinancialOperation(perm) {
			c.Locals(CtxFinancialOp, perm)
		}
		return c.Next()
	}
}
