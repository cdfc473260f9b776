package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/marketplace-escrow/backend/internal/apperror"
	"github.com/marketplace-escrow/backend/internal/auth"
	"github.com/marketplace-escrow/backend/internal/config"
	"github.com/marketplace-escrow/backend/internal/http/dto"
	"github.com/marketplace-escrow/backend/internal/middleware"
	"github.com/marketplace-escrow/backend/internal/repositories"
	"go.uber.org/zap"
)

// AuthHandler renews tokens. Login itself belongs to the identity provider.
type AuthHandler struct {
	users repositories.UserRepository
	cfg   *config.Config
	log   *zap.Logger
}

func NewAuthHandler(users repositories.UserRepository, cfg *config.Config, log *zap.Logger) *AuthHandler {
	return &AuthHandler{users: users, cfg: cfg, log: log}
}

// Refresh issues a fresh token carrying the user's current role.
func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	user, err := h.users.GetByID(c.UserContext(), middleware.GetUserID(c))
	if errors.Is(err, repositories.ErrNotFound) {
		return fail(c, h.log, apperror.Unauthorized("user no longer exists"))
	}
	if err != nil {
		return fail(c, h.log, apperror.Internal(err, "load user"))
	}

	token, err := auth.GenerateJWT(h.cfg.JWTSecret, user.ID, user.Role, h.cfg.JWTExpiration)
	if err != nil {
		return fail(c, h.log, apperror.Internal(err, "sign token"))
	}

	return c.JSON(dto.AuthResponse{Token: token, User: user})
}
