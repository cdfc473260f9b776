package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/marketplace-escrow/backend/internal/apperror"
	"github.com/marketplace-escrow/backend/internal/middleware"
	"github.com/marketplace-escrow/backend/internal/repositories"
	"go.uber.org/zap"
)

type UserHandler struct {
	users repositories.UserRepository
	log   *zap.Logger
}

func NewUserHandler(users repositories.UserRepository, log *zap.Logger) *UserHandler {
	return &UserHandler{users: users, log: log}
}

func (h *UserHandler) GetMe(c *fiber.Ctx) error {
	user, err := h.users.GetByID(c.UserContext(), middleware.GetUserID(c))
	if errors.Is(err, repositories.ErrNotFound) {
		return fail(c, h.log, apperror.NotFound("user not found"))
	}
	if err != nil {
		return fail(c, h.log, apperror.Internal(err, "load user"))
	}
	return ok(c, user)
}
