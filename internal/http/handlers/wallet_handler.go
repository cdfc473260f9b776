package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/marketplace-escrow/backend/internal/http/dto"
	"github.com/marketplace-escrow/backend/internal/middleware"
	"github.com/marketplace-escrow/backend/internal/services"
	"go.uber.org/zap"
)

type WalletHandler struct {
	wallets *services.WalletService
	log     *zap.Logger
}

func NewWalletHandler(wallets *services.WalletService, log *zap.Logger) *WalletHandler {
	return &WalletHandler{wallets: wallets, log: log}
}

// owner is the caller, or ?user_id= for admins.
func owner(c *fiber.Ctx) (uuid.UUID, bool) {
	if v := c.Query("user_id"); v != "" {
		id, err := uuid.Parse(v)
		return id, err == nil
	}
	return middleware.GetUserID(c), true
}

func (h *WalletHandler) GetWallet(c *fiber.Ctx) error {
	userID, valid := owner(c)
	if !valid {
		return badRequest(c, "invalid user_id")
	}
	w, err := h.wallets.Balance(c.UserContext(), middleware.GetActor(c), userID)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, w)
}

func (h *WalletHandler) Entries(c *fiber.Ctx) error {
	userID, valid := owner(c)
	if !valid {
		return badRequest(c, "invalid user_id")
	}
	limit, offset := paging(c)
	entries, err := h.wallets.Entries(c.UserContext(), middleware.GetActor(c), userID, limit, offset)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(dto.PageResponse{OK: true, Data: entries, Limit: limit, Offset: offset})
}

func (h *WalletHandler) TopUp(c *fiber.Ctx) error {
	var req dto.TopUpRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return badRequest(c, "invalid user_id")
	}
	entry, err := h.wallets.TopUp(c.UserContext(), middleware.GetActor(c), userID, req.Amount, req.Note)
	if err != nil {
		return fail(c, h.log, err)
	}
	return created(c, entry)
}
