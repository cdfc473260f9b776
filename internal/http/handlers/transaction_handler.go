package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/marketplace-escrow/backend/internal/http/dto"
	"github.com/marketplace-escrow/backend/internal/middleware"
	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/marketplace-escrow/backend/internal/repositories"
	"github.com/marketplace-escrow/backend/internal/services"
	"go.uber.org/zap"
)

type TransactionHandler struct {
	queries *services.TransactionQueries
	log     *zap.Logger
}

func NewTransactionHandler(queries *services.TransactionQueries, log *zap.Logger) *TransactionHandler {
	return &TransactionHandler{queries: queries, log: log}
}

func (h *TransactionHandler) Get(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid transaction id")
	}
	t, err := h.queries.Get(c.UserContext(), id, middleware.GetActor(c))
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, t)
}

// List returns the caller's transactions, newest first.
func (h *TransactionHandler) List(c *fiber.Ctx) error {
	limit, offset := paging(c)
	f := repositories.TransactionFilter{Limit: limit, Offset: offset}
	if v := c.Query("kind"); v != "" {
		kind := models.Kind(v)
		if !kind.Valid() {
			return badRequest(c, "kind must be booking or order")
		}
		f.Kind = &kind
	}
	if v := c.Query("status"); v != "" {
		f.Status = &v
	}

	list, err := h.queries.List(c.UserContext(), middleware.GetActor(c), f)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(dto.PageResponse{OK: true, Data: list, Limit: f.Limit, Offset: f.Offset})
}

func (h *TransactionHandler) Audit(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid transaction id")
	}
	limit, offset := paging(c)
	logs, err := h.queries.Audit(c.UserContext(), id, middleware.GetActor(c), limit, offset)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, logs)
}
