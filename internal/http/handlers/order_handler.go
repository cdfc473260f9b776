package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/marketplace-escrow/backend/internal/http/dto"
	"github.com/marketplace-escrow/backend/internal/middleware"
	"github.com/marketplace-escrow/backend/internal/services"
	"go.uber.org/zap"
)

type OrderHandler struct {
	orders *services.OrderService
	log    *zap.Logger
}

func NewOrderHandler(orders *services.OrderService, log *zap.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, log: log}
}

func (h *OrderHandler) Quote(c *fiber.Ctx) error {
	var req services.CreateOrderInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	q, err := h.orders.Quote(c.UserContext(), middleware.GetActor(c), req)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, q)
}

func (h *OrderHandler) Create(c *fiber.Ctx) error {
	var req services.CreateOrderInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	res, err := h.orders.Create(c.UserContext(), middleware.GetActor(c), req)
	if err != nil {
		return fail(c, h.log, err)
	}
	return created(c, res)
}

// UpdateStatus is the seller's fulfilment endpoint.
func (h *OrderHandler) UpdateStatus(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid order id")
	}
	var req services.SellerOrderUpdate
	if err := c.BodyParser(&req); err != nil || req.Status == "" {
		return badRequest(c, "status is required")
	}
	t, err := h.orders.SellerUpdate(c.UserContext(), id, middleware.GetActor(c), req)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, t)
}

// UpdateDelivery lets the customer correct the delivery details.
func (h *OrderHandler) UpdateDelivery(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid order id")
	}
	var req services.CustomerOrderUpdate
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	t, err := h.orders.CustomerUpdate(c.UserContext(), id, middleware.GetActor(c), req)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, t)
}

func (h *OrderHandler) Cancel(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid order id")
	}
	var req dto.ReasonRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	res, err := h.orders.Cancel(c.UserContext(), id, middleware.GetActor(c), req.Reason)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, res)
}

func (h *OrderHandler) Confirm(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid order id")
	}
	t, err := h.orders.ConfirmDelivery(c.UserContext(), id, middleware.GetActor(c))
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, t)
}
