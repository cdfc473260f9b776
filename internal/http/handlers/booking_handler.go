package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/marketplace-escrow/backend/internal/http/dto"
	"github.com/marketplace-escrow/backend/internal/middleware"
	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/marketplace-escrow/backend/internal/services"
	"go.uber.org/zap"
)

type BookingHandler struct {
	bookings *services.BookingService
	log      *zap.Logger
}

func NewBookingHandler(bookings *services.BookingService, log *zap.Logger) *BookingHandler {
	return &BookingHandler{bookings: bookings, log: log}
}

func (h *BookingHandler) Quote(c *fiber.Ctx) error {
	var req services.CreateBookingInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	q, err := h.bookings.Quote(c.UserContext(), middleware.GetActor(c), req)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, q)
}

func (h *BookingHandler) Create(c *fiber.Ctx) error {
	var req services.CreateBookingInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	if req.ServiceID == uuid.Nil {
		return badRequest(c, "service_id is required")
	}
	res, err := h.bookings.Create(c.UserContext(), middleware.GetActor(c), req)
	if err != nil {
		return fail(c, h.log, err)
	}
	return created(c, res)
}

// transition runs a seller step that takes no body.
func (h *BookingHandler) transition(c *fiber.Ctx, fn func(id uuid.UUID, a models.Actor) (*models.Transaction, error)) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid booking id")
	}
	t, err := fn(id, middleware.GetActor(c))
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, t)
}

func (h *BookingHandler) Accept(c *fiber.Ctx) error {
	return h.transition(c, func(id uuid.UUID, a models.Actor) (*models.Transaction, error) {
		return h.bookings.Accept(c.UserContext(), id, a)
	})
}

func (h *BookingHandler) Start(c *fiber.Ctx) error {
	return h.transition(c, func(id uuid.UUID, a models.Actor) (*models.Transaction, error) {
		return h.bookings.Start(c.UserContext(), id, a)
	})
}

func (h *BookingHandler) Deliver(c *fiber.Ctx) error {
	var req dto.NoteRequest
	_ = c.BodyParser(&req)
	return h.transition(c, func(id uuid.UUID, a models.Actor) (*models.Transaction, error) {
		return h.bookings.MarkDelivered(c.UserContext(), id, a, req.Note)
	})
}

func (h *BookingHandler) Confirm(c *fiber.Ctx) error {
	return h.transition(c, func(id uuid.UUID, a models.Actor) (*models.Transaction, error) {
		return h.bookings.ConfirmCompletion(c.UserContext(), id, a)
	})
}

func (h *BookingHandler) Reject(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid booking id")
	}
	var req dto.ReasonRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	res, err := h.bookings.Reject(c.UserContext(), id, middleware.GetActor(c), req.Reason)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, res)
}

func (h *BookingHandler) Cancel(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid booking id")
	}
	var req dto.ReasonRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	res, err := h.bookings.Cancel(c.UserContext(), id, middleware.GetActor(c), req.Reason)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, res)
}
