package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/marketplace-escrow/backend/internal/http/dto"
	"github.com/marketplace-escrow/backend/internal/middleware"
	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/marketplace-escrow/backend/internal/repositories"
	"github.com/marketplace-escrow/backend/internal/services"
	"go.uber.org/zap"
)

type DisputeHandler struct {
	disputes *services.DisputeService
	log      *zap.Logger
}

func NewDisputeHandler(disputes *services.DisputeService, log *zap.Logger) *DisputeHandler {
	return &DisputeHandler{disputes: disputes, log: log}
}

// Open is mounted under the transaction: POST /transactions/:id/disputes.
func (h *DisputeHandler) Open(c *fiber.Ctx) error {
	txID, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid transaction id")
	}
	var req dto.OpenDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	in := services.OpenDisputeInput{
		Reason:      models.DisputeReason(req.Reason),
		Description: req.Description,
		Evidence:    req.Evidence,
	}
	if req.ProductID != nil {
		pid, err := uuid.Parse(*req.ProductID)
		if err != nil {
			return badRequest(c, "invalid product_id")
		}
		in.ProductID = &pid
	}

	d, err := h.disputes.Open(c.UserContext(), txID, middleware.GetActor(c), in)
	if err != nil {
		return fail(c, h.log, err)
	}
	return created(c, d)
}

func (h *DisputeHandler) Get(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid dispute id")
	}
	d, err := h.disputes.Get(c.UserContext(), id, middleware.GetActor(c))
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, d)
}

func (h *DisputeHandler) List(c *fiber.Ctx) error {
	limit, offset := paging(c)
	f := repositories.DisputeFilter{Limit: limit, Offset: offset}
	if v := c.Query("status"); v != "" {
		f.Status = &v
	}
	if v := c.Query("priority"); v != "" {
		p := models.Priority(v)
		f.Priority = &p
	}
	if v := c.Query("assigned_to"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return badRequest(c, "invalid assigned_to")
		}
		f.AssignedTo = &id
	}

	list, err := h.disputes.List(c.UserContext(), middleware.GetActor(c), f)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(dto.PageResponse{OK: true, Data: list, Limit: f.Limit, Offset: f.Offset})
}

func (h *DisputeHandler) Assign(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid dispute id")
	}
	var req dto.AssignDisputeRequest
	_ = c.BodyParser(&req)
	assignee := uuid.Nil
	if req.AssigneeID != nil {
		parsed, err := uuid.Parse(*req.AssigneeID)
		if err != nil {
			return badRequest(c, "invalid assignee_id")
		}
		assignee = parsed
	}

	d, err := h.disputes.Assign(c.UserContext(), id, middleware.GetActor(c), assignee)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, d)
}

func (h *DisputeHandler) AddMessage(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid dispute id")
	}
	var req services.DisputeMessageInput
	if err := c.BodyParser(&req); err != nil || req.Text == "" {
		return badRequest(c, "text is required")
	}
	d, err := h.disputes.AddMessage(c.UserContext(), id, middleware.GetActor(c), req)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, d)
}

func (h *DisputeHandler) Escalate(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid dispute id")
	}
	var req dto.ReasonRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	d, err := h.disputes.Escalate(c.UserContext(), id, middleware.GetActor(c), req.Reason)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, d)
}

func (h *DisputeHandler) Resolve(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid dispute id")
	}
	var req dto.ResolveDisputeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request")
	}
	res, err := h.disputes.Resolve(c.UserContext(), id, middleware.GetActor(c), services.ResolveDisputeInput{
		Resolution:       models.Resolution(req.Resolution),
		RefundPercentage: req.RefundPercentage,
		Note:             req.Note,
	})
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, res)
}

func (h *DisputeHandler) Close(c *fiber.Ctx) error {
	id, valid := paramID(c, "id")
	if !valid {
		return badRequest(c, "invalid dispute id")
	}
	var req dto.NoteRequest
	_ = c.BodyParser(&req)
	d, err := h.disputes.Close(c.UserContext(), id, middleware.GetActor(c), req.Note)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, d)
}
