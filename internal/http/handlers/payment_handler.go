package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/marketplace-escrow/backend/internal/apperror"
	"github.com/marketplace-escrow/backend/internal/http/dto"
	"github.com/marketplace-escrow/backend/internal/services"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const webhookSeenTTL = 24 * time.Hour

type PaymentHandler struct {
	payments *services.PaymentService
	rdb      *redis.Client
	log      *zap.Logger
}

func NewPaymentHandler(payments *services.PaymentService, rdb *redis.Client, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, rdb: rdb, log: log}
}

// Webhook receives Omise events. The body only names the event; HandleWebhook
// fetches it again from the gateway. Redis drops redeliveries early, the
// capture itself is idempotent either way.
func (h *PaymentHandler) Webhook(c *fiber.Ctx) error {
	var req dto.WebhookRequest
	if err := c.BodyParser(&req); err != nil || req.ID == "" {
		return badRequest(c, "invalid event")
	}

	ctx := c.UserContext()
	key := "webhook:omise:" + req.ID
	fresh, err := h.rdb.SetNX(ctx, key, req.Key, webhookSeenTTL).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		h.log.Warn("webhook dedupe unavailable", zap.String("event_id", req.ID), zap.Error(err))
		fresh = true
	}
	if !fresh {
		h.log.Debug("duplicate webhook", zap.String("event_id", req.ID))
		return ok(c, fiber.Map{"duplicate": true})
	}

	if err := h.payments.HandleWebhook(ctx, req.ID); err != nil {
		// Let the gateway redeliver.
		if delErr := h.rdb.Del(ctx, key).Err(); delErr != nil {
			h.log.Warn("failed to clear webhook marker", zap.String("event_id", req.ID), zap.Error(delErr))
		}
		if apperror.KindOf(err) == apperror.KindInternal {
			return fail(c, h.log, err)
		}
		// Permanent rejections are acknowledged so the gateway stops retrying.
		h.log.Warn("webhook rejected", zap.String("event_id", req.ID), zap.Error(err))
		return ok(c, fiber.Map{"rejected": apperror.Message(err)})
	}
	return ok(c, nil)
}

// Confirm is the return-URI path: the client asks us to verify a payment.
func (h *PaymentHandler) Confirm(c *fiber.Ctx) error {
	var req dto.ConfirmPaymentRequest
	if err := c.BodyParser(&req); err != nil || req.PaymentReference == "" {
		return badRequest(c, "payment_reference is required")
	}
	t, err := h.payments.ConfirmPayment(c.UserContext(), req.PaymentReference)
	if err != nil {
		return fail(c, h.log, err)
	}
	return ok(c, t)
}
