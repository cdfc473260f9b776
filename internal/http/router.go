package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/marketplace-escrow/backend/internal/config"
	"github.com/marketplace-escrow/backend/internal/http/handlers"
	"github.com/marketplace-escrow/backend/internal/middleware"
	"github.com/marketplace-escrow/backend/internal/rbac"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Handlers struct {
	Auth         *handlers.AuthHandler
	User         *handlers.UserHandler
	Transactions *handlers.TransactionHandler
	Bookings     *handlers.BookingHandler
	Orders       *handlers.OrderHandler
	Disputes     *handlers.DisputeHandler
	Wallet       *handlers.WalletHandler
	Payments     *handlers.PaymentHandler
	Meta         *handlers.MetaHandler
	WS           *handlers.WSHub
}

func SetupRouter(app *fiber.App, cfg *config.Config, log *zap.Logger, rdb *redis.Client, h Handlers) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Gateway callbacks authenticate by re-fetching the event, not by token.
	api.Post("/payments/webhook", h.Payments.Webhook)

	api.Get("/meta/transitions", h.Meta.GetTransitions)
	api.Get("/meta/dispute-options", h.Meta.GetDisputeOptions)

	limit := cfg.RateLimitPerMin
	if limit <= 0 {
		limit = 100
	}
	protected := api.Group("",
		middleware.AuthMiddleware(cfg, log),
		middleware.RateLimitMiddleware(rdb, limit, time.Minute, log),
	)

	protected.Post("/auth/refresh", h.Auth.Refresh)
	protected.Get("/me", h.User.GetMe)

	// Wallet
	protected.Get("/wallet", h.Wallet.GetWallet)
	protected.Get("/wallet/entries", h.Wallet.Entries)
	protected.Post("/wallet/top-up", middleware.RequirePermission(rbac.PermTopUpWallet), h.Wallet.TopUp)

	// Payments
	protected.Post("/payments/confirm", h.Payments.Confirm)

	// Transactions (both kinds)
	protected.Get("/transactions", h.Transactions.List)
	protected.Get("/transactions/:id", h.Transactions.Get)
	protected.Get("/transactions/:id/audit", middleware.RequirePermission(rbac.PermViewAudit), h.Transactions.Audit)
	protected.Post("/transactions/:id/disputes", middleware.RequirePermission(rbac.PermOpenDispute), h.Disputes.Open)

	// Bookings
	place := middleware.RequirePermission(rbac.PermPlaceTransaction)
	fulfil := middleware.RequirePermission(rbac.PermFulfil)
	protected.Post("/bookings/quote", place, h.Bookings.Quote)
	protected.Post("/bookings", place, h.Bookings.Create)
	protected.Post("/bookings/:id/accept", fulfil, h.Bookings.Accept)
	protected.Post("/bookings/:id/reject", fulfil, h.Bookings.Reject)
	protected.Post("/bookings/:id/start", fulfil, h.Bookings.Start)
	protected.Post("/bookings/:id/deliver", fulfil, h.Bookings.Deliver)
	protected.Post("/bookings/:id/cancel", h.Bookings.Cancel)
	protected.Post("/bookings/:id/confirm", h.Bookings.Confirm)

	// Orders
	protected.Post("/orders/quote", place, h.Orders.Quote)
	protected.Post("/orders", place, h.Orders.Create)
	protected.Patch("/orders/:id/status", fulfil, h.Orders.UpdateStatus)
	protected.Patch("/orders/:id/delivery", h.Orders.UpdateDelivery)
	protected.Post("/orders/:id/cancel", h.Orders.Cancel)
	protected.Post("/orders/:id/confirm", h.Orders.Confirm)

	// Disputes
	manage := middleware.RequirePermission(rbac.PermManageDisputes)
	protected.Get("/disputes", h.Disputes.List)
	protected.Get("/disputes/:id", h.Disputes.Get)
	protected.Post("/disputes/:id/messages", h.Disputes.AddMessage)
	protected.Post("/disputes/:id/escalate", h.Disputes.Escalate)
	protected.Post("/disputes/:id/assign", manage, h.Disputes.Assign)
	protected.Post("/disputes/:id/resolve", manage, h.Disputes.Resolve)
	protected.Post("/disputes/:id/close", manage, h.Disputes.Close)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(h.WS.HandleWS))
}
