package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/marketplace-escrow/backend/internal/apperror"
	"github.com/marketplace-escrow/backend/internal/config"
	"github.com/marketplace-escrow/backend/internal/db"
	"github.com/marketplace-escrow/backend/internal/escrow"
	"github.com/marketplace-escrow/backend/internal/events"
	apphttp "github.com/marketplace-escrow/backend/internal/http"
	"github.com/marketplace-escrow/backend/internal/http/dto"
	"github.com/marketplace-escrow/backend/internal/http/handlers"
	"github.com/marketplace-escrow/backend/internal/metrics"
	"github.com/marketplace-escrow/backend/internal/middleware"
	"github.com/marketplace-escrow/backend/internal/notify"
	"github.com/marketplace-escrow/backend/internal/payments"
	"github.com/marketplace-escrow/backend/internal/repositories"
	"github.com/marketplace-escrow/backend/internal/services"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, "migrations", log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	store := repositories.NewPgStore(pool)

	gateway, err := payments.NewOmiseGateway(cfg.OmisePublicKey, cfg.OmiseSecretKey, log)
	if err != nil {
		log.Fatal("failed to create payment gateway", zap.Error(err))
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.AMQPURL != "" {
		pub, err := notify.NewPublisher(cfg.AMQPURL, cfg.NotifyExchange, log)
		if err != nil {
			log.Warn("notifications disabled", zap.Error(err))
		} else {
			defer pub.Close()
			notifier = pub
		}
	}

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	deps := services.Deps{
		Store:     store,
		Custodian: escrow.NewCustodian(cfg.PlatformAccountID, cfg.CommissionRate, log),
		Gateway:   gateway,
		Publisher: publisher,
		Notifier:  notifier,
		Config:    cfg,
		Log:       log,
		Clock:     time.Now,
	}

	// Services
	bookingService := services.NewBookingService(deps)
	orderService := services.NewOrderService(deps)
	paymentService := services.NewPaymentService(deps)
	disputeService := services.NewDisputeService(deps)
	queries := services.NewTransactionQueries(store)
	walletService := services.NewWalletService(store, cfg, log)

	users := repositories.NewUserRepo(pool)

	// Handlers
	h := apphttp.Handlers{
		Auth:         handlers.NewAuthHandler(users, cfg, log),
		User:         handlers.NewUserHandler(users, log),
		Transactions: handlers.NewTransactionHandler(queries, log),
		Bookings:     handlers.NewBookingHandler(bookingService, log),
		Orders:       handlers.NewOrderHandler(orderService, log),
		Disputes:     handlers.NewDisputeHandler(disputeService, log),
		Wallet:       handlers.NewWalletHandler(walletService, log),
		Payments:     handlers.NewPaymentHandler(paymentService, rdb, log),
		Meta:         handlers.NewMetaHandler(),
		WS:           handlers.NewWSHub(cfg, subscriber, log),
	}

	if err := h.WS.Start(ctx); err != nil {
		log.Error("failed to start ws hub", zap.Error(err))
	}

	metricsServer := metrics.StartServer(cfg.MetricsPort, log)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fe *fiber.Error
			if errors.As(err, &fe) {
				return c.Status(fe.Code).JSON(dto.ErrorResponse{Error: fe.Message})
			}
			kind := apperror.KindOf(err)
			if kind == apperror.KindInternal {
				log.Error("unhandled error", zap.String("path", c.Path()), zap.Error(err))
			}
			return c.Status(apperror.HTTPStatus(kind)).JSON(dto.ErrorResponse{
				Error:     apperror.Message(err),
				Kind:      string(kind),
				RequestID: middleware.GetRequestID(c),
			})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, h)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
		if err := metrics.Shutdown(metricsServer); err != nil {
			log.Warn("metrics server shutdown", zap.Error(err))
		}
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
