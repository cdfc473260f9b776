package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marketplace-escrow/backend/internal/config"
	"github.com/marketplace-escrow/backend/internal/db"
	"github.com/marketplace-escrow/backend/internal/escrow"
	"github.com/marketplace-escrow/backend/internal/events"
	"github.com/marketplace-escrow/backend/internal/metrics"
	"github.com/marketplace-escrow/backend/internal/notify"
	"github.com/marketplace-escrow/backend/internal/payments"
	"github.com/marketplace-escrow/backend/internal/repositories"
	"github.com/marketplace-escrow/backend/internal/services"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

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

	jobs := services.NewJobs(services.Deps{
		Store:     repositories.NewPgStore(pool),
		Custodian: escrow.NewCustodian(cfg.PlatformAccountID, cfg.CommissionRate, log),
		Gateway:   gateway,
		Publisher: events.NewRedisPublisher(rdb, log),
		Notifier:  notifier,
		Config:    cfg,
		Log:       log,
		Clock:     time.Now,
	})

	metricsServer := metrics.StartServer(cfg.MetricsPort, log)
	defer metrics.Shutdown(metricsServer)

	log.Info("worker started", zap.Duration("interval", cfg.ReaperInterval))

	interval := cfg.ReaperInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			runLocked(ctx, rdb, "reap_expired", interval, jobs.ReapExpired, log)
			runLocked(ctx, rdb, "auto_complete", interval, jobs.AutoComplete, log)
		case <-sigCh:
			log.Info("shutting down worker")
			cancel()
			return
		case <-ctx.Done():
			return
		}
	}
}

// runLocked runs job only when no other worker replica holds its lock.
// The lock expires on its own so a crashed replica cannot block the job.
func runLocked(ctx context.Context, rdb *redis.Client, name string, ttl time.Duration, job func(context.Context) (int, error), log *zap.Logger) {
	key := "lock:worker:" + name
	acquired, err := rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		log.Warn("worker lock unavailable", zap.String("job", name), zap.Error(err))
		return
	}
	if !acquired {
		log.Debug("job held by another replica", zap.String("job", name))
		return
	}
	defer rdb.Del(context.Background(), key)

	n, err := job(ctx)
	if err != nil {
		log.Error("job failed", zap.String("job", name), zap.Int("processed", n), zap.Error(err))
		return
	}
	if n > 0 {
		log.Info("job finished", zap.String("job", name), zap.Int("processed", n))
	}
}
