package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/marketplace-escrow/backend/internal/config"
	"github.com/marketplace-escrow/backend/internal/metrics"
	"github.com/marketplace-escrow/backend/internal/notify"
	"go.uber.org/zap"
)

// Notify Bridge drains the notification queue and forwards each message to
// the push delivery service.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	if cfg.AMQPURL == "" || cfg.PushEndpointURL == "" {
		log.Fatal("AMQP_URL and PUSH_ENDPOINT_URL are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer, err := notify.NewConsumer(cfg.AMQPURL, cfg.NotifyExchange, cfg.NotifyQueue, []string{"notify.#"})
	if err != nil {
		log.Fatal("failed to connect to rabbitmq", zap.Error(err))
	}
	defer consumer.Close()

	deliveries, err := consumer.Deliveries(ctx)
	if err != nil {
		log.Fatal("failed to consume", zap.Error(err))
	}

	push := notify.NewPushClient(cfg.PushEndpointURL, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info("notify-bridge started", zap.String("queue", cfg.NotifyQueue))

	for {
		select {
		case d, ok := <-deliveries:
			if !ok {
				log.Error("delivery channel closed")
				return
			}
			n, err := notify.Decode(d)
			if err != nil {
				log.Warn("dropping malformed notification", zap.Error(err))
				_ = d.Nack(false, false)
				continue
			}
			if err := push.Send(ctx, n); err != nil {
				log.Warn("push failed, requeueing",
					zap.String("kind", n.Kind),
					zap.String("user_id", n.UserID.String()),
					zap.Error(err),
				)
				metrics.RecordNotifyFailure("push")
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		case <-sigCh:
			log.Info("shutting down notify-bridge")
			cancel()
			return
		}
	}
}
