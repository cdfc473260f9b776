// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	escrowOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_operations_total",
		Help: "Escrow hold/release/refund operations",
	}, []string{
		"operation", // hold, release, refund, partial_refund, late_payment
		"outcome",   // ok, conflict, rejected, error
	})

	escrowAmountTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "escrow_amount_total",
		Help: "Money moved out of escrow, in major currency units",
	}, []string{
		"destination", // customer, seller, platform
		"currency",
	})

	transitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "transaction_transitions_total",
		Help: "Lifecycle status transitions",
	}, []string{"kind", "status"})

	disputesOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "disputes_opened_total",
		Help: "Disputes opened",
	}, []string{"reason", "priority"})

	redFlagsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seller_red_flags_total",
		Help: "Seller reliability flags raised",
	}, []string{"severity"})

	notifyFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notify_failures_total",
		Help: "Swallowed notification and broadcast failures",
	}, []string{"sink"})

	reapedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transactions_reaped_total",
		Help: "Unpaid transactions cancelled after the payment window",
	})

	autoCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "transactions_auto_completed_total",
		Help: "Delivered transactions completed by the worker",
	})

	workerRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "worker_run_duration_seconds",
		Help:    "Duration of one worker job run",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
	}, []string{"job"})
)

func RecordEscrow(operation, outcome string) {
	escrowOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

func RecordEscrowAmount(destination, currency string, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	escrowAmountTotal.WithLabelValues(destination, currency).Add(amount.InexactFloat64())
}

func RecordTransition(kind, status string) {
	transitionsTotal.WithLabelValues(kind, status).Inc()
}

func RecordDisputeOpened(reason, priority string) {
	disputesOpenedTotal.WithLabelValues(reason, priority).Inc()
}

func RecordRedFlag(severity string) {
	redFlagsTotal.WithLabelValues(severity).Inc()
}

func RecordNotifyFailure(sink string) {
	notifyFailuresTotal.WithLabelValues(sink).Inc()
}

func RecordReaped(n int) {
	reapedTotal.Add(float64(n))
}

func RecordAutoCompleted(n int) {
	autoCompletedTotal.Add(float64(n))
}

func ObserveWorkerRun(job string, started time.Time) {
	workerRunDuration.WithLabelValues(job).Observe(time.Since(started).Seconds())
}

// StartServer serves /metrics and /ready on a separate port.
func StartServer(port string, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", zap.Error(err))
		}
	}()

	log.Info("metrics server started", zap.String("port", port))
	return server
}

func Shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}
