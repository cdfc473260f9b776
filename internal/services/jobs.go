package services

import (
	"context"
	"time"

	"github.com/marketplace-escrow/backend/internal/apperror"
	"github.com/marketplace-escrow/backend/internal/metrics"
	"github.com/marketplace-escrow/backend/internal/models"
	"go.uber.org/zap"
)

// Jobs are the periodic sweeps run by the worker process. Each run is
// idempotent and safe to repeat after a crash.
type Jobs struct {
	*core
}

func NewJobs(d Deps) *Jobs {
	return &Jobs{core: newCore(d)}
}

func (j *Jobs) batch() int {
	if j.cfg.ReaperBatchSize > 0 {
		return j.cfg.ReaperBatchSize
	}
	return 100
}

// ReapExpired resolves provisional card transactions whose payment window
// has passed. A charge that succeeded in the meantime is captured, anything
// else is cancelled and its stock restored.
func (j *Jobs) ReapExpired(ctx context.Context) (int, error) {
	started := time.Now()
	defer metrics.ObserveWorkerRun("reap_expired", started)

	expired, err := j.store.Transactions().ListExpiredUnpaid(ctx, j.now(), j.batch())
	if err != nil {
		return 0, apperror.Internal(err, "list expired transactions")
	}

	reaped := 0
	for i := range expired {
		if ctx.Err() != nil {
			break
		}
		t := &expired[i]
		if t.GatewayChargeID != nil {
			charge, err := j.gateway.RetrieveCharge(ctx, *t.GatewayChargeID)
			if err != nil {
				// The charge may have succeeded; retried next tick.
				j.log.Warn("charge lookup failed, skipping",
					zap.String("transaction_id", t.ID.String()),
					zap.Error(err),
				)
				continue
			}
			if charge.Successful() {
				if _, err := j.capture(ctx, t.ID, charge); err != nil {
					j.log.Error("late capture failed", zap.String("transaction_id", t.ID.String()), zap.Error(err))
				}
				continue
			}
		}
		if j.abandon(ctx, t.ID, "payment window expired") {
			reaped++
		}
	}

	metrics.RecordReaped(reaped)
	if reaped > 0 {
		j.log.Info("reaped expired transactions", zap.Int("count", reaped), zap.Int("scanned", len(expired)))
	}
	return reaped, nil
}

// AutoComplete confirms, on behalf of whoever has not, transactions that
// stayed delivered past the confirmation window without a dispute.
func (j *Jobs) AutoComplete(ctx context.Context) (int, error) {
	started := time.Now()
	defer metrics.ObserveWorkerRun("auto_complete", started)

	cutoff := j.now().Add(-j.cfg.AutoCompleteAfter)
	due, err := j.store.Transactions().ListDeliveredBefore(ctx, cutoff, j.batch())
	if err != nil {
		return 0, apperror.Internal(err, "list delivered transactions")
	}

	done := 0
	for _, t := range due {
		if ctx.Err() != nil {
			break
		}
		if _, err := j.confirm(ctx, t.ID, t.Kind, models.SystemActor()); err != nil {
			// The transaction moved since the listing, usually a new dispute.
			if apperror.Is(err, apperror.KindBadRequest) {
				j.log.Debug("auto-complete skipped",
					zap.String("transaction_id", t.ID.String()),
					zap.String("reason", apperror.Message(err)),
				)
				continue
			}
			j.log.Error("auto-complete failed", zap.String("transaction_id", t.ID.String()), zap.Error(err))
			continue
		}
		done++
	}

	metrics.RecordAutoCompleted(done)
	if done > 0 {
		j.log.Info("auto-completed transactions", zap.Int("count", done))
	}
	return done, nil
}
