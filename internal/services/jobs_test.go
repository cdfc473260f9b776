package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marketplace-escrow/backend/internal/escrow"
	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/marketplace-escrow/backend/internal/payments"
	"github.com/marketplace-escrow/backend/internal/repositories"
	"github.com/marketplace-escrow/backend/internal/services"
	"github.com/marketplace-escrow/backend/internal/testutil/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestAutoCompleteAfterWindow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.store.Fund(e.customer.ID, dec("20000"))
	tx := e.order(t, e.product("9500", 3), 1)
	e.deliverOrder(t, tx.ID)

	disputed := e.order(t, e.product("1000", 3), 1)
	e.deliverOrder(t, disputed.ID)
	_, err := e.disputes.Open(ctx, disputed.ID, e.customer, services.OpenDisputeInput{
		Reason: models.ReasonDamagedItem, Description: "dented",
	})
	require.NoError(t, err)

	delivered := e.clock.Now()
	e.clock.Set(delivered.Add(71 * time.Hour))
	n, err := e.jobs.AutoComplete(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	e.clock.Set(delivered.Add(73 * time.Hour))
	n, err = e.jobs.AutoComplete(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	done := e.reload(t, tx.ID)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.True(t, done.CustomerConfirmed)
	assert.True(t, done.SellerConfirmed)
	assert.Equal(t, models.EscrowReleased, done.EscrowStatus)
	assert.True(t, e.store.Balance(e.seller.ID).Equal(dec("9000")))
	assert.Equal(t, models.StatusDisputed, e.reload(t, disputed.ID).Status)

	n, err = e.jobs.AutoComplete(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAutoCompleteWindowIgnoresPartyConfirmation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.store.Fund(e.customer.ID, dec("10000"))
	tx := e.order(t, e.product("9500", 3), 1)
	e.deliverOrder(t, tx.ID)
	delivered := e.clock.Now()

	e.clock.Set(delivered.Add(71 * time.Hour))
	_, err := e.orders.ConfirmDelivery(ctx, tx.ID, e.customer)
	require.NoError(t, err)

	e.clock.Set(delivered.Add(73 * time.Hour))
	n, err := e.jobs.AutoComplete(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	done := e.reload(t, tx.ID)
	assert.Equal(t, models.StatusCompleted, done.Status)
	require.NotNil(t, done.DeliveredAt)
	assert.True(t, done.DeliveredAt.Equal(delivered))
	assert.Equal(t, models.EscrowReleased, done.EscrowStatus)
}

// staleListing marks every listed transaction disputed right after the
// listing, as if a party opened a dispute while the sweep was running.
type staleListing struct {
	*memstore.Store
}

func (s staleListing) Transactions() repositories.TransactionRepository {
	return staleTransactions{TransactionRepository: s.Store.Transactions(), store: s.Store}
}

type staleTransactions struct {
	repositories.TransactionRepository
	store *memstore.Store
}

func (r staleTransactions) ListDeliveredBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error) {
	out, err := r.TransactionRepository.ListDeliveredBefore(ctx, cutoff, limit)
	for _, t := range out {
		r.store.Mutate(t.ID, func(t *models.Transaction) { t.HasDispute = true })
	}
	return out, err
}

func TestAutoCompleteLogsSkippedConfirmations(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.store.Fund(e.customer.ID, dec("10000"))
	tx := e.order(t, e.product("9500", 3), 1)
	e.deliverOrder(t, tx.ID)

	core, logs := observer.New(zapcore.DebugLevel)
	jobs := services.NewJobs(services.Deps{
		Store:     staleListing{e.store},
		Custodian: escrow.NewCustodian(platform, e.cfg.CommissionRate, zap.NewNop()),
		Gateway:   e.gateway,
		Config:    e.cfg,
		Log:       zap.New(core),
		Clock:     e.clock.Now,
	})

	e.clock.Set(e.clock.Now().Add(73 * time.Hour))
	n, err := jobs.AutoComplete(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, models.EscrowLocked, e.reload(t, tx.ID).EscrowStatus)

	skipped := logs.FilterMessage("auto-complete skipped").AllUntimed()
	require.Len(t, skipped, 1)
	assert.Equal(t, zapcore.DebugLevel, skipped[0].Level)
	assert.Equal(t, tx.ID.String(), skipped[0].ContextMap()["transaction_id"])
	assert.Contains(t, skipped[0].ContextMap()["reason"], "open dispute")
	assert.Zero(t, logs.FilterMessage("auto-complete failed").Len())
}

func TestReaperCapturesChargeThatSucceeded(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.product("1000", 5)
	e.chargeReturns(&payments.Charge{ID: "chrg_test_1", Status: payments.ChargePending}, nil)
	res, err := e.cardOrder(p, 1)
	require.NoError(t, err)

	e.gateway.On("RetrieveCharge", mock.Anything, "chrg_test_1").Return(&payments.Charge{
		ID: "chrg_test_1", Status: payments.ChargeSuccessful, Amount: dec("1500"), Currency: "thb",
	}, nil)
	e.clock.Set(e.clock.Now().Add(20 * time.Minute))

	reaped, err := e.jobs.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, reaped)

	stored := e.reload(t, res.Transaction.ID)
	assert.True(t, stored.IsPaid)
	assert.Nil(t, stored.DeletedAt)
	assert.Equal(t, models.EscrowLocked, stored.EscrowStatus)
	assert.Equal(t, 4, e.store.Stock(p.ID))
}

func TestReaperSkipsWhenGatewayUnavailable(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.product("1000", 5)
	e.chargeReturns(&payments.Charge{ID: "chrg_test_1", Status: payments.ChargePending}, nil)
	res, err := e.cardOrder(p, 1)
	require.NoError(t, err)

	e.gateway.On("RetrieveCharge", mock.Anything, "chrg_test_1").Return(nil, errors.New("omise: 503"))
	e.clock.Set(e.clock.Now().Add(20 * time.Minute))

	reaped, err := e.jobs.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, reaped)

	stored := e.reload(t, res.Transaction.ID)
	assert.Nil(t, stored.DeletedAt)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Equal(t, 4, e.store.Stock(p.ID))
}

func TestReaperLeavesOpenWindowsAlone(t *testing.T) {
	e := newEnv(t)
	e.chargeReturns(&payments.Charge{ID: "chrg_test_1", Status: payments.ChargePending}, nil)
	_, err := e.cardOrder(e.product("1000", 5), 1)
	require.NoError(t, err)

	e.clock.Set(e.clock.Now().Add(10 * time.Minute))
	reaped, err := e.jobs.ReapExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, reaped)
	e.gateway.AssertNotCalled(t, "RetrieveCharge", mock.Anything, mock.Anything)
}
