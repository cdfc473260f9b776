package escrow_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/marketplace-escrow/backend/internal/apperror"
	"github.com/marketplace-escrow/backend/internal/escrow"
	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/marketplace-escrow/backend/internal/repositories"
	"github.com/marketplace-escrow/backend/internal/testutil/memstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var platform = uuid.MustParse("00000000-0000-0000-0000-000000000001")

func rates(tier string) decimal.Decimal {
	switch tier {
	case "premium":
		return decimal.RequireFromString("0.05")
	case "basic":
		return decimal.RequireFromString("0.07")
	}
	return decimal.RequireFromString("0.10")
}

type fixture struct {
	store     *memstore.Store
	custodian *escrow.Custodian
	customer  uuid.UUID
	seller    uuid.UUID
}

func newFixture(t *testing.T, tier models.SubscriptionTier) *fixture {
	t.Helper()
	s := memstore.New()
	c := s.AddUser(models.User{Role: models.RoleCustomer, Name: "customer"})
	v := s.AddUser(models.User{Role: models.RoleSeller, Name: "seller", SubscriptionTier: tier})
	return &fixture{
		store:     s,
		custodian: escrow.NewCustodian(platform, rates, zap.NewNop()),
		customer:  c.ID,
		seller:    v.ID,
	}
}

func (f *fixture) paidTransaction(t *testing.T, total string) *models.Transaction {
	t.Helper()
	tx := &models.Transaction{
		Kind:             models.KindOrder,
		CustomerID:       f.customer,
		SellerID:         f.seller,
		SellerType:       models.SellerTypeVendor,
		Subtotal:         decimal.RequireFromString(total),
		TotalAmount:      decimal.RequireFromString(total),
		Currency:         "thb",
		PaymentMethod:    models.PaymentWallet,
		PaymentReference: "PAY-" + uuid.NewString(),
		IsPaid:           true,
		EscrowStatus:     models.EscrowPending,
		Status:           models.StatusPending,
	}
	require.NoError(t, f.store.Transactions().Create(context.Background(), tx))
	return tx
}

func (f *fixture) locked(t *testing.T, total string) *models.Transaction {
	t.Helper()
	tx := f.paidTransaction(t, total)
	err := f.store.WithTx(context.Background(), func(ctx context.Context, r repositories.Repos) error {
		return f.custodian.Hold(ctx, r, tx)
	})
	require.NoError(t, err)
	return tx
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *models.Transaction {
	t.Helper()
	tx, err := f.store.Transactions().GetByID(context.Background(), id)
	require.NoError(t, err)
	return tx
}

func TestHoldLocksTotal(t *testing.T) {
	f := newFixture(t, models.TierFree)
	tx := f.locked(t, "10500")

	stored := f.reload(t, tx.ID)
	assert.Equal(t, models.EscrowLocked, stored.EscrowStatus)
	assert.True(t, stored.EscrowedAmount.Equal(decimal.NewFromInt(10500)))
}

func TestHoldRequiresPayment(t *testing.T) {
	f := newFixture(t, models.TierFree)
	tx := f.paidTransaction(t, "100")
	tx.IsPaid = false

	err := f.store.WithTx(context.Background(), func(ctx context.Context, r repositories.Repos) error {
		return f.custodian.Hold(ctx, r, tx)
	})
	assert.True(t, apperror.Is(err, apperror.KindBadRequest))
}

func TestHoldTwiceFails(t *testing.T) {
	f := newFixture(t, models.TierFree)
	tx := f.locked(t, "100")

	err := f.store.WithTx(context.Background(), func(ctx context.Context, r repositories.Repos) error {
		return f.custodian.Hold(ctx, r, tx)
	})
	assert.True(t, apperror.Is(err, apperror.KindBadRequest))
}

func TestReleaseSplitsCommission(t *testing.T) {
	f := newFixture(t, models.TierBasic)
	tx := f.locked(t, "10000")

	var st *escrow.Settlement
	err := f.store.WithTx(context.Background(), func(ctx context.Context, r repositories.Repos) error {
		var err error
		st, err = f.custodian.Release(ctx, r, tx)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, models.EscrowReleased, st.To)
	assert.True(t, st.Commission.Equal(decimal.NewFromInt(700)), st.Commission.String())
	assert.True(t, st.SellerNet.Equal(decimal.NewFromInt(9300)), st.SellerNet.String())
	assert.True(t, f.store.Balance(f.seller).Equal(decimal.NewFromInt(9300)))
	assert.True(t, f.store.Balance(platform).Equal(decimal.NewFromInt(700)))
	assert.True(t, f.store.Balance(f.customer).IsZero())
	assert.Equal(t, models.EscrowReleased, f.reload(t, tx.ID).EscrowStatus)
}

func TestFullRefundBearsNoCommission(t *testing.T) {
	f := newFixture(t, models.TierFree)
	tx := f.locked(t, "10500")

	err := f.store.WithTx(context.Background(), func(ctx context.Context, r repositories.Repos) error {
		_, err := f.custodian.Refund(ctx, r, tx, decimal.NewFromInt(100), escrow.PurposeCancellation)
		return err
	})
	require.NoError(t, err)

	assert.True(t, f.store.Balance(f.customer).Equal(decimal.NewFromInt(10500)))
	assert.True(t, f.store.Balance(f.seller).IsZero())
	assert.True(t, f.store.Balance(platform).IsZero())
	assert.Equal(t, models.EscrowRefunded, f.reload(t, tx.ID).EscrowStatus)
}

func TestPartialRefundConservesEscrow(t *testing.T) {
	f := newFixture(t, models.TierFree)
	tx := f.locked(t, "10000")

	var st *escrow.Settlement
	err := f.store.WithTx(context.Background(), func(ctx context.Context, r repositories.Repos) error {
		var err error
		st, err = f.custodian.Refund(ctx, r, tx, decimal.NewFromInt(80), escrow.PurposeCancellation)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, models.EscrowPartiallyRefunded, st.To)
	assert.True(t, st.CustomerRefund.Equal(decimal.NewFromInt(8000)))
	assert.True(t, st.Commission.Equal(decimal.NewFromInt(200)))
	assert.True(t, st.SellerNet.Equal(decimal.NewFromInt(1800)))
	assert.True(t, st.CustomerRefund.Add(st.SellerNet).Add(st.Commission).Equal(st.Escrowed))

	entries, err := f.store.Wallets().EntriesForTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	categories := map[string]bool{}
	for _, e := range entries {
		categories[e.Category] = true
	}
	assert.True(t, categories[models.CategoryEscrowRefund])
	assert.True(t, categories[models.CategoryCancellationPenalty])
	assert.True(t, categories[models.CategoryCommission])
}

func TestSettledEscrowIsConflict(t *testing.T) {
	f := newFixture(t, models.TierFree)
	tx := f.locked(t, "100")

	release := func() error {
		return f.store.WithTx(context.Background(), func(ctx context.Context, r repositories.Repos) error {
			_, err := f.custodian.Release(ctx, r, tx)
			return err
		})
	}
	require.NoError(t, release())

	err := release()
	assert.True(t, apperror.Is(err, apperror.KindConflict))
	assert.True(t, f.store.Balance(f.seller).Equal(decimal.NewFromInt(90)))
}

func TestConcurrentReleaseSettlesOnce(t *testing.T) {
	f := newFixture(t, models.TierFree)
	tx := f.locked(t, "1000")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.store.WithTx(context.Background(), func(ctx context.Context, r repositories.Repos) error {
				// Each racer starts from its own stale read of the row.
				stale := *tx
				_, err := f.custodian.Release(ctx, r, &stale)
				return err
			})
		}(i)
	}
	wg.Wait()

	ok, conflict := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperror.Is(err, apperror.KindConflict):
			conflict++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflict)
	assert.True(t, f.store.Balance(f.seller).Equal(decimal.NewFromInt(900)))
}

func TestRedirectRequiresDispute(t *testing.T) {
	f := newFixture(t, models.TierFree)
	tx := f.locked(t, "100")

	err := f.store.WithTx(context.Background(), func(ctx context.Context, r repositories.Repos) error {
		_, err := f.custodian.Redirect(ctx, r, tx, models.ResolutionFullRefund, decimal.Zero)
		return err
	})
	assert.True(t, apperror.Is(err, apperror.KindBadRequest))
}

func TestRedirectPartialRefund(t *testing.T) {
	f := newFixture(t, models.TierFree)
	tx := f.locked(t, "10000")
	tx.Status, tx.HasDispute = models.StatusDisputed, true

	var st *escrow.Settlement
	err := f.store.WithTx(context.Background(), func(ctx context.Context, r repositories.Repos) error {
		var err error
		st, err = f.custodian.Redirect(ctx, r, tx, models.ResolutionPartialRefund, decimal.NewFromInt(40))
		return err
	})
	require.NoError(t, err)

	assert.True(t, st.CustomerRefund.Equal(decimal.NewFromInt(4000)))
	assert.True(t, f.store.Balance(f.customer).Equal(decimal.NewFromInt(4000)))
	assert.True(t, f.store.Balance(f.seller).Equal(decimal.NewFromInt(5400)))
	assert.True(t, f.store.Balance(platform).Equal(decimal.NewFromInt(600)))
}

func TestRedirectRejectsReplacement(t *testing.T) {
	f := newFixture(t, models.TierFree)
	tx := f.locked(t, "100")
	tx.Status, tx.HasDispute = models.StatusDisputed, true

	err := f.store.WithTx(context.Background(), func(ctx context.Context, r repositories.Repos) error {
		_, err := f.custodian.Redirect(ctx, r, tx, models.ResolutionReplacement, decimal.Zero)
		return err
	})
	assert.True(t, apperror.Is(err, apperror.KindBadRequest))
	assert.Equal(t, models.EscrowLocked, f.reload(t, tx.ID).EscrowStatus)
}

func TestSplitRounding(t *testing.T) {
	refund, net, commission := escrow.Split(decimal.RequireFromString("333.33"), decimal.NewFromInt(33), decimal.RequireFromString("0.07"))
	assert.Equal(t, "110", refund.String())
	assert.True(t, refund.Add(net).Add(commission).Equal(decimal.RequireFromString("333.33")))
}
