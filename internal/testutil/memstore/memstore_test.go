package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/marketplace-escrow/backend/internal/repositories"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTxRollsBackOnError(t *testing.T) {
	s := New()
	seller := s.AddUser(models.User{Role: models.RoleSeller})
	p := s.AddProduct(models.Product{SellerID: seller.ID, Price: decimal.NewFromInt(10), Stock: 5})

	boom := errors.New("boom")
	err := s.WithTx(context.Background(), func(ctx context.Context, tx repositories.Repos) error {
		require.NoError(t, tx.Catalog().ReserveStock(ctx, p.ID, 3))
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 5, s.Stock(p.ID))
}

func TestSwapEscrowIsCompareAndSwap(t *testing.T) {
	s := New()
	ctx := context.Background()
	tx := &models.Transaction{Kind: models.KindOrder, PaymentReference: "ref-1", EscrowStatus: models.EscrowLocked, IsPaid: true}
	require.NoError(t, s.Transactions().Create(ctx, tx))

	require.NoError(t, s.Transactions().SwapEscrow(ctx, tx.ID, models.EscrowLocked, models.EscrowReleased, decimal.Zero))
	err := s.Transactions().SwapEscrow(ctx, tx.ID, models.EscrowLocked, models.EscrowRefunded, decimal.Zero)
	assert.ErrorIs(t, err, repositories.ErrStaleEscrow)
}

func TestUpdateKeepsHistoryAndEscrow(t *testing.T) {
	s := New()
	ctx := context.Background()
	tx := &models.Transaction{Kind: models.KindOrder, PaymentReference: "ref-2", EscrowStatus: models.EscrowPending, Status: models.StatusPending}
	require.NoError(t, s.Transactions().Create(ctx, tx))
	require.NoError(t, s.Transactions().AppendHistory(ctx, tx.ID, models.StatusEntry{Status: models.StatusPending}))

	tx.EscrowStatus = models.EscrowReleased
	tx.History = nil
	tx.Status = models.StatusConfirmed
	require.NoError(t, s.Transactions().Update(ctx, tx))

	got, err := s.Transactions().GetByID(ctx, tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusConfirmed, got.Status)
	assert.Equal(t, models.EscrowPending, got.EscrowStatus)
	assert.Len(t, got.History, 1)
}

func TestDebitRequiresBalance(t *testing.T) {
	s := New()
	u := s.AddUser(models.User{Role: models.RoleCustomer})
	s.Fund(u.ID, decimal.NewFromInt(100))

	e := &models.WalletEntry{UserID: u.ID, Amount: decimal.NewFromInt(150)}
	assert.ErrorIs(t, s.Wallets().Debit(context.Background(), e), repositories.ErrInsufficientFunds)

	e.Amount = decimal.NewFromInt(40)
	require.NoError(t, s.Wallets().Debit(context.Background(), e))
	assert.Equal(t, "60", s.Balance(u.ID).String())
	assert.Equal(t, "60", e.BalanceAfter.String())
}
