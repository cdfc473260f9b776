// Package escrow moves held funds between the customer, the seller and the
// platform. Every operation runs inside the caller's unit of work and flips
// escrow_status with a compare-and-swap before any wallet is credited.
package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/marketplace-escrow/backend/internal/apperror"
	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/marketplace-escrow/backend/internal/repositories"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var hundred = decimal.NewFromInt(100)

type Purpose string

const (
	PurposeCompletion   Purpose = "completion"
	PurposeCancellation Purpose = "cancellation"
	PurposeDispute      Purpose = "dispute"
)

// Settlement is the outcome of one terminal escrow operation.
// CustomerRefund + SellerNet + Commission always equals Escrowed.
type Settlement struct {
	TransactionID  uuid.UUID           `json:"transaction_id"`
	From           models.EscrowStatus `json:"from"`
	To             models.EscrowStatus `json:"to"`
	Escrowed       decimal.Decimal     `json:"escrowed"`
	CustomerRefund decimal.Decimal     `json:"customer_refund"`
	SellerNet      decimal.Decimal     `json:"seller_net"`
	Commission     decimal.Decimal     `json:"commission"`
	CommissionRate decimal.Decimal     `json:"commission_rate"`
}

// RateFunc returns the platform commission rate for a subscription tier.
type RateFunc func(tier string) decimal.Decimal

type Custodian struct {
	platformAccount uuid.UUID
	rateFor         RateFunc
	log             *zap.Logger
}

func NewCustodian(platformAccount uuid.UUID, rateFor RateFunc, log *zap.Logger) *Custodian {
	return &Custodian{platformAccount: platformAccount, rateFor: rateFor, log: log}
}

// Hold locks the paid amount. Only confirm-payment paths call it.
func (c *Custodian) Hold(ctx context.Context, tx repositories.Repos, t *models.Transaction) error {
	if !t.IsPaid {
		return apperror.BadRequest("cannot hold escrow for %s: payment not captured", t.Reference)
	}
	if t.EscrowStatus != models.EscrowPending {
		return apperror.BadRequest("cannot hold escrow for %s: escrow is %s", t.Reference, t.EscrowStatus)
	}

	if err := c.swap(ctx, tx, t, models.EscrowPending, models.EscrowLocked, t.TotalAmount); err != nil {
		return err
	}
	t.EscrowedAmount = t.TotalAmount
	return nil
}

// Release pays the seller in full, minus platform commission.
func (c *Custodian) Release(ctx context.Context, tx repositories.Repos, t *models.Transaction) (*Settlement, error) {
	return c.settle(ctx, tx, t, decimal.Zero, PurposeCompletion)
}

// Refund returns pct (0-100] of the escrow to the customer. Any remainder is
// released to the seller in the same operation and bears commission.
func (c *Custodian) Refund(ctx context.Context, tx repositories.Repos, t *models.Transaction, pct decimal.Decimal, purpose Purpose) (*Settlement, error) {
	if !pct.IsPositive() || pct.GreaterThan(hundred) {
		return nil, apperror.BadRequest("refund percentage must be within (0, 100], got %s", pct)
	}
	return c.settle(ctx, tx, t, pct, purpose)
}

// Redirect applies a dispute resolution to a locked escrow.
func (c *Custodian) Redirect(ctx context.Context, tx repositories.Repos, t *models.Transaction, r models.Resolution, pct decimal.Decimal) (*Settlement, error) {
	if t.Status != models.StatusDisputed || !t.HasDispute {
		return nil, apperror.BadRequest("transaction %s is not under dispute", t.Reference)
	}
	switch r {
	case models.ResolutionFullRefund, models.ResolutionCustomerWins:
		return c.Refund(ctx, tx, t, hundred, PurposeDispute)
	case models.ResolutionSellerWins:
		return c.settle(ctx, tx, t, decimal.Zero, PurposeDispute)
	case models.ResolutionPartialRefund:
		if !pct.IsPositive() || !pct.LessThan(hundred) {
			return nil, apperror.BadRequest("partial refund percentage must be within (0, 100), got %s", pct)
		}
		return c.Refund(ctx, tx, t, pct, PurposeDispute)
	}
	return nil, apperror.BadRequest("resolution %q does not redirect escrow", r)
}

// Split computes the three-way split without touching storage.
func Split(escrowed, refundPct, commissionRate decimal.Decimal) (refund, sellerNet, commission decimal.Decimal) {
	refund = escrowed.Mul(refundPct).Div(hundred).Round(2)
	remainder := escrowed.Sub(refund)
	commission = decimal.Zero
	if remainder.IsPositive() {
		commission = remainder.Mul(commissionRate).Round(2)
	}
	sellerNet = remainder.Sub(commission)
	return refund, sellerNet, commission
}

func (c *Custodian) settle(ctx context.Context, tx repositories.Repos, t *models.Transaction, refundPct decimal.Decimal, purpose Purpose) (*Settlement, error) {
	if err := checkLocked(t); err != nil {
		return nil, err
	}

	to := models.EscrowReleased
	switch {
	case refundPct.Equal(hundred):
		to = models.EscrowRefunded
	case refundPct.IsPositive():
		to = models.EscrowPartiallyRefunded
	}

	rate := decimal.Zero
	if !refundPct.Equal(hundred) {
		var err error
		if rate, err = c.commissionRate(ctx, tx, t); err != nil {
			return nil, err
		}
	}

	escrowed := t.EscrowedAmount
	refund, sellerNet, commission := Split(escrowed, refundPct, rate)

	if err := c.swap(ctx, tx, t, models.EscrowLocked, to, escrowed); err != nil {
		return nil, err
	}

	ref := t.PaymentReference
	if refund.IsPositive() {
		if err := c.credit(ctx, tx, t.CustomerID, refund, models.CategoryEscrowRefund, t.ID, ref,
			fmt.Sprintf("refund %s%% of %s", refundPct.String(), t.Reference)); err != nil {
			return nil, err
		}
	}
	if sellerNet.IsPositive() {
		category := models.CategoryEscrowRelease
		if purpose == PurposeCancellation {
			category = models.CategoryCancellationPenalty
		}
		if err := c.credit(ctx, tx, t.SellerID, sellerNet, category, t.ID, ref,
			fmt.Sprintf("payout for %s", t.Reference)); err != nil {
			return nil, err
		}
	}
	if commission.IsPositive() {
		if err := c.credit(ctx, tx, c.platformAccount, commission, models.CategoryCommission, t.ID, ref,
			fmt.Sprintf("commission %s on %s", rate.String(), t.Reference)); err != nil {
			return nil, err
		}
	}

	c.log.Info("escrow settled",
		zap.String("transaction_id", t.ID.String()),
		zap.String("purpose", string(purpose)),
		zap.String("to", string(to)),
		zap.String("refund", refund.String()),
		zap.String("seller_net", sellerNet.String()),
		zap.String("commission", commission.String()),
	)

	return &Settlement{
		TransactionID:  t.ID,
		From:           models.EscrowLocked,
		To:             to,
		Escrowed:       escrowed,
		CustomerRefund: refund,
		SellerNet:      sellerNet,
		Commission:     commission,
		CommissionRate: rate,
	}, nil
}

func checkLocked(t *models.Transaction) error {
	switch {
	case t.EscrowStatus == models.EscrowLocked:
		if !t.EscrowedAmount.Equal(t.TotalAmount) {
			return apperror.Conflict("escrowed amount %s differs from total %s on %s", t.EscrowedAmount, t.TotalAmount, t.Reference)
		}
		return nil
	case t.EscrowStatus.Settled():
		return apperror.Conflict("escrow for %s already %s", t.Reference, t.EscrowStatus)
	default:
		return apperror.BadRequest("escrow for %s is not held (status %s)", t.Reference, t.EscrowStatus)
	}
}

func (c *Custodian) swap(ctx context.Context, tx repositories.Repos, t *models.Transaction, from, to models.EscrowStatus, escrowed decimal.Decimal) error {
	err := tx.Transactions().SwapEscrow(ctx, t.ID, from, to, escrowed)
	if errors.Is(err, repositories.ErrStaleEscrow) {
		return apperror.Conflict("escrow for %s changed concurrently", t.Reference)
	}
	if err != nil {
		return apperror.Internal(err, "swap escrow status")
	}
	t.EscrowStatus = to
	return nil
}

func (c *Custodian) commissionRate(ctx context.Context, tx repositories.Repos, t *models.Transaction) (decimal.Decimal, error) {
	if t.SellerType == models.SellerTypeAdmin {
		return decimal.Zero, nil
	}
	seller, err := tx.Users().GetByID(ctx, t.SellerID)
	if errors.Is(err, repositories.ErrNotFound) {
		return c.rateFor(""), nil
	}
	if err != nil {
		return decimal.Zero, apperror.Internal(err, "load seller for commission")
	}
	return c.rateFor(string(seller.SubscriptionTier)), nil
}

func (c *Custodian) credit(ctx context.Context, tx repositories.Repos, userID uuid.UUID, amount decimal.Decimal, category string, txID uuid.UUID, ref, desc string) error {
	e := &models.WalletEntry{
		UserID:           userID,
		Category:         category,
		Amount:           amount,
		TransactionID:    &txID,
		PaymentReference: &ref,
		Description:      desc,
	}
	if err := tx.Wallets().Credit(ctx, e); err != nil {
		return apperror.Internal(err, "credit wallet")
	}
	return nil
}

// CreditLatePayment refunds a capture that landed after the transaction was
// reaped. It flips pending -> refunded so a second delivery cannot credit twice.
func (c *Custodian) CreditLatePayment(ctx context.Context, tx repositories.Repos, t *models.Transaction, amount decimal.Decimal) error {
	if t.EscrowStatus != models.EscrowPending {
		return apperror.Conflict("late payment for %s already settled (escrow %s)", t.Reference, t.EscrowStatus)
	}
	if err := c.swap(ctx, tx, t, models.EscrowPending, models.EscrowRefunded, amount); err != nil {
		return err
	}
	t.EscrowedAmount = amount
	return c.credit(ctx, tx, t.CustomerID, amount, models.CategoryLatePaymentRefund, t.ID, t.PaymentReference,
		fmt.Sprintf("payment received after %s was cancelled", t.Reference))
}
