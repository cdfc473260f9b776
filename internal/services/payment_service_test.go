package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/marketplace-escrow/backend/internal/apperror"
	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/marketplace-escrow/backend/internal/payments"
	"github.com/marketplace-escrow/backend/internal/repositories"
	"github.com/marketplace-escrow/backend/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func card() services.PaymentInput {
	return services.PaymentInput{Method: models.PaymentCard, CardToken: "tokn_test_5086xl7"}
}

func (e *env) cardOrder(p *models.Product, qty int) (*services.PlaceResult, error) {
	return e.orders.Create(context.Background(), e.customer, services.CreateOrderInput{
		Items:            []services.OrderLine{{ProductID: p.ID, Quantity: qty}},
		DeliveryAddress:  "99 Sukhumvit Rd",
		DeliveryLocation: nearby,
		Payment:          card(),
	})
}

func (e *env) chargeReturns(c *payments.Charge, err error) {
	e.gateway.On("CreateCharge", mock.Anything, mock.AnythingOfType("payments.ChargeRequest")).Return(c, err)
}

// lastChargeRequest returns what the service sent to the gateway.
func (e *env) lastChargeRequest(t *testing.T) payments.ChargeRequest {
	t.Helper()
	for i := len(e.gateway.Calls) - 1; i >= 0; i-- {
		if e.gateway.Calls[i].Method == "CreateCharge" {
			return e.gateway.Calls[i].Arguments.Get(1).(payments.ChargeRequest)
		}
	}
	t.Fatal("CreateCharge was not called")
	return payments.ChargeRequest{}
}

func (e *env) webhook(id, reference string, status payments.ChargeStatus, amount string) {
	e.gateway.On("RetrieveEvent", mock.Anything, id).Return(&payments.WebhookEvent{
		ID:  id,
		Key: "charge.complete",
		Charge: &payments.Charge{
			ID:        "chrg_test_1",
			Reference: reference,
			Status:    status,
			Amount:    dec(amount),
			Currency:  "thb",
		},
	}, nil)
}

func TestCardChargeCapturedImmediately(t *testing.T) {
	e := newEnv(t)
	p := e.product("1000", 5)
	e.chargeReturns(&payments.Charge{ID: "chrg_test_1", Status: payments.ChargeSuccessful, Amount: dec("1500"), Currency: "thb"}, nil)

	res, err := e.cardOrder(p, 1)
	require.NoError(t, err)
	assert.Empty(t, res.AuthorizeURI)

	req := e.lastChargeRequest(t)
	assert.True(t, req.Amount.Equal(dec("1500")))
	assert.Equal(t, "tokn_test_5086xl7", req.CardToken)

	stored := e.reload(t, res.Transaction.ID)
	assert.True(t, stored.IsPaid)
	assert.Equal(t, models.EscrowLocked, stored.EscrowStatus)
	assert.True(t, stored.EscrowedAmount.Equal(dec("1500")))
	assert.Equal(t, 4, e.store.Stock(p.ID))
	assert.True(t, e.store.Balance(e.customer.ID).IsZero())
	e.gateway.AssertExpectations(t)
}

func TestCardAuthorizeThenWebhookCapturesOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.product("1000", 5)
	e.chargeReturns(&payments.Charge{
		ID:           "chrg_test_1",
		Status:       payments.ChargePending,
		AuthorizeURI: "https://api.omise.co/payments/paym_test/authorize",
	}, nil)

	res, err := e.cardOrder(p, 2)
	require.NoError(t, err)
	assert.Equal(t, "https://api.omise.co/payments/paym_test/authorize", res.AuthorizeURI)
	assert.False(t, res.Transaction.IsPaid)
	require.NotNil(t, res.Transaction.GatewayChargeID)
	assert.Equal(t, "chrg_test_1", *res.Transaction.GatewayChargeID)
	assert.Equal(t, 3, e.store.Stock(p.ID))

	_, err = e.orders.SellerUpdate(ctx, res.Transaction.ID, e.seller, services.SellerOrderUpdate{Status: models.StatusConfirmed})
	assert.True(t, apperror.Is(err, apperror.KindBadRequest), "unpaid orders cannot be confirmed")

	e.webhook("evnt_test_1", res.Transaction.PaymentReference, payments.ChargeSuccessful, "2500")
	require.NoError(t, e.payments.HandleWebhook(ctx, "evnt_test_1"))
	require.NoError(t, e.payments.HandleWebhook(ctx, "evnt_test_1"))

	stored := e.reload(t, res.Transaction.ID)
	assert.True(t, stored.IsPaid)
	assert.Equal(t, models.EscrowLocked, stored.EscrowStatus)

	captured := 0
	for _, action := range e.store.AuditActions(stored.ID) {
		if action == "payment_captured" {
			captured++
		}
	}
	assert.Equal(t, 1, captured)

	_, err = e.orders.SellerUpdate(ctx, stored.ID, e.seller, services.SellerOrderUpdate{Status: models.StatusConfirmed})
	assert.NoError(t, err)
}

func TestConfirmPaymentVerifiesWithGateway(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.chargeReturns(&payments.Charge{ID: "chrg_test_1", Status: payments.ChargeAwaitingAuthorize}, nil)
	res, err := e.cardOrder(e.product("1000", 5), 1)
	require.NoError(t, err)
	ref := res.Transaction.PaymentReference

	e.gateway.On("RetrieveCharge", mock.Anything, "chrg_test_1").Return(&payments.Charge{
		ID: "chrg_test_1", Reference: ref, Status: payments.ChargeSuccessful, Amount: dec("1500"), Currency: "THB",
	}, nil)

	paid, err := e.payments.ConfirmPayment(ctx, ref)
	require.NoError(t, err)
	assert.True(t, paid.IsPaid)

	_, err = e.payments.ConfirmPayment(ctx, "PAY-UNKNOWN")
	assert.True(t, apperror.Is(err, apperror.KindNotFound))
}

func TestDeclinedCardRestoresStock(t *testing.T) {
	e := newEnv(t)
	p := e.product("1000", 5)
	e.chargeReturns(&payments.Charge{
		ID:             "chrg_test_1",
		Status:         payments.ChargeFailed,
		FailureCode:    "insufficient_fund",
		FailureMessage: "insufficient funds in the account",
	}, nil)

	_, err := e.cardOrder(p, 2)
	assert.True(t, apperror.Is(err, apperror.KindBadRequest))
	assert.Contains(t, apperror.Message(err), "insufficient funds")
	assert.Equal(t, 5, e.store.Stock(p.ID))

	stored, err := e.store.Transactions().GetByPaymentReference(context.Background(), e.lastChargeRequest(t).Reference)
	require.NoError(t, err)
	assert.NotNil(t, stored.DeletedAt)
	assert.Equal(t, models.StatusCancelled, stored.Status)

	list, err := e.queries.List(context.Background(), e.customer, repositories.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestGatewayErrorAbandonsTransaction(t *testing.T) {
	e := newEnv(t)
	p := e.product("1000", 5)
	e.chargeReturns(nil, errors.New("omise: connection reset"))

	_, err := e.cardOrder(p, 1)
	assert.True(t, apperror.Is(err, apperror.KindBadRequest))
	assert.Equal(t, 5, e.store.Stock(p.ID))
}

func TestWebhookAmountMismatchIsRejected(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.chargeReturns(&payments.Charge{ID: "chrg_test_1", Status: payments.ChargePending}, nil)
	res, err := e.cardOrder(e.product("1000", 5), 1)
	require.NoError(t, err)

	e.webhook("evnt_test_1", res.Transaction.PaymentReference, payments.ChargeSuccessful, "1.00")
	err = e.payments.HandleWebhook(ctx, "evnt_test_1")
	assert.True(t, apperror.Is(err, apperror.KindBadRequest))
	assert.False(t, e.reload(t, res.Transaction.ID).IsPaid)

	e.webhook("evnt_unrelated", "PAY-SOMEONE-ELSE", payments.ChargeSuccessful, "1500")
	assert.NoError(t, e.payments.HandleWebhook(ctx, "evnt_unrelated"))
}

func TestLatePaymentIsCreditedOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := e.product("1000", 5)
	e.chargeReturns(&payments.Charge{ID: "chrg_test_1", Status: payments.ChargePending}, nil)
	res, err := e.cardOrder(p, 1)
	require.NoError(t, err)

	e.gateway.On("RetrieveCharge", mock.Anything, "chrg_test_1").
		Return(&payments.Charge{ID: "chrg_test_1", Status: payments.ChargePending}, nil).Once()
	e.clock.Set(e.clock.Now().Add(16 * time.Minute))

	reaped, err := e.jobs.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reaped)
	assert.Equal(t, 5, e.store.Stock(p.ID))

	e.webhook("evnt_test_1", res.Transaction.PaymentReference, payments.ChargeSuccessful, "1500")
	require.NoError(t, e.payments.HandleWebhook(ctx, "evnt_test_1"))
	require.NoError(t, e.payments.HandleWebhook(ctx, "evnt_test_1"))

	assert.True(t, e.store.Balance(e.customer.ID).Equal(dec("1500")))
	stored := e.reload(t, res.Transaction.ID)
	assert.True(t, stored.IsPaid)
	assert.Equal(t, models.StatusCancelled, stored.Status)
	assert.Equal(t, models.EscrowRefunded, stored.EscrowStatus)
	assert.Equal(t, 5, e.store.Stock(p.ID))

	entries, err := e.store.Wallets().EntriesForTransaction(ctx, stored.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.CategoryLatePaymentRefund, entries[0].Category)
}
