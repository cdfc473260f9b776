package services_test

import (
	"context"
	"testing"

	"github.com/marketplace-escrow/backend/internal/apperror"
	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/marketplace-escrow/backend/internal/repositories"
	"github.com/marketplace-escrow/backend/internal/services"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// disputed delivers a 10000 order and opens a dispute on it.
func (e *env) disputed(t *testing.T, reason models.DisputeReason) (*models.Transaction, *models.Dispute) {
	t.Helper()
	e.store.Fund(e.customer.ID, dec("10000"))
	tx := e.order(t, e.product("9500", 3), 1)
	require.True(t, tx.TotalAmount.Equal(dec("10000")))
	e.deliverOrder(t, tx.ID)

	d, err := e.disputes.Open(context.Background(), tx.ID, e.customer, services.OpenDisputeInput{
		Reason:      reason,
		Description: "the box was empty",
		Evidence:    []string{"https://cdn.example.test/unboxing.jpg"},
	})
	require.NoError(t, err)
	return tx, d
}

func TestOpenDisputeBlocksConfirmation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tx, d := e.disputed(t, models.ReasonItemNotReceived)

	assert.Equal(t, models.DisputeStatusOpen, d.Status)
	assert.Equal(t, models.PriorityHigh, d.Priority)
	assert.True(t, d.CustomerResponded)

	stored := e.reload(t, tx.ID)
	assert.True(t, stored.HasDispute)
	assert.Equal(t, models.StatusDisputed, stored.Status)
	assert.Equal(t, models.EscrowLocked, stored.EscrowStatus)
	require.NotNil(t, stored.DisputeID)
	assert.Equal(t, d.ID, *stored.DisputeID)

	_, err := e.orders.ConfirmDelivery(ctx, tx.ID, e.customer)
	assert.True(t, apperror.Is(err, apperror.KindBadRequest))
	_, err = e.orders.ConfirmDelivery(ctx, tx.ID, e.seller)
	assert.True(t, apperror.Is(err, apperror.KindBadRequest))
	assert.False(t, e.reload(t, tx.ID).CustomerConfirmed)

	_, err = e.disputes.Open(ctx, tx.ID, e.seller, services.OpenDisputeInput{Reason: models.ReasonOther, Description: "again"})
	assert.True(t, apperror.Is(err, apperror.KindBadRequest))
}

func TestOpenDisputeRequiresDelivery(t *testing.T) {
	e := newEnv(t)
	e.store.Fund(e.customer.ID, dec("10000"))
	tx := e.order(t, e.product("1000", 3), 1)

	_, err := e.disputes.Open(context.Background(), tx.ID, e.customer, services.OpenDisputeInput{
		Reason: models.ReasonDamagedItem, Description: "cracked",
	})
	assert.True(t, apperror.Is(err, apperror.KindBadRequest))

	_, err = e.disputes.Open(context.Background(), tx.ID, e.customer, services.OpenDisputeInput{
		Reason: "bored", Description: "x",
	})
	assert.True(t, apperror.Is(err, apperror.KindBadRequest))
}

func TestResolvePartialRefund(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tx, d := e.disputed(t, models.ReasonDamagedItem)
	assert.Equal(t, models.PriorityMedium, d.Priority)

	in := services.ResolveDisputeInput{
		Resolution:       models.ResolutionPartialRefund,
		RefundPercentage: decimal.NewFromInt(40),
		Note:             "partial damage",
	}
	_, err := e.disputes.Resolve(ctx, d.ID, e.customer, in)
	assert.True(t, apperror.Is(err, apperror.KindUnauthorized))

	res, err := e.disputes.Resolve(ctx, d.ID, e.admin, in)
	require.NoError(t, err)
	require.NotNil(t, res.Settlement)
	assert.Equal(t, models.DisputeStatusResolved, res.Dispute.Status)
	assert.True(t, res.Dispute.RefundAmount.Decimal.Equal(dec("4000")))

	assert.True(t, e.store.Balance(e.customer.ID).Equal(dec("4000")))
	assert.True(t, e.store.Balance(e.seller.ID).Equal(dec("5400")))
	assert.True(t, e.store.Balance(platform).Equal(dec("600")))
	assert.Equal(t, models.EscrowPartiallyRefunded, e.reload(t, tx.ID).EscrowStatus)

	_, err = e.disputes.Resolve(ctx, d.ID, e.admin, in)
	assert.Error(t, err)
	assert.True(t, e.store.Balance(e.customer.ID).Equal(dec("4000")))

	closed, err := e.disputes.Close(ctx, d.ID, e.admin, "")
	require.NoError(t, err)
	assert.Equal(t, models.DisputeStatusClosed, closed.Status)

	final := e.reload(t, tx.ID)
	assert.Equal(t, models.StatusCompleted, final.Status)
	assert.False(t, final.HasDispute)
	assert.Contains(t, e.store.AuditActions(d.ID), "dispute_resolved")
}

func TestResolveFullRefundThenClose(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tx, d := e.disputed(t, models.ReasonWrongItem)

	_, err := e.disputes.Close(ctx, d.ID, e.admin, "")
	assert.True(t, apperror.Is(err, apperror.KindBadRequest), "must resolve first")

	_, err = e.disputes.Resolve(ctx, d.ID, e.admin, services.ResolveDisputeInput{Resolution: models.ResolutionCustomerWins})
	require.NoError(t, err)
	assert.True(t, e.store.Balance(e.customer.ID).Equal(dec("10000")))
	assert.True(t, e.store.Balance(e.seller.ID).IsZero())

	_, err = e.disputes.Close(ctx, d.ID, e.admin, "refunded")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRefunded, e.reload(t, tx.ID).Status)
}

func TestResolveReplacementKeepsEscrow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tx, d := e.disputed(t, models.ReasonWrongItem)

	res, err := e.disputes.Resolve(ctx, d.ID, e.admin, services.ResolveDisputeInput{Resolution: models.ResolutionReplacement})
	require.NoError(t, err)
	assert.Nil(t, res.Settlement)

	stored := e.reload(t, tx.ID)
	assert.Equal(t, models.StatusProcessing, stored.Status)
	assert.False(t, stored.HasDispute)
	assert.Equal(t, models.EscrowLocked, stored.EscrowStatus)
	assert.True(t, e.store.Balance(e.seller.ID).IsZero())

	assert.Equal(t, models.DisputeStatusClosed, res.Dispute.Status)
	assert.NotNil(t, res.Dispute.ClosedAt)
	assert.Equal(t,
		[]string{models.DisputeStatusOpen, models.DisputeStatusResolved, models.DisputeStatusClosed},
		statusesOf(res.Dispute.History))

	_, err = e.disputes.Close(ctx, d.ID, e.admin, "")
	assert.True(t, apperror.Is(err, apperror.KindBadRequest))
	assert.Equal(t, models.StatusProcessing, e.reload(t, tx.ID).Status)
}

func TestReplacementCanBeDisputedAgain(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tx, d := e.disputed(t, models.ReasonWrongItem)

	_, err := e.disputes.Resolve(ctx, d.ID, e.admin, services.ResolveDisputeInput{Resolution: models.ResolutionReplacement})
	require.NoError(t, err)

	for _, status := range []string{models.StatusShipped, models.StatusDelivered} {
		_, err := e.orders.SellerUpdate(ctx, tx.ID, e.seller, services.SellerOrderUpdate{Status: status})
		require.NoError(t, err, status)
	}
	redelivered := e.reload(t, tx.ID)
	require.Equal(t, models.StatusDelivered, redelivered.Status)
	assert.False(t, redelivered.CustomerConfirmed)
	assert.False(t, redelivered.SellerConfirmed)

	second, err := e.disputes.Open(ctx, tx.ID, e.customer, services.OpenDisputeInput{
		Reason: models.ReasonDamagedItem, Description: "replacement arrived cracked",
	})
	require.NoError(t, err)
	assert.NotEqual(t, d.ID, second.ID)

	stored := e.reload(t, tx.ID)
	assert.Equal(t, models.StatusDisputed, stored.Status)
	assert.True(t, stored.HasDispute)
	assert.Equal(t, second.ID, *stored.DisputeID)
	assert.Equal(t, models.EscrowLocked, stored.EscrowStatus)
}

func TestResolveAfterReleaseCannotMoveMoney(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.store.Fund(e.customer.ID, dec("10000"))
	tx := e.order(t, e.product("9500", 3), 1)
	e.deliverOrder(t, tx.ID)
	_, err := e.orders.ConfirmDelivery(ctx, tx.ID, e.customer)
	require.NoError(t, err)
	_, err = e.orders.ConfirmDelivery(ctx, tx.ID, e.seller)
	require.NoError(t, err)

	d, err := e.disputes.Open(ctx, tx.ID, e.customer, services.OpenDisputeInput{
		Reason: models.ReasonItemNotAsDescribed, Description: "not the advertised model",
	})
	require.NoError(t, err)

	_, err = e.disputes.Resolve(ctx, d.ID, e.admin, services.ResolveDisputeInput{Resolution: models.ResolutionFullRefund})
	assert.True(t, apperror.Is(err, apperror.KindConflict))

	_, err = e.disputes.Resolve(ctx, d.ID, e.admin, services.ResolveDisputeInput{Resolution: models.ResolutionSellerWins})
	require.NoError(t, err)
	_, err = e.disputes.Close(ctx, d.ID, e.admin, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, e.reload(t, tx.ID).Status)
	assert.True(t, e.store.Balance(e.seller.ID).Equal(dec("9000")))
}

func TestDisputeConversation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, d := e.disputed(t, models.ReasonPoorServiceQuality)

	_, err := e.disputes.Assign(ctx, d.ID, e.seller, e.admin.ID)
	assert.True(t, apperror.Is(err, apperror.KindUnauthorized))

	d, err = e.disputes.Assign(ctx, d.ID, e.admin, e.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DisputeStatusUnderReview, d.Status)
	require.NotNil(t, d.AssignedTo)

	d, err = e.disputes.AddMessage(ctx, d.ID, e.admin, services.DisputeMessageInput{
		Text: "please upload the delivery photo", RequestResponse: true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.DisputeStatusAwaitingResponse, d.Status)

	d, err = e.disputes.AddMessage(ctx, d.ID, e.seller, services.DisputeMessageInput{Text: "attached"})
	require.NoError(t, err)
	assert.Equal(t, models.DisputeStatusUnderReview, d.Status)
	assert.True(t, d.SellerResponded)

	_, err = e.disputes.AddMessage(ctx, d.ID, e.outsider, services.DisputeMessageInput{Text: "hi"})
	assert.True(t, apperror.Is(err, apperror.KindForbidden))

	d, err = e.disputes.Escalate(ctx, d.ID, e.customer, "no response for days")
	require.NoError(t, err)
	assert.True(t, d.Escalated)
	assert.Equal(t, models.PriorityHigh, d.Priority)

	got, err := e.disputes.Get(ctx, d.ID, e.seller)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 2)
	assert.Equal(t, []string{"open", "under_review", "awaiting_response", "under_review"}, statusesOf(got.History))
	assert.Contains(t, e.sink.kinds(e.customer.ID), "dispute.message")

	list, err := e.disputes.List(ctx, e.outsider, repositories.DisputeFilter{})
	require.NoError(t, err)
	assert.Empty(t, list)

	list, err = e.disputes.List(ctx, e.admin, repositories.DisputeFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func statusesOf(h []models.StatusEntry) []string {
	out := make([]string, 0, len(h))
	for _, e := range h {
		out = append(out, e.Status)
	}
	return out
}
