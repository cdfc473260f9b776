package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/marketplace-escrow/backend/internal/apperror"
	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/marketplace-escrow/backend/internal/policy"
	"github.com/marketplace-escrow/backend/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookingStoresScheduleInUTC(t *testing.T) {
	e := newEnv(t)
	e.store.Fund(e.customer.ID, dec("20000"))
	at := e.clock.Now().Add(5 * time.Hour)

	tx := e.booking(t, e.service("10000"), at)

	require.NotNil(t, tx.Booking)
	assert.True(t, tx.Booking.ScheduledAt.Equal(at))
	assert.Equal(t, "14:00", tx.Booking.ScheduledTime)
	assert.True(t, tx.Fee.IsZero())
	assert.True(t, tx.TotalAmount.Equal(dec("10000")))
	assert.True(t, e.store.Balance(e.customer.ID).Equal(dec("10000")))
}

func TestBookingValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.store.Fund(e.customer.ID, dec("20000"))
	sv := e.service("1000")
	onsite := e.store.AddService(models.Service{
		SellerID:         e.seller.ID,
		Name:             "Home massage",
		Price:            dec("1000"),
		RequiresLocation: true,
		Active:           true,
	})

	past, pastTime := local(e.clock.Now().Add(-time.Hour))
	_, err := e.bookings.Create(ctx, e.customer, services.CreateBookingInput{
		ServiceID: sv.ID, ScheduledDate: past, ScheduledTime: pastTime, Payment: wallet(),
	})
	assert.True(t, apperror.Is(err, apperror.KindBadRequest))

	date, tm := local(e.clock.Now().Add(6 * time.Hour))
	_, err = e.bookings.Create(ctx, e.customer, services.CreateBookingInput{
		ServiceID: onsite.ID, ScheduledDate: date, ScheduledTime: tm, Payment: wallet(),
	})
	assert.True(t, apperror.Is(err, apperror.KindBadRequest), "location required")

	q, err := e.bookings.Quote(ctx, e.customer, services.CreateBookingInput{
		ServiceID: onsite.ID, ScheduledDate: date, ScheduledTime: tm, Location: nearby,
	})
	require.NoError(t, err)
	assert.True(t, q.Fee.Equal(dec("500")))
	assert.True(t, q.Total.Equal(dec("1500")))

	_, err = e.bookings.Create(ctx, e.customer, services.CreateBookingInput{
		ServiceID: sv.ID, ScheduledDate: "10/03/2026", ScheduledTime: tm, Payment: wallet(),
	})
	assert.True(t, apperror.Is(err, apperror.KindBadRequest))

	assert.True(t, e.store.Balance(e.customer.ID).Equal(dec("20000")))
}

func TestCustomerCancellationWindow(t *testing.T) {
	tests := []struct {
		name     string
		before   time.Duration
		refund   string
		customer string
		seller   string
		platform string
	}{
		{name: "sixty minutes out", before: 60 * time.Minute, refund: "100", customer: "20000", seller: "0", platform: "0"},
		{name: "fifty eight minutes out", before: 58 * time.Minute, refund: "80", customer: "18000", seller: "1800", platform: "200"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.store.Fund(e.customer.ID, dec("20000"))
			at := e.clock.Now().Add(5 * time.Hour)
			tx := e.booking(t, e.service("10000"), at)

			e.clock.Set(at.Add(-tt.before))
			res, err := e.bookings.Cancel(context.Background(), tx.ID, e.customer, "plans changed")
			require.NoError(t, err)

			assert.True(t, res.Decision.RefundPercentage.Equal(dec(tt.refund)))
			assert.True(t, e.store.Balance(e.customer.ID).Equal(dec(tt.customer)), e.store.Balance(e.customer.ID).String())
			assert.True(t, e.store.Balance(e.seller.ID).Equal(dec(tt.seller)))
			assert.True(t, e.store.Balance(platform).Equal(dec(tt.platform)))
			assert.Empty(t, e.store.Flags(e.seller.ID))
			assert.Equal(t, models.StatusCancelled, e.reload(t, tx.ID).Status)
		})
	}
}

func TestSellerCancellationFlags(t *testing.T) {
	tests := []struct {
		name   string
		before time.Duration
		flags  int
	}{
		{name: "four hours out", before: 4 * time.Hour, flags: 0},
		{name: "three hours fifty eight out", before: 3*time.Hour + 58*time.Minute, flags: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			ctx := context.Background()
			e.store.Fund(e.customer.ID, dec("20000"))
			at := e.clock.Now().Add(8 * time.Hour)
			tx := e.booking(t, e.service("10000"), at)

			_, err := e.bookings.Accept(ctx, tx.ID, e.seller)
			require.NoError(t, err)

			e.clock.Set(at.Add(-tt.before))
			res, err := e.bookings.Cancel(ctx, tx.ID, e.seller, "double booked")
			require.NoError(t, err)

			assert.True(t, res.Decision.FullRefund())
			assert.True(t, e.store.Balance(e.customer.ID).Equal(dec("20000")))
			assert.True(t, e.store.Balance(e.seller.ID).IsZero())

			flags := e.store.Flags(e.seller.ID)
			require.Len(t, flags, tt.flags)
			if tt.flags > 0 {
				assert.Equal(t, policy.SeverityLow, flags[0].Severity)
				assert.Equal(t, tx.ID, *flags[0].TransactionID)
				assert.Contains(t, e.sink.kinds(e.seller.ID), "seller.red_flag")
			}
		})
	}
}

func TestRepeatedLateCancellationsEscalate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.store.Fund(e.customer.ID, dec("100000"))
	sv := e.service("1000")

	for i := 0; i < 2; i++ {
		at := e.clock.Now().Add(2 * time.Hour)
		tx := e.booking(t, sv, at)
		_, err := e.bookings.Cancel(ctx, tx.ID, e.seller, "sick")
		require.NoError(t, err)
	}

	flags := e.store.Flags(e.seller.ID)
	require.Len(t, flags, 2)
	assert.Equal(t, policy.SeverityLow, flags[0].Severity)
	assert.Equal(t, policy.SeverityMedium, flags[1].Severity)
}

func TestRejectRefundsCustomer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.store.Fund(e.customer.ID, dec("20000"))
	tx := e.booking(t, e.service("10000"), e.clock.Now().Add(24*time.Hour))

	_, err := e.bookings.Reject(ctx, tx.ID, e.customer, "nope")
	assert.True(t, apperror.Is(err, apperror.KindForbidden))

	res, err := e.bookings.Reject(ctx, tx.ID, e.seller, "fully booked")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, res.Transaction.Status)
	assert.False(t, res.Decision.RaiseFlag)
	assert.True(t, e.store.Balance(e.customer.ID).Equal(dec("20000")))

	_, err = e.bookings.Accept(ctx, tx.ID, e.seller)
	assert.True(t, apperror.Is(err, apperror.KindBadRequest))
}

func TestBookingLifecycleToCompletion(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.store.Fund(e.customer.ID, dec("20000"))
	tx := e.booking(t, e.service("10000"), e.clock.Now().Add(24*time.Hour))

	_, err := e.bookings.Start(ctx, tx.ID, e.seller)
	assert.True(t, apperror.Is(err, apperror.KindBadRequest), "cannot start before accepting")

	_, err = e.bookings.Accept(ctx, tx.ID, e.seller)
	require.NoError(t, err)
	_, err = e.bookings.Cancel(ctx, tx.ID, e.customer, "")
	assert.True(t, apperror.Is(err, apperror.KindBadRequest), "reason required")

	_, err = e.bookings.Start(ctx, tx.ID, e.seller)
	require.NoError(t, err)
	_, err = e.bookings.Cancel(ctx, tx.ID, e.customer, "too late")
	assert.True(t, apperror.Is(err, apperror.KindBadRequest))

	delivered, err := e.bookings.MarkDelivered(ctx, tx.ID, e.seller, "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDelivered, delivered.Status)
	assert.False(t, delivered.SellerConfirmed)

	_, err = e.bookings.ConfirmCompletion(ctx, tx.ID, e.seller)
	require.NoError(t, err)
	done, err := e.bookings.ConfirmCompletion(ctx, tx.ID, e.customer)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, done.Status)
	assert.True(t, e.store.Balance(e.seller.ID).Equal(dec("9000")))
	assert.True(t, e.store.Balance(platform).Equal(dec("1000")))
}
