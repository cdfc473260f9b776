package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace-escrow/backend/internal/apperror"
	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/marketplace-escrow/backend/internal/policy"
	"github.com/marketplace-escrow/backend/internal/pricing"
	"github.com/marketplace-escrow/backend/internal/repositories"
	"github.com/marketplace-escrow/backend/internal/timeutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CreateBookingInput struct {
	ServiceID     uuid.UUID        `json:"service_id"`
	ScheduledDate string           `json:"scheduled_date"`
	ScheduledTime string           `json:"scheduled_time"`
	Location      *models.GeoPoint `json:"location,omitempty"`
	Address       string           `json:"address,omitempty"`
	Notes         string           `json:"notes,omitempty"`
	Payment       PaymentInput     `json:"payment"`
}

type BookingService struct {
	*core
}

func NewBookingService(d Deps) *BookingService {
	return &BookingService{core: newCore(d)}
}

// draft prices a booking without writing anything.
func (s *BookingService) draft(ctx context.Context, a models.Actor, in CreateBookingInput, now time.Time) (*models.Transaction, pricing.Quote, error) {
	var q pricing.Quote
	if a.Role != models.RoleCustomer {
		return nil, q, apperror.Unauthorized("only customers can book services")
	}

	svc, err := s.store.Catalog().GetService(ctx, in.ServiceID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, q, apperror.NotFound("service %s not found", in.ServiceID)
	}
	if err != nil {
		return nil, q, apperror.Internal(err, "load service")
	}
	if !svc.Active {
		return nil, q, apperror.BadRequest("service %s is not available", svc.Name)
	}
	if svc.SellerID == a.ID {
		return nil, q, apperror.BadRequest("cannot book your own service")
	}
	if err := s.checkCategory(ctx, svc.CategoryID); err != nil {
		return nil, q, err
	}

	scheduledAt, err := timeutil.ToUTC(in.ScheduledDate, in.ScheduledTime, s.cfg.ScheduleUTCOffset)
	if err != nil {
		return nil, q, apperror.BadRequest("invalid schedule: %v", err)
	}
	if !scheduledAt.After(now) {
		return nil, q, apperror.BadRequest("scheduled time %s %s is in the past", in.ScheduledDate, in.ScheduledTime)
	}

	fee, km := decimal.Zero, 0.0
	if svc.RequiresLocation {
		if in.Location == nil || !in.Location.Valid() {
			return nil, q, apperror.BadRequest("service %s requires a valid location", svc.Name)
		}
		origin, err := s.sellerLocation(ctx, svc.SellerID)
		if err != nil {
			return nil, q, err
		}
		fee, km = s.fees.FeeBetween(*origin, *in.Location)
	}

	q = pricing.NewQuote(svc.Price, fee, decimal.Zero, km)
	t := &models.Transaction{
		Kind:        models.KindBooking,
		CustomerID:  a.ID,
		SellerID:    svc.SellerID,
		SellerType:  svc.SellerType,
		Subtotal:    q.Subtotal,
		Fee:         q.Fee,
		Discount:    q.Discount,
		TotalAmount: q.Total,
		Status:      models.StatusPending,
		Booking: &models.BookingDetails{
			ServiceID:     svc.ID,
			ScheduledDate: in.ScheduledDate,
			ScheduledTime: in.ScheduledTime,
			ScheduledAt:   scheduledAt,
			Location:      in.Location,
			Address:       in.Address,
			Notes:         in.Notes,
		},
	}
	return t, q, nil
}

func (c *core) checkCategory(ctx context.Context, id *uuid.UUID) error {
	if id == nil {
		return nil
	}
	ok, err := c.store.Catalog().CategoryExists(ctx, *id)
	if err != nil {
		return apperror.Internal(err, "load category")
	}
	if !ok {
		return apperror.NotFound("category %s not found", *id)
	}
	return nil
}

func (c *core) sellerLocation(ctx context.Context, sellerID uuid.UUID) (*models.GeoPoint, error) {
	seller, err := c.store.Users().GetByID(ctx, sellerID)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperror.NotFound("seller %s not found", sellerID)
	}
	if err != nil {
		return nil, apperror.Internal(err, "load seller")
	}
	if seller.Location == nil || !seller.Location.Valid() {
		return nil, apperror.BadRequest("seller %s has no location to price the distance from", sellerID)
	}
	return seller.Location, nil
}

// Quote previews the price of a booking.
func (s *BookingService) Quote(ctx context.Context, a models.Actor, in CreateBookingInput) (*pricing.Quote, error) {
	_, q, err := s.draft(ctx, a, in, s.now())
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// Create books a service. With a wallet the booking is paid and held
// immediately; with a card it stays provisional until the charge succeeds.
func (s *BookingService) Create(ctx context.Context, a models.Actor, in CreateBookingInput) (*PlaceResult, error) {
	now := s.now()
	t, _, err := s.draft(ctx, a, in, now)
	if err != nil {
		return nil, err
	}
	res, err := s.place(ctx, t, a, in.Payment, now)
	if err != nil {
		return nil, err
	}
	s.log.Info("booking created",
		zap.String("transaction_id", res.Transaction.ID.String()),
		zap.String("reference", res.Transaction.Reference),
		zap.String("payment_method", string(in.Payment.Method)),
	)
	return res, nil
}

// step runs a seller-driven status change on a booking.
func (s *BookingService) step(ctx context.Context, id uuid.UUID, a models.Actor, to, note string) (*models.Transaction, error) {
	now := s.now()
	var out *models.Transaction
	err := s.run(ctx, func(ctx context.Context, tx repositories.Repos, ob *outbox) error {
		t, err := s.lockKind(ctx, tx, id, models.KindBooking)
		if err != nil {
			return err
		}
		if _, err := requireParty(t, a, models.PartySeller); err != nil {
			return err
		}
		if err := s.transition(ctx, tx, t, to, a, note, now, ob); err != nil {
			return err
		}
		out = t
		return nil
	})
	return out, err
}

func (s *BookingService) Accept(ctx context.Context, id uuid.UUID, a models.Actor) (*models.Transaction, error) {
	return s.step(ctx, id, a, models.StatusAccepted, "accepted by seller")
}

func (s *BookingService) Start(ctx context.Context, id uuid.UUID, a models.Actor) (*models.Transaction, error) {
	return s.step(ctx, id, a, models.StatusInProgress, "service started")
}

// MarkDelivered records that the service was rendered. Completion still
// needs both parties to confirm.
func (s *BookingService) MarkDelivered(ctx context.Context, id uuid.UUID, a models.Actor, note string) (*models.Transaction, error) {
	if note == "" {
		note = "service rendered"
	}
	return s.step(ctx, id, a, models.StatusDelivered, note)
}

// Reject declines a pending booking. The customer is refunded in full and a
// late rejection flags the seller.
func (s *BookingService) Reject(ctx context.Context, id uuid.UUID, a models.Actor, reason string) (*CancelResult, error) {
	return s.end(ctx, id, a, policy.ActionReject, reason, models.PartySeller)
}

// Cancel applies the cancellation policy for whoever cancels.
func (s *BookingService) Cancel(ctx context.Context, id uuid.UUID, a models.Actor, reason string) (*CancelResult, error) {
	return s.end(ctx, id, a, policy.ActionCancel, reason,
		models.PartyCustomer, models.PartySeller, models.PartyAdmin, models.PartySystem)
}

func (s *BookingService) end(ctx context.Context, id uuid.UUID, a models.Actor, action policy.Action, reason string, allowed ...models.Party) (*CancelResult, error) {
	if reason == "" {
		return nil, apperror.BadRequest("a reason is required")
	}
	now := s.now()
	var out *CancelResult
	err := s.run(ctx, func(ctx context.Context, tx repositories.Repos, ob *outbox) error {
		t, err := s.lockKind(ctx, tx, id, models.KindBooking)
		if err != nil {
			return err
		}
		party, err := requireParty(t, a, allowed...)
		if err != nil {
			return err
		}
		out, err = s.terminate(ctx, tx, t, a, party, action, reason, now, ob)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ConfirmCompletion records one party's confirmation that the service was
// rendered as agreed.
func (s *BookingService) ConfirmCompletion(ctx context.Context, id uuid.UUID, a models.Actor) (*models.Transaction, error) {
	return s.confirm(ctx, id, models.KindBooking, a)
}
