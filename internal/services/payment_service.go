package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace-escrow/backend/internal/apperror"
	"github.com/marketplace-escrow/backend/internal/metrics"
	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/marketplace-escrow/backend/internal/notify"
	"github.com/marketplace-escrow/backend/internal/payments"
	"github.com/marketplace-escrow/backend/internal/repositories"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PaymentInput selects how a new transaction is paid.
type PaymentInput struct {
	Method    models.PaymentMethod `json:"payment_method"`
	CardToken string               `json:"card_token,omitempty"`
	SourceID  string               `json:"source_id,omitempty"`
}

func (p PaymentInput) validate() error {
	switch p.Method {
	case models.PaymentWallet:
		return nil
	case models.PaymentCard:
		if p.CardToken == "" && p.SourceID == "" {
			return apperror.BadRequest("card payments need a card token or source id")
		}
		return nil
	}
	return apperror.BadRequest("unsupported payment method %q", p.Method)
}

// PlaceResult is returned by create operations. AuthorizeURI is set when the
// card issuer needs the customer to authorize the charge.
type PlaceResult struct {
	Transaction  *models.Transaction `json:"transaction"`
	AuthorizeURI string              `json:"authorize_uri,omitempty"`
}

func newPaymentReference() string {
	return "PAY-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// place persists a priced draft together with its payment. Wallet payments
// are captured and held in the creating unit of work. Card payments leave a
// provisional record that the gateway outcome or the reaper resolves.
func (c *core) place(ctx context.Context, t *models.Transaction, a models.Actor, pay PaymentInput, now time.Time) (*PlaceResult, error) {
	if err := pay.validate(); err != nil {
		return nil, err
	}

	t.PaymentMethod = pay.Method
	t.PaymentReference = newPaymentReference()
	t.Currency = c.cfg.Currency
	t.EscrowStatus = models.EscrowPending
	t.EscrowedAmount = decimal.Zero
	t.AppendStatus(models.StatusPending, a, "created", now)

	if pay.Method == models.PaymentWallet {
		return c.placeWithWallet(ctx, t, a, now)
	}
	return c.placeWithCard(ctx, t, a, pay, now)
}

func (c *core) placeWithWallet(ctx context.Context, t *models.Transaction, a models.Actor, now time.Time) (*PlaceResult, error) {
	err := c.run(ctx, func(ctx context.Context, tx repositories.Repos, ob *outbox) error {
		if err := reserveStock(ctx, tx, t.ReservedQuantities()); err != nil {
			return err
		}

		t.IsPaid, t.PaidAt = true, &now
		if err := tx.Transactions().Create(ctx, t); err != nil {
			return apperror.Internal(err, "create transaction")
		}

		id, ref := t.ID, t.PaymentReference
		err := tx.Wallets().Debit(ctx, &models.WalletEntry{
			UserID:           t.CustomerID,
			Category:         models.CategoryPaymentDebit,
			Amount:           t.TotalAmount,
			TransactionID:    &id,
			PaymentReference: &ref,
			Description:      fmt.Sprintf("payment for %s", t.Reference),
		})
		if errors.Is(err, repositories.ErrInsufficientFunds) {
			return apperror.BadRequest("insufficient wallet balance for %s", t.TotalAmount.StringFixed(2))
		}
		if err != nil {
			return apperror.Internal(err, "debit wallet")
		}

		c.created(ob, t, a)
		return c.hold(ctx, tx, t, ob)
	})
	if err != nil {
		return nil, err
	}
	return &PlaceResult{Transaction: t}, nil
}

func (c *core) placeWithCard(ctx context.Context, t *models.Transaction, a models.Actor, pay PaymentInput, now time.Time) (*PlaceResult, error) {
	expires := now.Add(c.cfg.PaymentWindow)
	t.PaymentExpiresAt = &expires

	err := c.run(ctx, func(ctx context.Context, tx repositories.Repos, ob *outbox) error {
		if err := reserveStock(ctx, tx, t.ReservedQuantities()); err != nil {
			return err
		}
		if err := tx.Transactions().Create(ctx, t); err != nil {
			return apperror.Internal(err, "create transaction")
		}
		c.created(ob, t, a)
		return nil
	})
	if err != nil {
		return nil, err
	}

	// No unit of work is open while the gateway is called.
	charge, err := c.gateway.CreateCharge(ctx, payments.ChargeRequest{
		Reference: t.PaymentReference,
		Amount:    t.TotalAmount,
		Currency:  t.Currency,
		CardToken: pay.CardToken,
		SourceID:  pay.SourceID,
		ReturnURI: c.cfg.OmiseReturnURI,
	})
	if err != nil {
		c.log.Warn("charge creation failed", zap.String("transaction_id", t.ID.String()), zap.Error(err))
		c.abandon(ctx, t.ID, "payment could not be initiated")
		return nil, apperror.Wrap(err, apperror.KindBadRequest, "payment could not be initiated")
	}

	switch {
	case charge.Successful():
		paid, err := c.capture(ctx, t.ID, charge)
		if err != nil {
			return nil, err
		}
		return &PlaceResult{Transaction: paid}, nil

	case charge.Settled():
		c.abandon(ctx, t.ID, "payment declined")
		msg := charge.FailureMessage
		if msg == "" {
			msg = string(charge.Status)
		}
		return nil, apperror.BadRequest("payment declined: %s", msg)
	}

	err = c.run(ctx, func(ctx context.Context, tx repositories.Repos, ob *outbox) error {
		p, err := c.lock(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		p.GatewayChargeID = &charge.ID
		if err := tx.Transactions().Update(ctx, p); err != nil {
			return apperror.Internal(err, "store charge id")
		}
		t = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &PlaceResult{Transaction: t, AuthorizeURI: charge.AuthorizeURI}, nil
}

// abandon cancels and soft-deletes an unpaid provisional transaction.
// It reports whether anything changed.
func (c *core) abandon(ctx context.Context, id uuid.UUID, reason string) bool {
	now := c.now()
	changed := false
	err := c.run(ctx, func(ctx context.Context, tx repositories.Repos, ob *outbox) error {
		t, err := c.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.IsPaid || t.Status != models.StatusPending {
			return nil
		}
		if err := restoreStock(ctx, tx, t); err != nil {
			return err
		}
		t.CancellationReason = &reason
		t.CancelledAt = &now
		t.DeletedAt = &now
		if err := c.transition(ctx, tx, t, models.StatusCancelled, models.SystemActor(), reason, now, ob); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil && !apperror.Is(err, apperror.KindNotFound) {
		c.log.Error("failed to abandon transaction", zap.String("transaction_id", id.String()), zap.Error(err))
	}
	return changed
}

// capture applies a successful gateway charge. Re-delivery is a no-op; a
// charge landing on an abandoned transaction is refunded to the wallet once.
func (c *core) capture(ctx context.Context, id uuid.UUID, charge *payments.Charge) (*models.Transaction, error) {
	now := c.now()
	var out *models.Transaction
	err := c.run(ctx, func(ctx context.Context, tx repositories.Repos, ob *outbox) error {
		t, err := c.lockAny(ctx, tx, id)
		if err != nil {
			return err
		}
		out = t
		if t.IsPaid {
			return nil
		}
		if t.PaymentMethod != models.PaymentCard {
			return apperror.BadRequest("%s is not a card payment", t.Reference)
		}
		if !charge.Amount.Equal(t.TotalAmount) {
			return apperror.BadRequest("charged amount %s does not match total %s", charge.Amount, t.TotalAmount)
		}
		if charge.Currency != "" && !strings.EqualFold(charge.Currency, t.Currency) {
			return apperror.BadRequest("charged currency %s does not match %s", charge.Currency, t.Currency)
		}

		chargeID := charge.ID
		t.IsPaid, t.PaidAt, t.GatewayChargeID = true, &now, &chargeID
		if err := tx.Transactions().Update(ctx, t); err != nil {
			return apperror.Internal(err, "mark transaction paid")
		}

		if t.DeletedAt != nil || t.Status == models.StatusCancelled {
			if err := c.custodian.CreditLatePayment(ctx, tx, t, charge.Amount); err != nil {
				return escrowFailed("late_payment", err)
			}
			amount, currency := charge.Amount, t.Currency
			ob.metrics = append(ob.metrics, func() {
				metrics.RecordEscrow("late_payment", "ok")
				metrics.RecordEscrowAmount("customer", currency, amount)
			})
			ob.audits = append(ob.audits, models.NewAuditLog(models.SystemActor(), "late_payment_refunded", "transaction", t.ID,
				map[string]any{"amount": amount.String(), "charge_id": chargeID}))
			txID := t.ID
			ob.notes = append(ob.notes, notify.Notification{
				UserID:        t.CustomerID,
				Kind:          notify.KindPaymentReceived,
				TransactionID: &txID,
				Reference:     t.Reference,
				Title:         fmt.Sprintf("Payment for cancelled %s credited to your wallet", t.Reference),
				At:            now,
			})
			c.log.Warn("payment captured after cancellation, credited to wallet",
				zap.String("transaction_id", t.ID.String()),
				zap.String("amount", amount.String()),
			)
			return nil
		}

		ob.audits = append(ob.audits, models.NewAuditLog(models.SystemActor(), "payment_captured", "transaction", t.ID,
			map[string]any{"charge_id": chargeID, "amount": charge.Amount.String()}))
		return c.hold(ctx, tx, t, ob)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type PaymentService struct {
	*core
}

func NewPaymentService(d Deps) *PaymentService {
	return &PaymentService{core: newCore(d)}
}

// ConfirmPayment verifies the charge behind a payment reference with the
// gateway and captures it. Confirming an already paid transaction is a no-op.
func (s *PaymentService) ConfirmPayment(ctx context.Context, reference string) (*models.Transaction, error) {
	t, err := s.store.Transactions().GetByPaymentReference(ctx, reference)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperror.NotFound("payment %s not found", reference)
	}
	if err != nil {
		return nil, apperror.Internal(err, "load transaction by payment reference")
	}
	if t.IsPaid {
		return t, nil
	}
	if t.PaymentMethod != models.PaymentCard || t.GatewayChargeID == nil {
		return nil, apperror.BadRequest("payment %s has no gateway charge to verify", reference)
	}

	charge, err := s.gateway.RetrieveCharge(ctx, *t.GatewayChargeID)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.KindInternal, "verify charge")
	}
	if !charge.Successful() {
		if charge.Settled() {
			s.abandon(ctx, t.ID, "payment "+string(charge.Status))
		}
		return nil, apperror.BadRequest("payment %s is %s", reference, charge.Status)
	}
	return s.capture(ctx, t.ID, charge)
}

// HandleWebhook re-fetches a gateway event by id and applies the charge it
// carries. Unknown or unrelated events are ignored.
func (s *PaymentService) HandleWebhook(ctx context.Context, eventID string) error {
	ev, err := s.gateway.RetrieveEvent(ctx, eventID)
	if err != nil {
		return apperror.Wrap(err, apperror.KindBadRequest, "unknown gateway event")
	}
	if ev.Charge == nil || ev.Charge.Reference == "" {
		s.log.Info("ignoring gateway event", zap.String("event_id", eventID), zap.String("key", ev.Key))
		return nil
	}

	t, err := s.store.Transactions().GetByPaymentReference(ctx, ev.Charge.Reference)
	if errors.Is(err, repositories.ErrNotFound) {
		s.log.Warn("gateway event for unknown payment", zap.String("payment_reference", ev.Charge.Reference))
		return nil
	}
	if err != nil {
		return apperror.Internal(err, "load transaction by payment reference")
	}

	switch {
	case ev.Charge.Successful():
		_, err = s.capture(ctx, t.ID, ev.Charge)
		return err
	case ev.Charge.Settled():
		s.abandon(ctx, t.ID, "payment "+string(ev.Charge.Status))
	}
	return nil
}
