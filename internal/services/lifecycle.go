package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace-escrow/backend/internal/apperror"
	"github.com/marketplace-escrow/backend/internal/config"
	"github.com/marketplace-escrow/backend/internal/escrow"
	"github.com/marketplace-escrow/backend/internal/events"
	"github.com/marketplace-escrow/backend/internal/metrics"
	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/marketplace-escrow/backend/internal/notify"
	"github.com/marketplace-escrow/backend/internal/payments"
	"github.com/marketplace-escrow/backend/internal/policy"
	"github.com/marketplace-escrow/backend/internal/pricing"
	"github.com/marketplace-escrow/backend/internal/repositories"
	"github.com/marketplace-escrow/backend/internal/timeutil"
	"go.uber.org/zap"
)

// Deps are shared by every lifecycle service.
type Deps struct {
	Store     repositories.Store
	Custodian *escrow.Custodian
	Gateway   payments.Gateway
	Publisher events.Publisher
	Notifier  notify.Notifier
	Config    *config.Config
	Log       *zap.Logger
	Clock     timeutil.Clock
}

// core carries the transition machinery shared by bookings, orders,
// payments, disputes and the worker jobs.
type core struct {
	store     repositories.Store
	custodian *escrow.Custodian
	gateway   payments.Gateway
	publisher events.Publisher
	notifier  notify.Notifier
	cfg       *config.Config
	log       *zap.Logger
	now       timeutil.Clock
	rules     policy.Rules
	fees      pricing.Policy
}

func newCore(d Deps) *core {
	c := &core{
		store:     d.Store,
		custodian: d.Custodian,
		gateway:   d.Gateway,
		publisher: d.Publisher,
		notifier:  d.Notifier,
		cfg:       d.Config,
		log:       d.Log,
		now:       d.Clock,
		rules: policy.Rules{
			CustomerPenaltyWindow: d.Config.CustomerPenaltyWindow,
			CustomerPenaltyPct:    d.Config.CustomerPenaltyPct,
			VendorFlagWindow:      d.Config.VendorFlagWindow,
		},
		fees: pricing.Policy{PerExtraKm: d.Config.FeePerExtraKm},
	}
	for _, t := range d.Config.FeeTiers {
		c.fees.Tiers = append(c.fees.Tiers, pricing.Tier{UpToKm: t.UpToKm, Fee: t.Fee})
	}
	if c.now == nil {
		c.now = timeutil.SystemClock
	}
	if c.publisher == nil {
		c.publisher = events.NopPublisher{}
	}
	if c.notifier == nil {
		c.notifier = notify.Nop{}
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

// outbox collects side effects of a unit of work. It is flushed only after
// commit, and nothing in it can fail the operation.
type outbox struct {
	events  []events.Event
	notes   []notify.Notification
	audits  []models.AuditLog
	metrics []func()
}

func (c *core) flush(ctx context.Context, ob *outbox) {
	for _, f := range ob.metrics {
		f()
	}
	for _, a := range ob.audits {
		if err := c.store.Audit().Log(ctx, a); err != nil {
			c.log.Warn("audit log write failed", zap.String("action", a.Action), zap.Error(err))
		}
	}
	for _, ev := range ob.events {
		if err := c.publisher.Publish(ctx, events.Channel, ev); err != nil {
			metrics.RecordNotifyFailure("broadcast")
			c.log.Warn("broadcast failed", zap.String("type", ev.Type), zap.Error(err))
		}
	}
	for _, n := range ob.notes {
		if err := c.notifier.Notify(ctx, n); err != nil {
			metrics.RecordNotifyFailure("notify")
			c.log.Warn("notification failed",
				zap.String("kind", n.Kind),
				zap.String("user_id", n.UserID.String()),
				zap.Error(err),
			)
		}
	}
}

// run executes fn as one unit of work and flushes its outbox after commit.
func (c *core) run(ctx context.Context, fn func(ctx context.Context, tx repositories.Repos, ob *outbox) error) error {
	ob := &outbox{}
	err := c.store.WithTx(ctx, func(ctx context.Context, tx repositories.Repos) error {
		return fn(ctx, tx, ob)
	})
	if err != nil {
		return err
	}
	c.flush(ctx, ob)
	return nil
}

func (c *core) lock(ctx context.Context, tx repositories.Repos, id uuid.UUID) (*models.Transaction, error) {
	t, err := c.lockAny(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if t.DeletedAt != nil {
		return nil, apperror.NotFound("transaction %s not found", id)
	}
	return t, nil
}

// lockAny includes soft-deleted transactions, for payment capture.
func (c *core) lockAny(ctx context.Context, tx repositories.Repos, id uuid.UUID) (*models.Transaction, error) {
	t, err := tx.Transactions().GetForUpdate(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperror.NotFound("transaction %s not found", id)
	}
	if err != nil {
		return nil, apperror.Internal(err, "load transaction")
	}
	return t, nil
}

func (c *core) lockKind(ctx context.Context, tx repositories.Repos, id uuid.UUID, kind models.Kind) (*models.Transaction, error) {
	t, err := c.lock(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if t.Kind != kind {
		return nil, apperror.NotFound("%s %s not found", kind, id)
	}
	return t, nil
}

func requireParty(t *models.Transaction, a models.Actor, allowed ...models.Party) (models.Party, error) {
	p := t.PartyOf(a)
	for _, ok := range allowed {
		if p == ok {
			return p, nil
		}
	}
	if p == models.PartyNone {
		return p, apperror.Forbidden("not a party to %s", t.Reference)
	}
	return p, apperror.Forbidden("the %s cannot perform this action on %s", p, t.Reference)
}

// transition moves t to a whitelisted successor status and persists it.
func (c *core) transition(ctx context.Context, tx repositories.Repos, t *models.Transaction, to string, a models.Actor, note string, now time.Time, ob *outbox) error {
	from := t.Status
	if !models.IsValidTransition(t.Kind, from, to) {
		return apperror.BadRequest("cannot move %s %s from %s to %s", t.Kind, t.Reference, from, to)
	}
	if !t.IsPaid && to != models.StatusCancelled && to != models.StatusRejected {
		return apperror.BadRequest("%s is awaiting payment", t.Reference)
	}

	entry := t.AppendStatus(to, a, note, now)
	if err := tx.Transactions().Update(ctx, t); err != nil {
		return apperror.Internal(err, "update transaction")
	}
	if err := tx.Transactions().AppendHistory(ctx, t.ID, entry); err != nil {
		return apperror.Internal(err, "append status history")
	}

	c.statusChanged(ob, t, from, a, note)
	return nil
}

func (c *core) statusChanged(ob *outbox, t *models.Transaction, from string, a models.Actor, note string) {
	to := t.Status
	ob.audits = append(ob.audits, models.NewAuditLog(a, fmt.Sprintf("transaction_status_%s_to_%s", from, to), "transaction", t.ID,
		map[string]any{"old_status": from, "new_status": to, "note": note}))
	ob.events = append(ob.events, events.Event{
		Type:       events.EventTransactionStatusChanged,
		Recipients: []uuid.UUID{t.CustomerID, t.SellerID},
		Payload: map[string]any{
			"transaction_id": t.ID.String(),
			"reference":      t.Reference,
			"kind":           string(t.Kind),
			"old_status":     from,
			"new_status":     to,
			"escrow_status":  string(t.EscrowStatus),
		},
	})
	c.notifyParties(ob, t, a, notify.KindStatusChanged,
		fmt.Sprintf("%s %s is now %s", title(t.Kind), t.Reference, humanStatus(to)), note)
	kind := string(t.Kind)
	ob.metrics = append(ob.metrics, func() { metrics.RecordTransition(kind, to) })
}

// notifyParties queues a notification for both sides except the actor.
func (c *core) notifyParties(ob *outbox, t *models.Transaction, a models.Actor, kind, subject, body string) {
	id := t.ID
	for _, user := range []uuid.UUID{t.CustomerID, t.SellerID} {
		if user == a.ID {
			continue
		}
		ob.notes = append(ob.notes, notify.Notification{
			UserID:        user,
			Kind:          kind,
			TransactionID: &id,
			Reference:     t.Reference,
			Title:         subject,
			Body:          body,
			At:            c.now(),
		})
	}
}

func (c *core) settled(ob *outbox, t *models.Transaction, st *escrow.Settlement, op string) {
	currency := t.Currency
	ob.metrics = append(ob.metrics, func() {
		metrics.RecordEscrow(op, "ok")
		metrics.RecordEscrowAmount("customer", currency, st.CustomerRefund)
		metrics.RecordEscrowAmount("seller", currency, st.SellerNet)
		metrics.RecordEscrowAmount("platform", currency, st.Commission)
	})
	ob.events = append(ob.events, events.Event{
		Type:       events.EventEscrowSettled,
		Recipients: []uuid.UUID{t.CustomerID, t.SellerID},
		Payload: map[string]any{
			"transaction_id":  t.ID.String(),
			"reference":       t.Reference,
			"escrow_status":   string(st.To),
			"customer_refund": st.CustomerRefund.String(),
			"seller_net":      st.SellerNet.String(),
		},
	})
	ob.audits = append(ob.audits, models.NewAuditLog(models.SystemActor(), "escrow_"+string(st.To), "transaction", t.ID,
		map[string]any{
			"escrowed":        st.Escrowed.String(),
			"customer_refund": st.CustomerRefund.String(),
			"seller_net":      st.SellerNet.String(),
			"commission":      st.Commission.String(),
			"commission_rate": st.CommissionRate.String(),
		}))
	c.notifyParties(ob, t, models.Actor{}, notify.KindEscrowSettled,
		fmt.Sprintf("Funds for %s were %s", t.Reference, strings.ReplaceAll(string(st.To), "_", " ")), "")
}

// escrowFailed records a rejected escrow operation. The error is returned unchanged.
func escrowFailed(op string, err error) error {
	outcome := "error"
	switch apperror.KindOf(err) {
	case apperror.KindConflict:
		outcome = "conflict"
	case apperror.KindBadRequest:
		outcome = "rejected"
	}
	metrics.RecordEscrow(op, outcome)
	return err
}

func (c *core) release(ctx context.Context, tx repositories.Repos, t *models.Transaction, ob *outbox) (*escrow.Settlement, error) {
	st, err := c.custodian.Release(ctx, tx, t)
	if err != nil {
		return nil, escrowFailed("release", err)
	}
	c.settled(ob, t, st, "release")
	return st, nil
}

func (c *core) refund(ctx context.Context, tx repositories.Repos, t *models.Transaction, d policy.Decision, ob *outbox) (*escrow.Settlement, error) {
	op := "refund"
	if !d.FullRefund() {
		op = "partial_refund"
	}
	st, err := c.custodian.Refund(ctx, tx, t, d.RefundPercentage, escrow.PurposeCancellation)
	if err != nil {
		return nil, escrowFailed(op, err)
	}
	c.settled(ob, t, st, op)
	return st, nil
}

func (c *core) hold(ctx context.Context, tx repositories.Repos, t *models.Transaction, ob *outbox) error {
	if err := c.custodian.Hold(ctx, tx, t); err != nil {
		return escrowFailed("hold", err)
	}
	amount, currency := t.EscrowedAmount, t.Currency
	ob.metrics = append(ob.metrics, func() {
		metrics.RecordEscrow("hold", "ok")
		metrics.RecordEscrowAmount("escrow", currency, amount)
	})
	ob.events = append(ob.events, events.Event{
		Type:       events.EventPaymentReceived,
		Recipients: []uuid.UUID{t.CustomerID, t.SellerID},
		Payload: map[string]any{
			"transaction_id": t.ID.String(),
			"reference":      t.Reference,
			"amount":         amount.String(),
		},
	})
	c.notifyParties(ob, t, models.Actor{}, notify.KindPaymentReceived,
		fmt.Sprintf("Payment received for %s", t.Reference), "")
	return nil
}

func (c *core) created(ob *outbox, t *models.Transaction, a models.Actor) {
	ob.audits = append(ob.audits, models.NewAuditLog(a, "transaction_created", "transaction", t.ID, map[string]any{
		"kind":           string(t.Kind),
		"total_amount":   t.TotalAmount.String(),
		"payment_method": string(t.PaymentMethod),
	}))
	ob.events = append(ob.events, events.Event{
		Type:       events.EventTransactionCreated,
		Recipients: []uuid.UUID{t.CustomerID, t.SellerID},
		Payload: map[string]any{
			"transaction_id": t.ID.String(),
			"reference":      t.Reference,
			"kind":           string(t.Kind),
		},
	})
	c.notifyParties(ob, t, a, notify.KindTransactionCreated,
		fmt.Sprintf("New %s %s", t.Kind, t.Reference), "")
}

// recentFlags counts the seller's flags inside the lookback window.
func (c *core) recentFlags(ctx context.Context, tx repositories.Repos, sellerID uuid.UUID, now time.Time) (int, error) {
	n, err := tx.RedFlags().CountSince(ctx, sellerID, now.Add(-c.cfg.RedFlagLookback))
	if err != nil {
		return 0, apperror.Internal(err, "count red flags")
	}
	return n, nil
}

func (c *core) raiseFlag(ctx context.Context, tx repositories.Repos, t *models.Transaction, d policy.Decision, note string, ob *outbox) error {
	id := t.ID
	flag := &models.RedFlag{
		SellerID:      t.SellerID,
		TransactionID: &id,
		Reason:        d.Reason,
		Severity:      d.FlagSeverity,
		Note:          note,
	}
	if err := tx.RedFlags().Create(ctx, flag); err != nil {
		return apperror.Internal(err, "record red flag")
	}

	severity := d.FlagSeverity
	ob.metrics = append(ob.metrics, func() { metrics.RecordRedFlag(severity) })
	ob.notes = append(ob.notes, notify.Notification{
		UserID:        t.SellerID,
		Kind:          notify.KindRedFlag,
		TransactionID: &id,
		Reference:     t.Reference,
		Title:         "Reliability flag recorded",
		Body:          d.Reason,
		Data:          map[string]any{"severity": severity},
		At:            c.now(),
	})
	c.log.Info("red flag raised",
		zap.String("seller_id", t.SellerID.String()),
		zap.String("transaction_id", t.ID.String()),
		zap.String("severity", severity),
	)
	return nil
}

func reserveStock(ctx context.Context, tx repositories.Repos, quantities map[uuid.UUID]int) error {
	for productID, qty := range quantities {
		err := tx.Catalog().ReserveStock(ctx, productID, qty)
		switch {
		case errors.Is(err, repositories.ErrInsufficientStock):
			return apperror.BadRequest("insufficient stock for product %s", productID)
		case errors.Is(err, repositories.ErrNotFound):
			return apperror.NotFound("product %s not found", productID)
		case err != nil:
			return apperror.Internal(err, "reserve stock")
		}
	}
	return nil
}

func restoreStock(ctx context.Context, tx repositories.Repos, t *models.Transaction) error {
	for productID, qty := range t.ReservedQuantities() {
		if err := tx.Catalog().RestoreStock(ctx, productID, qty); err != nil && !errors.Is(err, repositories.ErrNotFound) {
			return apperror.Internal(err, "restore stock")
		}
	}
	return nil
}

// CancelResult reports how a cancellation or rejection was settled.
type CancelResult struct {
	Transaction *models.Transaction `json:"transaction"`
	Decision    policy.Decision     `json:"decision"`
	Settlement  *escrow.Settlement  `json:"settlement,omitempty"`
}

// terminate cancels or rejects t: policy decision, escrow refund, red flag,
// stock restoration and the status change, all in the caller's unit of work.
func (c *core) terminate(ctx context.Context, tx repositories.Repos, t *models.Transaction, a models.Actor, party models.Party, action policy.Action, reason string, now time.Time, ob *outbox) (*CancelResult, error) {
	to := models.StatusCancelled
	if action == policy.ActionReject {
		to = models.StatusRejected
	} else if !models.IsCancellable(t.Kind, t.Status) {
		return nil, apperror.BadRequest("%s cannot be cancelled while %s", t.Reference, t.Status)
	}
	if !models.IsValidTransition(t.Kind, t.Status, to) {
		return nil, apperror.BadRequest("cannot move %s %s from %s to %s", t.Kind, t.Reference, t.Status, to)
	}

	var until time.Duration
	if t.Booking != nil {
		until = t.Booking.ScheduledAt.Sub(now)
	}
	recent := 0
	if party == models.PartySeller {
		var err error
		if recent, err = c.recentFlags(ctx, tx, t.SellerID, now); err != nil {
			return nil, err
		}
	}

	d := c.rules.Decide(policy.Input{Party: party, Kind: t.Kind, Action: action, Until: until, RecentFlags: recent})
	res := &CancelResult{Transaction: t, Decision: d}

	if t.EscrowStatus == models.EscrowLocked {
		st, err := c.refund(ctx, tx, t, d, ob)
		if err != nil {
			return nil, err
		}
		res.Settlement = st
	}
	if d.RaiseFlag {
		if err := c.raiseFlag(ctx, tx, t, d, reason, ob); err != nil {
			return nil, err
		}
	}
	if err := restoreStock(ctx, tx, t); err != nil {
		return nil, err
	}

	by := a.ID
	t.CancellationReason = &reason
	if by != uuid.Nil {
		t.CancelledBy = &by
	}
	t.CancelledAt = &now
	if err := c.transition(ctx, tx, t, to, a, reason, now, ob); err != nil {
		return nil, err
	}

	c.log.Info("transaction terminated",
		zap.String("transaction_id", t.ID.String()),
		zap.String("status", to),
		zap.String("party", party.String()),
		zap.String("refund_percentage", d.RefundPercentage.String()),
		zap.Bool("red_flag", d.RaiseFlag),
	)
	return res, nil
}

// confirm records one side's attestation of delivery. The second attestation
// releases escrow and completes the transaction.
func (c *core) confirm(ctx context.Context, id uuid.UUID, kind models.Kind, a models.Actor) (*models.Transaction, error) {
	now := c.now()
	var out *models.Transaction
	err := c.run(ctx, func(ctx context.Context, tx repositories.Repos, ob *outbox) error {
		t, err := c.lockKind(ctx, tx, id, kind)
		if err != nil {
			return err
		}
		party, err := requireParty(t, a, models.PartyCustomer, models.PartySeller, models.PartySystem)
		if err != nil {
			return err
		}
		if t.HasDispute {
			return apperror.BadRequest("%s has an open dispute", t.Reference)
		}
		if t.Status != models.StatusDelivered {
			return apperror.BadRequest("%s cannot be confirmed while %s", t.Reference, t.Status)
		}

		switch party {
		case models.PartyCustomer:
			if t.CustomerConfirmed {
				return apperror.BadRequest("customer already confirmed %s", t.Reference)
			}
			t.CustomerConfirmed, t.CustomerConfirmedAt = true, &now
		case models.PartySeller:
			if t.SellerConfirmed {
				return apperror.BadRequest("seller already confirmed %s", t.Reference)
			}
			t.SellerConfirmed, t.SellerConfirmedAt = true, &now
		case models.PartySystem:
			if !t.CustomerConfirmed {
				t.CustomerConfirmed, t.CustomerConfirmedAt = true, &now
			}
			if !t.SellerConfirmed {
				t.SellerConfirmed, t.SellerConfirmedAt = true, &now
			}
		}

		if !t.CustomerConfirmed || !t.SellerConfirmed {
			if err := tx.Transactions().Update(ctx, t); err != nil {
				return apperror.Internal(err, "update transaction")
			}
			ob.audits = append(ob.audits, models.NewAuditLog(a, party.String()+"_confirmed_delivery", "transaction", t.ID, nil))
			c.notifyParties(ob, t, a, notify.KindStatusChanged,
				fmt.Sprintf("The %s confirmed %s", party, t.Reference), "waiting for the other side to confirm")
			out = t
			return nil
		}

		if _, err := c.release(ctx, tx, t, ob); err != nil {
			return err
		}
		note := "confirmed by both parties"
		if party == models.PartySystem {
			note = "auto-confirmed after delivery window"
		}
		if err := c.transition(ctx, tx, t, models.StatusCompleted, a, note, now, ob); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func title(k models.Kind) string {
	if k == models.KindBooking {
		return "Booking"
	}
	return "Order"
}

func humanStatus(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}
