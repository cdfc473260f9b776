package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace-escrow/backend/internal/apperror"
	"github.com/marketplace-escrow/backend/internal/escrow"
	"github.com/marketplace-escrow/backend/internal/events"
	"github.com/marketplace-escrow/backend/internal/metrics"
	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/marketplace-escrow/backend/internal/notify"
	"github.com/marketplace-escrow/backend/internal/repositories"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OpenDisputeInput struct {
	Reason      models.DisputeReason `json:"reason"`
	Description string               `json:"description"`
	Evidence    []string             `json:"evidence,omitempty"`
	ProductID   *uuid.UUID           `json:"product_id,omitempty"`
}

type DisputeMessageInput struct {
	Text        string   `json:"text"`
	Attachments []string `json:"attachments,omitempty"`
	// RequestResponse is honoured for admins only and moves the dispute to awaiting_response.
	RequestResponse bool `json:"request_response,omitempty"`
}

type ResolveDisputeInput struct {
	Resolution       models.Resolution `json:"resolution"`
	RefundPercentage decimal.Decimal   `json:"refund_percentage"`
	Note             string            `json:"note"`
}

// ResolveResult carries the resolved dispute and any escrow movement.
type ResolveResult struct {
	Dispute     *models.Dispute     `json:"dispute"`
	Transaction *models.Transaction `json:"transaction"`
	Settlement  *escrow.Settlement  `json:"settlement,omitempty"`
}

type DisputeService struct {
	*core
}

func NewDisputeService(d Deps) *DisputeService {
	return &DisputeService{core: newCore(d)}
}

func (s *DisputeService) lockDispute(ctx context.Context, tx repositories.Repos, id uuid.UUID) (*models.Dispute, error) {
	d, err := tx.Disputes().GetForUpdate(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperror.NotFound("dispute %s not found", id)
	}
	if err != nil {
		return nil, apperror.Internal(err, "load dispute")
	}
	return d, nil
}

func requireAdmin(a models.Actor) error {
	if !a.IsAdmin() {
		return apperror.Unauthorized("admin role required")
	}
	return nil
}

// disputeTransition moves d along its whitelisted state machine.
func (s *DisputeService) disputeTransition(ctx context.Context, tx repositories.Repos, d *models.Dispute, to string, a models.Actor, note string, now time.Time) error {
	if !models.IsValidDisputeTransition(d.Status, to) {
		return apperror.BadRequest("cannot move dispute %s from %s to %s", d.Reference, d.Status, to)
	}
	entry := d.AppendStatus(to, a, note, now)
	if err := tx.Disputes().Update(ctx, d); err != nil {
		return apperror.Internal(err, "update dispute")
	}
	if err := tx.Disputes().AppendHistory(ctx, d.ID, entry); err != nil {
		return apperror.Internal(err, "append dispute history")
	}
	return nil
}

func (s *DisputeService) disputeEvent(ob *outbox, typ string, d *models.Dispute, extra map[string]any) {
	payload := map[string]any{
		"dispute_id":     d.ID.String(),
		"reference":      d.Reference,
		"transaction_id": d.TransactionID.String(),
		"status":         d.Status,
		"priority":       string(d.Priority),
	}
	for k, v := range extra {
		payload[k] = v
	}
	ob.events = append(ob.events, events.Event{
		Type:       typ,
		Recipients: []uuid.UUID{d.CustomerID, d.SellerID},
		Payload:    payload,
	})
}

func (s *DisputeService) notifyDispute(ob *outbox, d *models.Dispute, a models.Actor, kind, subject, body string) {
	id, txID := d.ID, d.TransactionID
	for _, user := range []uuid.UUID{d.CustomerID, d.SellerID} {
		if user == a.ID {
			continue
		}
		ob.notes = append(ob.notes, notify.Notification{
			UserID:        user,
			Kind:          kind,
			TransactionID: &txID,
			DisputeID:     &id,
			Reference:     d.Reference,
			Title:         subject,
			Body:          body,
			At:            s.now(),
		})
	}
}

// Open raises a dispute on a delivered or completed transaction. Escrow stays
// where it is until the dispute is resolved.
func (s *DisputeService) Open(ctx context.Context, transactionID uuid.UUID, a models.Actor, in OpenDisputeInput) (*models.Dispute, error) {
	if !in.Reason.Valid() {
		return nil, apperror.BadRequest("unknown dispute reason %q", in.Reason)
	}
	if strings.TrimSpace(in.Description) == "" {
		return nil, apperror.BadRequest("a description is required")
	}

	now := s.now()
	var out *models.Dispute
	err := s.run(ctx, func(ctx context.Context, tx repositories.Repos, ob *outbox) error {
		t, err := s.lock(ctx, tx, transactionID)
		if err != nil {
			return err
		}
		if _, err := requireParty(t, a, models.PartyCustomer, models.PartySeller); err != nil {
			return err
		}
		if t.HasDispute {
			return apperror.BadRequest("%s already has an open dispute", t.Reference)
		}
		if t.Status != models.StatusDelivered && t.Status != models.StatusCompleted {
			return apperror.BadRequest("%s cannot be disputed while %s", t.Reference, t.Status)
		}

		priority := models.PriorityMedium
		if in.Reason.FundImpacting() {
			priority = models.PriorityHigh
		}
		d := &models.Dispute{
			TransactionID:   t.ID,
			TransactionKind: t.Kind,
			CustomerID:      t.CustomerID,
			SellerID:        t.SellerID,
			SellerType:      t.SellerType,
			OpenedBy:        a.ID,
			Reason:          in.Reason,
			Description:     in.Description,
			Evidence:        in.Evidence,
			Priority:        priority,
		}
		switch {
		case t.Booking != nil:
			sid := t.Booking.ServiceID
			d.ServiceID = &sid
		case in.ProductID != nil:
			if _, ok := t.ReservedQuantities()[*in.ProductID]; !ok {
				return apperror.BadRequest("product %s is not part of %s", *in.ProductID, t.Reference)
			}
			d.ProductID = in.ProductID
		}
		if t.CustomerID == a.ID {
			d.CustomerResponded = true
		} else {
			d.SellerResponded = true
		}
		d.AppendStatus(models.DisputeStatusOpen, a, "opened", now)

		err = tx.Disputes().Create(ctx, d)
		if errors.Is(err, repositories.ErrDuplicate) {
			return apperror.Conflict("%s already has an open dispute", t.Reference)
		}
		if err != nil {
			return apperror.Internal(err, "create dispute")
		}

		t.HasDispute, t.DisputeID = true, &d.ID
		if err := s.transition(ctx, tx, t, models.StatusDisputed, a, "dispute "+d.Reference+" opened", now, ob); err != nil {
			return err
		}

		reason, prio := string(d.Reason), string(d.Priority)
		ob.metrics = append(ob.metrics, func() { metrics.RecordDisputeOpened(reason, prio) })
		ob.audits = append(ob.audits, models.NewAuditLog(a, "dispute_opened", "dispute", d.ID, map[string]any{
			"transaction_id": t.ID.String(),
			"reason":         reason,
			"priority":       prio,
		}))
		s.disputeEvent(ob, events.EventDisputeOpened, d, map[string]any{"reason": reason})
		s.notifyDispute(ob, d, a, notify.KindDisputeOpened,
			fmt.Sprintf("Dispute opened on %s", t.Reference), in.Description)
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("dispute opened",
		zap.String("dispute_id", out.ID.String()),
		zap.String("transaction_id", transactionID.String()),
		zap.String("reason", string(out.Reason)),
		zap.String("priority", string(out.Priority)),
	)
	return out, nil
}

// Assign stamps an owner. An open dispute moves to under_review.
func (s *DisputeService) Assign(ctx context.Context, id uuid.UUID, a models.Actor, assignee uuid.UUID) (*models.Dispute, error) {
	if err := requireAdmin(a); err != nil {
		return nil, err
	}
	if assignee == uuid.Nil {
		assignee = a.ID
	}

	now := s.now()
	var out *models.Dispute
	err := s.run(ctx, func(ctx context.Context, tx repositories.Repos, ob *outbox) error {
		d, err := s.lockDispute(ctx, tx, id)
		if err != nil {
			return err
		}
		if d.Status == models.DisputeStatusResolved || d.Status == models.DisputeStatusClosed {
			return apperror.BadRequest("dispute %s is already %s", d.Reference, d.Status)
		}

		d.AssignedTo, d.AssignedAt = &assignee, &now
		if d.Status == models.DisputeStatusOpen {
			if err := s.disputeTransition(ctx, tx, d, models.DisputeStatusUnderReview, a, "assigned", now); err != nil {
				return err
			}
		} else if err := tx.Disputes().Update(ctx, d); err != nil {
			return apperror.Internal(err, "assign dispute")
		}

		ob.audits = append(ob.audits, models.NewAuditLog(a, "dispute_assigned", "dispute", d.ID,
			map[string]any{"assigned_to": assignee.String()}))
		s.disputeEvent(ob, events.EventDisputeUpdated, d, map[string]any{"assigned_to": assignee.String()})
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AddMessage appends to the dispute thread. A party's reply to a pending
// admin request returns the dispute to review.
func (s *DisputeService) AddMessage(ctx context.Context, id uuid.UUID, a models.Actor, in DisputeMessageInput) (*models.Dispute, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, apperror.BadRequest("message text is required")
	}

	now := s.now()
	var out *models.Dispute
	err := s.run(ctx, func(ctx context.Context, tx repositories.Repos, ob *outbox) error {
		d, err := s.lockDispute(ctx, tx, id)
		if err != nil {
			return err
		}
		party := d.PartyOf(a)
		switch party {
		case models.PartyCustomer, models.PartySeller, models.PartyAdmin:
		default:
			return apperror.Forbidden("not a party to dispute %s", d.Reference)
		}
		if d.Status == models.DisputeStatusClosed {
			return apperror.BadRequest("dispute %s is closed", d.Reference)
		}

		msg := models.DisputeMessage{
			SenderID:    a.ID,
			SenderRole:  a.Role,
			Text:        in.Text,
			Attachments: in.Attachments,
			At:          now,
		}
		if err := tx.Disputes().AppendMessage(ctx, d.ID, msg); err != nil {
			return apperror.Internal(err, "append dispute message")
		}
		d.Messages = append(d.Messages, msg)

		switch party {
		case models.PartyCustomer:
			d.CustomerResponded = true
		case models.PartySeller:
			d.SellerResponded = true
		}

		switch {
		case party == models.PartyAdmin && in.RequestResponse && d.Status == models.DisputeStatusUnderReview:
			err = s.disputeTransition(ctx, tx, d, models.DisputeStatusAwaitingResponse, a, "response requested", now)
		case party.IsParticipant() && d.Status == models.DisputeStatusAwaitingResponse:
			err = s.disputeTransition(ctx, tx, d, models.DisputeStatusUnderReview, a, party.String()+" responded", now)
		default:
			if err = tx.Disputes().Update(ctx, d); err != nil {
				err = apperror.Internal(err, "update dispute")
			}
		}
		if err != nil {
			return err
		}

		if party == models.PartyAdmin {
			ob.audits = append(ob.audits, models.NewAuditLog(a, "dispute_admin_message", "dispute", d.ID,
				map[string]any{"request_response": in.RequestResponse}))
		}
		s.disputeEvent(ob, events.EventDisputeUpdated, d, map[string]any{"message_from": string(a.Role)})
		s.notifyDispute(ob, d, a, notify.KindDisputeMessage,
			fmt.Sprintf("New message on dispute %s", d.Reference), in.Text)
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Escalate raises the dispute to high priority.
func (s *DisputeService) Escalate(ctx context.Context, id uuid.UUID, a models.Actor, reason string) (*models.Dispute, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, apperror.BadRequest("an escalation reason is required")
	}

	var out *models.Dispute
	err := s.run(ctx, func(ctx context.Context, tx repositories.Repos, ob *outbox) error {
		d, err := s.lockDispute(ctx, tx, id)
		if err != nil {
			return err
		}
		if d.PartyOf(a) == models.PartyNone {
			return apperror.Forbidden("not a party to dispute %s", d.Reference)
		}
		if d.Status == models.DisputeStatusResolved || d.Status == models.DisputeStatusClosed {
			return apperror.BadRequest("dispute %s is already %s", d.Reference, d.Status)
		}
		if d.Escalated {
			return apperror.BadRequest("dispute %s is already escalated", d.Reference)
		}

		d.Escalated, d.EscalationReason, d.Priority = true, &reason, models.PriorityHigh
		if err := tx.Disputes().Update(ctx, d); err != nil {
			return apperror.Internal(err, "update dispute")
		}
		ob.audits = append(ob.audits, models.NewAuditLog(a, "dispute_escalated", "dispute", d.ID,
			map[string]any{"reason": reason}))
		s.disputeEvent(ob, events.EventDisputeUpdated, d, map[string]any{"escalated": true})
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Warn("dispute escalated", zap.String("dispute_id", id.String()), zap.String("reason", reason))
	return out, nil
}

// Resolve records the outcome and redirects the held escrow in the same
// unit of work. A replacement keeps escrow locked, sends the transaction
// back to fulfilment and closes the dispute.
func (s *DisputeService) Resolve(ctx context.Context, id uuid.UUID, a models.Actor, in ResolveDisputeInput) (*ResolveResult, error) {
	if err := requireAdmin(a); err != nil {
		return nil, err
	}
	if !in.Resolution.Valid() {
		return nil, apperror.BadRequest("unknown resolution %q", in.Resolution)
	}

	now := s.now()
	var out *ResolveResult
	err := s.run(ctx, func(ctx context.Context, tx repositories.Repos, ob *outbox) error {
		d, err := s.lockDispute(ctx, tx, id)
		if err != nil {
			return err
		}
		if !models.IsValidDisputeTransition(d.Status, models.DisputeStatusResolved) {
			return apperror.BadRequest("dispute %s cannot be resolved while %s", d.Reference, d.Status)
		}
		t, err := s.lockAny(ctx, tx, d.TransactionID)
		if err != nil {
			return err
		}
		res := &ResolveResult{Dispute: d, Transaction: t}

		rework := false
		switch {
		case t.EscrowStatus == models.EscrowLocked && in.Resolution == models.ResolutionReplacement:
			rework = true
			// The replacement is delivered and confirmed afresh.
			t.HasDispute = false
			t.CustomerConfirmed, t.CustomerConfirmedAt = false, nil
			t.SellerConfirmed, t.SellerConfirmedAt = false, nil
			if err := s.transition(ctx, tx, t, reworkStatus(t.Kind), a, "replacement agreed in "+d.Reference, now, ob); err != nil {
				return err
			}
		case t.EscrowStatus == models.EscrowLocked:
			st, err := s.custodian.Redirect(ctx, tx, t, in.Resolution, in.RefundPercentage)
			if err != nil {
				return escrowFailed("redirect", err)
			}
			s.settled(ob, t, st, "redirect")
			res.Settlement = st
			d.RefundAmount = decimal.NewNullDecimal(st.CustomerRefund)
		case in.Resolution != models.ResolutionSellerWins && in.Resolution != models.ResolutionReplacement:
			// Escrow of a completed transaction was already paid out.
			return apperror.Conflict("escrow for %s is already %s", t.Reference, t.EscrowStatus)
		}

		resolution, note := in.Resolution, in.Note
		by := a.ID
		d.Resolution, d.ResolutionNote, d.ResolvedBy, d.ResolvedAt = &resolution, &note, &by, &now
		if err := s.disputeTransition(ctx, tx, d, models.DisputeStatusResolved, a, string(resolution), now); err != nil {
			return err
		}
		// A transaction back in fulfilment holds no live dispute, so the
		// re-delivered goods can be disputed again.
		if rework {
			d.ClosedAt = &now
			if err := s.disputeTransition(ctx, tx, d, models.DisputeStatusClosed, a, "replacement in progress", now); err != nil {
				return err
			}
			ob.audits = append(ob.audits, models.NewAuditLog(a, "dispute_closed", "dispute", d.ID, nil))
		}

		meta := map[string]any{"resolution": string(resolution), "note": note}
		if res.Settlement != nil {
			meta["customer_refund"] = res.Settlement.CustomerRefund.String()
			meta["seller_net"] = res.Settlement.SellerNet.String()
		}
		ob.audits = append(ob.audits, models.NewAuditLog(a, "dispute_resolved", "dispute", d.ID, meta))
		s.disputeEvent(ob, events.EventDisputeResolved, d, map[string]any{"resolution": string(resolution)})
		s.notifyDispute(ob, d, a, notify.KindDisputeResolved,
			fmt.Sprintf("Dispute %s resolved: %s", d.Reference, humanStatus(string(resolution))), note)
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("dispute resolved",
		zap.String("dispute_id", id.String()),
		zap.String("resolution", string(in.Resolution)),
	)
	return out, nil
}

func reworkStatus(k models.Kind) string {
	if k == models.KindBooking {
		return models.StatusInProgress
	}
	return models.StatusProcessing
}

// Close finalises a resolved dispute and the transaction it held.
func (s *DisputeService) Close(ctx context.Context, id uuid.UUID, a models.Actor, note string) (*models.Dispute, error) {
	if err := requireAdmin(a); err != nil {
		return nil, err
	}

	now := s.now()
	var out *models.Dispute
	err := s.run(ctx, func(ctx context.Context, tx repositories.Repos, ob *outbox) error {
		d, err := s.lockDispute(ctx, tx, id)
		if err != nil {
			return err
		}
		if d.Status != models.DisputeStatusResolved {
			return apperror.BadRequest("dispute %s must be resolved before closing (%s)", d.Reference, d.Status)
		}
		t, err := s.lockAny(ctx, tx, d.TransactionID)
		if err != nil {
			return err
		}

		if t.Status == models.StatusDisputed {
			to := models.StatusCompleted
			if t.EscrowStatus == models.EscrowRefunded {
				to = models.StatusRefunded
			}
			t.HasDispute = false
			if err := s.transition(ctx, tx, t, to, a, "dispute "+d.Reference+" closed", now, ob); err != nil {
				return err
			}
		}

		d.ClosedAt = &now
		if note == "" {
			note = "closed"
		}
		if err := s.disputeTransition(ctx, tx, d, models.DisputeStatusClosed, a, note, now); err != nil {
			return err
		}
		ob.audits = append(ob.audits, models.NewAuditLog(a, "dispute_closed", "dispute", d.ID, nil))
		s.disputeEvent(ob, events.EventDisputeUpdated, d, nil)
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns a dispute visible to its parties and admins.
func (s *DisputeService) Get(ctx context.Context, id uuid.UUID, a models.Actor) (*models.Dispute, error) {
	d, err := s.store.Disputes().GetByID(ctx, id)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, apperror.NotFound("dispute %s not found", id)
	}
	if err != nil {
		return nil, apperror.Internal(err, "load dispute")
	}
	if d.PartyOf(a) == models.PartyNone {
		return nil, apperror.Forbidden("not a party to dispute %s", d.Reference)
	}
	return d, nil
}

// List returns disputes. Non-admins only see their own.
func (s *DisputeService) List(ctx context.Context, a models.Actor, f repositories.DisputeFilter) ([]models.Dispute, error) {
	if !a.IsAdmin() {
		id := a.ID
		f.PartyID = &id
		f.AssignedTo = nil
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	list, err := s.store.Disputes().List(ctx, f)
	if err != nil {
		return nil, apperror.Internal(err, "list disputes")
	}
	return list, nil
}
