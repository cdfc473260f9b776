package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Dispute statuses
const (
	DisputeStatusOpen             = "open"
	DisputeStatusUnderReview      = "under_review"
	DisputeStatusAwaitingResponse = "awaiting_response"
	DisputeStatusResolved         = "resolved"
	DisputeStatusClosed           = "closed"
)

var ValidDisputeTransitions = map[string][]string{
	DisputeStatusOpen:             {DisputeStatusUnderReview, DisputeStatusResolved},
	DisputeStatusUnderReview:      {DisputeStatusAwaitingResponse, DisputeStatusResolved},
	DisputeStatusAwaitingResponse: {DisputeStatusUnderReview, DisputeStatusResolved},
	DisputeStatusResolved:         {DisputeStatusClosed},
	DisputeStatusClosed:           {},
}

func IsValidDisputeTransition(from, to string) bool {
	for _, s := range ValidDisputeTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type DisputeReason string

const (
	ReasonItemNotReceived    DisputeReason = "item_not_received"
	ReasonItemNotAsDescribed DisputeReason = "item_not_as_described"
	ReasonDamagedItem        DisputeReason = "damaged_item"
	ReasonWrongItem          DisputeReason = "wrong_item"
	ReasonServiceNotRendered DisputeReason = "service_not_rendered"
	ReasonPoorServiceQuality DisputeReason = "poor_service_quality"
	ReasonOvercharged        DisputeReason = "overcharged"
	ReasonOther              DisputeReason = "other"
)

var disputeReasons = map[DisputeReason]bool{
	ReasonItemNotReceived:    true,
	ReasonItemNotAsDescribed: true,
	ReasonDamagedItem:        true,
	ReasonWrongItem:          true,
	ReasonServiceNotRendered: true,
	ReasonPoorServiceQuality: true,
	ReasonOvercharged:        true,
	ReasonOther:              true,
}

func (r DisputeReason) Valid() bool {
	return disputeReasons[r]
}

// FundImpacting reasons are auto-escalated to high priority.
func (r DisputeReason) FundImpacting() bool {
	switch r {
	case ReasonItemNotReceived, ReasonWrongItem, ReasonServiceNotRendered, ReasonOvercharged:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

type Resolution string

const (
	ResolutionFullRefund    Resolution = "full_refund"
	ResolutionPartialRefund Resolution = "partial_refund"
	ResolutionReplacement   Resolution = "replacement"
	ResolutionSellerWins    Resolution = "seller_wins"
	ResolutionCustomerWins  Resolution = "customer_wins"
)

func (r Resolution) Valid() bool {
	switch r {
	case ResolutionFullRefund, ResolutionPartialRefund, ResolutionReplacement, ResolutionSellerWins, ResolutionCustomerWins:
		return true
	}
	return false
}

type DisputeMessage struct {
	SenderID    uuid.UUID `json:"sender_id"`
	SenderRole  Role      `json:"sender_role"`
	Text        string    `json:"text"`
	Attachments []string  `json:"attachments,omitempty"`
	At          time.Time `json:"at"`
}

type Dispute struct {
	ID              uuid.UUID  `json:"id"`
	Reference       string     `json:"reference"`
	TransactionID   uuid.UUID  `json:"transaction_id"`
	TransactionKind Kind       `json:"transaction_kind"`
	CustomerID      uuid.UUID  `json:"customer_id"`
	SellerID        uuid.UUID  `json:"seller_id"`
	SellerType      SellerType `json:"seller_type"`
	ProductID       *uuid.UUID `json:"product_id,omitempty"`
	ServiceID       *uuid.UUID `json:"service_id,omitempty"`
	OpenedBy        uuid.UUID  `json:"opened_by"`

	Reason      DisputeReason `json:"reason"`
	Description string        `json:"description"`
	Evidence    []string      `json:"evidence"`

	Status   string           `json:"status"`
	Priority Priority         `json:"priority"`
	Messages []DisputeMessage `json:"messages"`
	History  []StatusEntry    `json:"status_history"`

	AssignedTo *uuid.UUID `json:"assigned_to,omitempty"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`

	CustomerResponded bool `json:"customer_responded"`
	SellerResponded   bool `json:"seller_responded"`

	Escalated        bool    `json:"escalated"`
	EscalationReason *string `json:"escalation_reason,omitempty"`

	Resolution     *Resolution         `json:"resolution,omitempty"`
	ResolutionNote *string             `json:"resolution_note,omitempty"`
	RefundAmount   decimal.NullDecimal `json:"refund_amount"`
	ResolvedBy     *uuid.UUID          `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time          `json:"resolved_at,omitempty"`
	ClosedAt       *time.Time          `json:"closed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (d *Dispute) PartyOf(a Actor) Party {
	return resolveParty(a, d.CustomerID, d.SellerID, d.SellerType)
}

func (d *Dispute) AppendStatus(status string, a Actor, note string, at time.Time) StatusEntry {
	e := StatusEntry{Status: status, ActorRole: a.Role, Note: note, At: at}
	if a.ID != uuid.Nil {
		id := a.ID
		e.ActorID = &id
	}
	d.Status = status
	d.History = append(d.History, e)
	return e
}
