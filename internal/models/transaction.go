package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	KindBooking Kind = "booking"
	KindOrder   Kind = "order"
)

func (k Kind) Valid() bool {
	return k == KindBooking || k == KindOrder
}

// Transaction statuses. Bookings and orders share a subset.
const (
	StatusPending        = "pending"
	StatusAccepted       = "accepted"
	StatusRejected       = "rejected"
	StatusConfirmed      = "confirmed"
	StatusProcessing     = "processing"
	StatusInProgress     = "in_progress"
	StatusShipped        = "shipped"
	StatusOutForDelivery = "out_for_delivery"
	StatusDelivered      = "delivered"
	StatusCompleted      = "completed"
	StatusCancelled      = "cancelled"
	StatusDisputed       = "disputed"
	StatusRefunded       = "refunded"
)

type EscrowStatus string

const (
	EscrowPending           EscrowStatus = "pending"
	EscrowLocked            EscrowStatus = "locked"
	EscrowReleased          EscrowStatus = "released"
	EscrowRefunded          EscrowStatus = "refunded"
	EscrowPartiallyRefunded EscrowStatus = "partially_refunded"
)

// Settled reports whether the escrow reached a terminal status.
func (s EscrowStatus) Settled() bool {
	return s == EscrowReleased || s == EscrowRefunded || s == EscrowPartiallyRefunded
}

type SellerType string

const (
	SellerTypeVendor SellerType = "vendor"
	SellerTypeAdmin  SellerType = "admin"
)

type PaymentMethod string

const (
	PaymentWallet PaymentMethod = "wallet"
	PaymentCard   PaymentMethod = "card"
)

// Valid state transitions: from -> []to
var BookingTransitions = map[string][]string{
	StatusPending:    {StatusAccepted, StatusRejected, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusDelivered},
	StatusDelivered:  {StatusCompleted, StatusDisputed},
	StatusCompleted:  {StatusDisputed},
	StatusDisputed:   {StatusCompleted, StatusRefunded, StatusInProgress},
	StatusRejected:   {},
	StatusCancelled:  {},
	StatusRefunded:   {},
}

var OrderTransitions = map[string][]string{
	StatusPending:        {StatusConfirmed, StatusCancelled},
	StatusConfirmed:      {StatusProcessing, StatusCancelled},
	StatusProcessing:     {StatusShipped, StatusCancelled},
	StatusShipped:        {StatusOutForDelivery, StatusDelivered},
	StatusOutForDelivery: {StatusDelivered},
	StatusDelivered:      {StatusCompleted, StatusDisputed},
	StatusCompleted:      {StatusDisputed},
	StatusDisputed:       {StatusCompleted, StatusRefunded, StatusProcessing},
	StatusCancelled:      {},
	StatusRefunded:       {},
}

func TransitionsFor(kind Kind) map[string][]string {
	if kind == KindBooking {
		return BookingTransitions
	}
	return OrderTransitions
}

func IsValidTransition(kind Kind, from, to string) bool {
	allowed, ok := TransitionsFor(kind)[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// CancellableStatuses lists where a cancel request is accepted.
var CancellableStatuses = map[Kind][]string{
	KindBooking: {StatusPending, StatusAccepted},
	KindOrder:   {StatusPending, StatusConfirmed, StatusProcessing},
}

func IsCancellable(kind Kind, status string) bool {
	for _, s := range CancellableStatuses[kind] {
		if s == status {
			return true
		}
	}
	return false
}

// StatusEntry is one element of the append-only status history.
type StatusEntry struct {
	Status    string     `json:"status"`
	ActorID   *uuid.UUID `json:"actor_id,omitempty"`
	ActorRole Role       `json:"actor_role"`
	Note      string     `json:"note,omitempty"`
	At        time.Time  `json:"at"`
}

type Transaction struct {
	ID         uuid.UUID  `json:"id"`
	Kind       Kind       `json:"kind"`
	Reference  string     `json:"reference"`
	CustomerID uuid.UUID  `json:"customer_id"`
	SellerID   uuid.UUID  `json:"seller_id"`
	SellerType SellerType `json:"seller_type"`

	Subtotal       decimal.Decimal `json:"subtotal"`
	Fee            decimal.Decimal `json:"fee"`
	Discount       decimal.Decimal `json:"discount"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	EscrowedAmount decimal.Decimal `json:"escrowed_amount"`
	Currency       string          `json:"currency"`

	PaymentMethod    PaymentMethod `json:"payment_method"`
	PaymentReference string        `json:"payment_reference"`
	GatewayChargeID  *string       `json:"gateway_charge_id,omitempty"`
	IsPaid           bool          `json:"is_paid"`
	PaidAt           *time.Time    `json:"paid_at,omitempty"`
	PaymentExpiresAt *time.Time    `json:"payment_expires_at,omitempty"`

	EscrowStatus EscrowStatus  `json:"escrow_status"`
	Status       string        `json:"status"`
	History      []StatusEntry `json:"status_history"`

	CustomerConfirmed   bool       `json:"customer_confirmed_delivery"`
	CustomerConfirmedAt *time.Time `json:"customer_confirmed_at,omitempty"`
	SellerConfirmed     bool       `json:"seller_confirmed_delivery"`
	SellerConfirmedAt   *time.Time `json:"seller_confirmed_at,omitempty"`

	// DeliveredAt starts the confirmation window. A re-delivery restarts it.
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`

	HasDispute bool       `json:"has_dispute"`
	DisputeID  *uuid.UUID `json:"dispute_id,omitempty"`

	CancellationReason *string    `json:"cancellation_reason,omitempty"`
	CancelledBy        *uuid.UUID `json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time `json:"cancelled_at,omitempty"`

	Booking *BookingDetails `json:"booking,omitempty"`
	Order   *OrderDetails   `json:"order,omitempty"`

	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type BookingDetails struct {
	ServiceID     uuid.UUID `json:"service_id"`
	ScheduledDate string    `json:"scheduled_date"` // 2006-01-02, local to the platform offset
	ScheduledTime string    `json:"scheduled_time"` // 15:04
	ScheduledAt   time.Time `json:"scheduled_at"`   // UTC
	Location      *GeoPoint `json:"location,omitempty"`
	Address       string    `json:"address,omitempty"`
	Notes         string    `json:"notes,omitempty"`
}

type OrderItem struct {
	ProductID uuid.UUID       `json:"product_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"` // per unit
}

func (i OrderItem) LineTotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type OrderDetails struct {
	Items            []OrderItem `json:"items"`
	DeliveryAddress  string      `json:"delivery_address"`
	DeliveryLocation *GeoPoint   `json:"delivery_location,omitempty"`
	DeliveryNote     string      `json:"delivery_note,omitempty"`
	TrackingNumber   *string     `json:"tracking_number,omitempty"`
	Carrier          *string     `json:"carrier,omitempty"`
}

// PartyOf resolves the relation of a to this transaction.
func (t *Transaction) PartyOf(a Actor) Party {
	return resolveParty(a, t.CustomerID, t.SellerID, t.SellerType)
}

func (t *Transaction) AppendStatus(status string, a Actor, note string, at time.Time) StatusEntry {
	e := StatusEntry{Status: status, ActorRole: a.Role, Note: note, At: at}
	if a.ID != uuid.Nil {
		id := a.ID
		e.ActorID = &id
	}
	t.Status = status
	t.History = append(t.History, e)
	if status == StatusDelivered {
		delivered := at
		t.DeliveredAt = &delivered
	}
	return e
}

// ReservedQuantities sums ordered quantity per product.
func (t *Transaction) ReservedQuantities() map[uuid.UUID]int {
	out := make(map[uuid.UUID]int)
	if t.Order == nil {
		return out
	}
	for _, it := range t.Order.Items {
		out[it.ProductID] += it.Quantity
	}
	return out
}
