// Package notify delivers party notifications over a RabbitMQ topic exchange.
// Delivery is best-effort: callers log failures and carry on.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Notification kinds, also used as the routing key suffix.
const (
	KindTransactionCreated = "transaction.created"
	KindPaymentReceived    = "payment.received"
	KindStatusChanged      = "transaction.status_changed"
	KindEscrowSettled      = "escrow.settled"
	KindDisputeOpened      = "dispute.opened"
	KindDisputeMessage     = "dispute.message"
	KindDisputeResolved    = "dispute.resolved"
	KindRedFlag            = "seller.red_flag"
)

type Notification struct {
	UserID        uuid.UUID      `json:"user_id"`
	Kind          string         `json:"kind"`
	TransactionID *uuid.UUID     `json:"transaction_id,omitempty"`
	DisputeID     *uuid.UUID     `json:"dispute_id,omitempty"`
	Reference     string         `json:"reference"`
	Title         string         `json:"title"`
	Body          string         `json:"body"`
	Data          map[string]any `json:"data,omitempty"`
	At            time.Time      `json:"at"`
}

// RoutingKey is "notify.<kind>".
func (n Notification) RoutingKey() string {
	return "notify." + n.Kind
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Nop drops notifications.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) error { return nil }
