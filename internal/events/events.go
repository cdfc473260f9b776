package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Channel carries lifecycle events for transactions and their disputes.
const Channel = "events:transaction"

// Event types
const (
	EventTransactionCreated       = "transaction_created"
	EventTransactionStatusChanged = "transaction_status_changed"
	EventPaymentReceived          = "payment_received"
	EventEscrowSettled            = "escrow_settled"
	EventDisputeOpened            = "dispute_opened"
	EventDisputeUpdated           = "dispute_updated"
	EventDisputeResolved          = "dispute_resolved"
)

// Event is fanned out to the listed recipients only.
type Event struct {
	ID         uuid.UUID      `json:"id"`
	Type       string         `json:"type"`
	At         time.Time      `json:"at"`
	Recipients []uuid.UUID    `json:"recipients"`
	Payload    map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}

// NopPublisher drops events. Used by processes that run without Redis.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, Event) error { return nil }
