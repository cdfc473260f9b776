// Package payments adapts the Omise card gateway. Calls here are network
// round-trips and must never run inside a database unit of work.
package payments

import (
	"context"

	"github.com/shopspring/decimal"
)

type ChargeStatus string

// Omise charge statuses.
const (
	ChargeSuccessful        ChargeStatus = "successful"
	ChargeFailed            ChargeStatus = "failed"
	ChargePending           ChargeStatus = "pending"
	ChargeAwaitingAuthorize ChargeStatus = "awaiting_authorize"
	ChargeExpired           ChargeStatus = "expired"
	ChargeReversed          ChargeStatus = "reversed"
)

type ChargeRequest struct {
	Reference string // our payment reference, echoed back in metadata
	Amount    decimal.Decimal
	Currency  string
	CardToken string
	SourceID  string
	ReturnURI string
}

type Charge struct {
	ID             string
	Reference      string
	Status         ChargeStatus
	Amount         decimal.Decimal
	Currency       string
	AuthorizeURI   string
	FailureCode    string
	FailureMessage string
}

func (c *Charge) Successful() bool { return c.Status == ChargeSuccessful }

// Settled reports whether the charge reached a final outcome.
func (c *Charge) Settled() bool {
	return c.Status != ChargePending && c.Status != ChargeAwaitingAuthorize
}

// WebhookEvent is a gateway event re-fetched by id, never trusted from the request body.
type WebhookEvent struct {
	ID     string
	Key    string
	Charge *Charge
}

type Gateway interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (*Charge, error)
	RetrieveCharge(ctx context.Context, chargeID string) (*Charge, error)
	RetrieveEvent(ctx context.Context, eventID string) (*WebhookEvent, error)
}

// ToMinor converts to the smallest currency unit (satang, cents).
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
