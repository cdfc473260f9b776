package dto

import "github.com/shopspring/decimal"

// Order and booking creation bodies decode straight into the service inputs.

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type NoteRequest struct {
	Note string `json:"note,omitempty"`
}

type OpenDisputeRequest struct {
	Reason      string   `json:"reason"`
	Description string   `json:"description"`
	Evidence    []string `json:"evidence,omitempty"`
	ProductID   *string  `json:"product_id,omitempty"`
}

type AssignDisputeRequest struct {
	AssigneeID *string `json:"assignee_id,omitempty"` // defaults to the caller
}

type ResolveDisputeRequest struct {
	Resolution       string          `json:"resolution"`
	RefundPercentage decimal.Decimal `json:"refund_percentage"`
	Note             string          `json:"note,omitempty"`
}

type TopUpRequest struct {
	UserID string          `json:"user_id"`
	Amount decimal.Decimal `json:"amount"`
	Note   string          `json:"note,omitempty"`
}

type ConfirmPaymentRequest struct {
	PaymentReference string `json:"payment_reference"`
}

// WebhookRequest is the part of an Omise event body we read. Everything else
// is fetched again from the gateway by id.
type WebhookRequest struct {
	ID  string `json:"id"`
	Key string `json:"key"`
}
