package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

// Ledger entry categories
const (
	CategoryPaymentDebit        = "payment_debit"
	CategoryEscrowRelease       = "escrow_release"
	CategoryEscrowRefund        = "escrow_refund"
	CategoryCommission          = "commission"
	CategoryCancellationPenalty = "cancellation_penalty"
	CategoryLatePaymentRefund   = "late_payment_refund"
	CategoryTopUp               = "top_up"
)

type Wallet struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type WalletEntry struct {
	ID               uuid.UUID       `json:"id"`
	WalletID         uuid.UUID       `json:"wallet_id"`
	UserID           uuid.UUID       `json:"user_id"`
	Type             EntryType       `json:"type"`
	Category         string          `json:"category"`
	Amount           decimal.Decimal `json:"amount"`
	BalanceAfter     decimal.Decimal `json:"balance_after"`
	TransactionID    *uuid.UUID      `json:"transaction_id,omitempty"`
	PaymentReference *string         `json:"payment_reference,omitempty"`
	Description      string          `json:"description"`
	CreatedAt        time.Time       `json:"created_at"`
}
