package models

import (
	"time"

	"github.com/google/uuid"
)

type SubscriptionTier string

const (
	TierFree    SubscriptionTier = "free"
	TierBasic   SubscriptionTier = "basic"
	TierPremium SubscriptionTier = "premium"
)

type User struct {
	ID               uuid.UUID        `json:"id"`
	Role             Role             `json:"role"`
	Name             string           `json:"name"`
	Email            *string          `json:"email,omitempty"`
	Verified         bool             `json:"verified"`
	SubscriptionTier SubscriptionTier `json:"subscription_tier"`
	Location         *GeoPoint        `json:"location,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

type RedFlag struct {
	ID            uuid.UUID  `json:"id"`
	SellerID      uuid.UUID  `json:"seller_id"`
	TransactionID *uuid.UUID `json:"transaction_id,omitempty"`
	Reason        string     `json:"reason"`
	Severity      string     `json:"severity"`
	Note          string     `json:"note,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
