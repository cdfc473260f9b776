// Package policy decides refund and penalty splits for cancellations.
// Decide is pure: callers apply the decision.
package policy

import (
	"time"

	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/shopspring/decimal"
)

type Action string

const (
	ActionCancel Action = "cancel"
	ActionReject Action = "reject"
)

// Red flag severities
const (
	SeverityLow    = "low"
	SeverityMedium = "medium"
	SeverityHigh   = "high"
)

var hundred = decimal.NewFromInt(100)

type Rules struct {
	CustomerPenaltyWindow time.Duration   // customer cancels inside this window pay the penalty
	CustomerPenaltyPct    decimal.Decimal // retained share, 0-100
	VendorFlagWindow      time.Duration   // seller cancels inside this window get flagged
}

func DefaultRules() Rules {
	return Rules{
		CustomerPenaltyWindow: 59 * time.Minute,
		CustomerPenaltyPct:    decimal.NewFromInt(20),
		VendorFlagWindow:      3*time.Hour + 59*time.Minute,
	}
}

type Input struct {
	Party  models.Party
	Kind   models.Kind
	Action Action
	// Until is the time left before the scheduled moment, read once by the caller.
	Until time.Duration
	// RecentFlags counts the seller's flags inside the rolling window.
	RecentFlags int
}

type Decision struct {
	RefundPercentage  decimal.Decimal `json:"refund_percentage"`
	PenaltyPercentage decimal.Decimal `json:"penalty_percentage"`
	RaiseFlag         bool            `json:"raise_flag"`
	FlagSeverity      string          `json:"flag_severity,omitempty"`
	Reason            string          `json:"reason"`
}

func (d Decision) FullRefund() bool {
	return d.RefundPercentage.Equal(hundred)
}

func fullRefund(reason string) Decision {
	return Decision{RefundPercentage: hundred, PenaltyPercentage: decimal.Zero, Reason: reason}
}

// Decide maps who cancels, and how close to the appointment, onto a refund split.
func (r Rules) Decide(in Input) Decision {
	if in.Kind != models.KindBooking {
		return fullRefund("order cancelled before dispatch")
	}

	switch in.Party {
	case models.PartyCustomer:
		if in.Until < r.CustomerPenaltyWindow {
			pct := r.CustomerPenaltyPct
			return Decision{
				RefundPercentage:  hundred.Sub(pct),
				PenaltyPercentage: pct,
				Reason:            "late customer cancellation",
			}
		}
		return fullRefund("customer cancelled with notice")

	case models.PartySeller:
		d := fullRefund("seller " + string(in.Action) + " with notice")
		if in.Until < r.VendorFlagWindow {
			d.Reason = "late seller " + string(in.Action)
			d.RaiseFlag = true
			d.FlagSeverity = Severity(in.RecentFlags)
		}
		return d
	}

	return fullRefund("cancelled by platform")
}

// Severity escalates with the number of earlier flags in the window.
func Severity(recentFlags int) string {
	switch {
	case recentFlags >= 3:
		return SeverityHigh
	case recentFlags >= 1:
		return SeverityMedium
	default:
		return SeverityLow
	}
}
