package pricing

import (
	"math"

	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/shopspring/decimal"
)

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between two points.
func DistanceKm(a, b models.GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

type Tier struct {
	UpToKm float64
	Fee    decimal.Decimal
}

// Policy is a tiered flat fee with a per-km charge beyond the last tier.
type Policy struct {
	Tiers      []Tier // ascending UpToKm
	PerExtraKm decimal.Decimal
}

func (p Policy) Fee(km float64) decimal.Decimal {
	if km < 0 {
		km = 0
	}
	for _, t := range p.Tiers {
		if km <= t.UpToKm {
			return t.Fee.Round(2)
		}
	}

	base := decimal.Zero
	covered := 0.0
	if n := len(p.Tiers); n > 0 {
		base = p.Tiers[n-1].Fee
		covered = p.Tiers[n-1].UpToKm
	}
	extra := decimal.NewFromFloat(math.Ceil(km - covered))
	return base.Add(extra.Mul(p.PerExtraKm)).Round(2)
}

// FeeBetween computes the fee for travel between two points.
func (p Policy) FeeBetween(from, to models.GeoPoint) (decimal.Decimal, float64) {
	km := DistanceKm(from, to)
	return p.Fee(km), km
}

type Quote struct {
	Subtotal   decimal.Decimal `json:"subtotal"`
	Fee        decimal.Decimal `json:"fee"`
	Discount   decimal.Decimal `json:"discount"`
	Total      decimal.Decimal `json:"total"`
	DistanceKm float64         `json:"distance_km"`
}

// Total is subtotal + fee - discount, never negative.
func Total(subtotal, fee, discount decimal.Decimal) decimal.Decimal {
	t := subtotal.Add(fee).Sub(discount)
	if t.IsNegative() {
		return decimal.Zero
	}
	return t.Round(2)
}

func NewQuote(subtotal, fee, discount decimal.Decimal, km float64) Quote {
	return Quote{
		Subtotal:   subtotal.Round(2),
		Fee:        fee.Round(2),
		Discount:   discount.Round(2),
		Total:      Total(subtotal, fee, discount),
		DistanceKm: math.Round(km*100) / 100,
	}
}
