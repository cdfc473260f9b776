package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Product struct {
	ID         uuid.UUID           `json:"id"`
	SellerID   uuid.UUID           `json:"seller_id"`
	SellerType SellerType          `json:"seller_type"`
	CategoryID *uuid.UUID          `json:"category_id,omitempty"`
	Name       string              `json:"name"`
	Price      decimal.Decimal     `json:"price"`
	SalePrice  decimal.NullDecimal `json:"sale_price"`
	Stock      int                 `json:"stock"`
	Active     bool                `json:"active"`
	CreatedAt  time.Time           `json:"created_at"`
}

// UnitDiscount is the per-unit difference when a lower sale price applies.
func (p *Product) UnitDiscount() decimal.Decimal {
	if !p.SalePrice.Valid || !p.SalePrice.Decimal.LessThan(p.Price) || p.SalePrice.Decimal.IsNegative() {
		return decimal.Zero
	}
	return p.Price.Sub(p.SalePrice.Decimal)
}

type Service struct {
	ID               uuid.UUID       `json:"id"`
	SellerID         uuid.UUID       `json:"seller_id"`
	SellerType       SellerType      `json:"seller_type"`
	CategoryID       *uuid.UUID      `json:"category_id,omitempty"`
	Name             string          `json:"name"`
	Price            decimal.Decimal `json:"price"`
	DurationMinutes  int             `json:"duration_minutes"`
	RequiresLocation bool            `json:"requires_location"`
	Active           bool            `json:"active"`
	CreatedAt        time.Time       `json:"created_at"`
}
