package services

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/marketplace-escrow/backend/internal/apperror"
	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/marketplace-escrow/backend/internal/notify"
	"github.com/marketplace-escrow/backend/internal/policy"
	"github.com/marketplace-escrow/backend/internal/pricing"
	"github.com/marketplace-escrow/backend/internal/repositories"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type OrderLine struct {
	ProductID uuid.UUID `json:"product_id"`
	Quantity  int       `json:"quantity"`
}

type CreateOrderInput struct {
	Items            []OrderLine      `json:"items"`
	DeliveryAddress  string           `json:"delivery_address"`
	DeliveryLocation *models.GeoPoint `json:"delivery_location"`
	DeliveryNote     string           `json:"delivery_note,omitempty"`
	Payment          PaymentInput     `json:"payment"`
}

// SellerOrderUpdate is everything a seller may change on an order.
type SellerOrderUpdate struct {
	Status         string  `json:"status"`
	TrackingNumber *string `json:"tracking_number,omitempty"`
	Carrier        *string `json:"carrier,omitempty"`
	Note           string  `json:"note,omitempty"`
}

// CustomerOrderUpdate is everything a customer may change on an order.
type CustomerOrderUpdate struct {
	DeliveryAddress *string `json:"delivery_address,omitempty"`
	DeliveryNote    *string `json:"delivery_note,omitempty"`
}

var sellerOrderStatuses = map[string]bool{
	models.StatusConfirmed:      true,
	models.StatusProcessing:     true,
	models.StatusShipped:        true,
	models.StatusOutForDelivery: true,
	models.StatusDelivered:      true,
}

type OrderService struct {
	*core
}

func NewOrderService(d Deps) *OrderService {
	return &OrderService{core: newCore(d)}
}

func (s *OrderService) draft(ctx context.Context, a models.Actor, in CreateOrderInput) (*models.Transaction, pricing.Quote, error) {
	var q pricing.Quote
	if a.Role != models.RoleCustomer {
		return nil, q, apperror.Unauthorized("only customers can place orders")
	}
	if len(in.Items) == 0 {
		return nil, q, apperror.BadRequest("an order needs at least one item")
	}
	if !in.DeliveryLocation.Valid() {
		return nil, q, apperror.BadRequest("a valid delivery location is required")
	}
	if strings.TrimSpace(in.DeliveryAddress) == "" {
		return nil, q, apperror.BadRequest("a delivery address is required")
	}

	var (
		items      []models.OrderItem
		seller     uuid.UUID
		sellerType models.SellerType
		subtotal   = decimal.Zero
		discount   = decimal.Zero
		wanted     = make(map[uuid.UUID]int)
	)
	for _, line := range in.Items {
		if line.Quantity <= 0 {
			return nil, q, apperror.BadRequest("quantity for product %s must be positive", line.ProductID)
		}
		p, err := s.store.Catalog().GetProduct(ctx, line.ProductID)
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, q, apperror.NotFound("product %s not found", line.ProductID)
		}
		if err != nil {
			return nil, q, apperror.Internal(err, "load product")
		}
		if !p.Active {
			return nil, q, apperror.BadRequest("product %s is not available", p.Name)
		}
		if p.SellerID == a.ID {
			return nil, q, apperror.BadRequest("cannot order your own product")
		}
		if seller == uuid.Nil {
			seller, sellerType = p.SellerID, p.SellerType
		} else if p.SellerID != seller {
			return nil, q, apperror.BadRequest("all items of an order must come from one seller")
		}
		if err := s.checkCategory(ctx, p.CategoryID); err != nil {
			return nil, q, err
		}

		wanted[p.ID] += line.Quantity
		if p.Stock < wanted[p.ID] {
			return nil, q, apperror.BadRequest("insufficient stock for %s: %d left", p.Name, p.Stock)
		}

		item := models.OrderItem{
			ProductID: p.ID,
			Name:      p.Name,
			Quantity:  line.Quantity,
			UnitPrice: p.Price,
			Discount:  p.UnitDiscount(),
		}
		qty := decimal.NewFromInt(int64(line.Quantity))
		subtotal = subtotal.Add(item.LineTotal())
		discount = discount.Add(item.Discount.Mul(qty))
		items = append(items, item)
	}

	origin, err := s.sellerLocation(ctx, seller)
	if err != nil {
		return nil, q, err
	}
	fee, km := s.fees.FeeBetween(*origin, *in.DeliveryLocation)

	q = pricing.NewQuote(subtotal, fee, discount, km)
	t := &models.Transaction{
		Kind:        models.KindOrder,
		CustomerID:  a.ID,
		SellerID:    seller,
		SellerType:  sellerType,
		Subtotal:    q.Subtotal,
		Fee:         q.Fee,
		Discount:    q.Discount,
		TotalAmount: q.Total,
		Status:      models.StatusPending,
		Order: &models.OrderDetails{
			Items:            items,
			DeliveryAddress:  in.DeliveryAddress,
			DeliveryLocation: in.DeliveryLocation,
			DeliveryNote:     in.DeliveryNote,
		},
	}
	return t, q, nil
}

// Quote previews the price of an order. Nothing is reserved.
func (s *OrderService) Quote(ctx context.Context, a models.Actor, in CreateOrderInput) (*pricing.Quote, error) {
	_, q, err := s.draft(ctx, a, in)
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// Create reserves stock and persists the order together with its payment.
func (s *OrderService) Create(ctx context.Context, a models.Actor, in CreateOrderInput) (*PlaceResult, error) {
	now := s.now()
	t, _, err := s.draft(ctx, a, in)
	if err != nil {
		return nil, err
	}
	res, err := s.place(ctx, t, a, in.Payment, now)
	if err != nil {
		return nil, err
	}
	s.log.Info("order created",
		zap.String("transaction_id", res.Transaction.ID.String()),
		zap.String("reference", res.Transaction.Reference),
		zap.Int("items", len(t.Order.Items)),
		zap.String("total", t.TotalAmount.String()),
	)
	return res, nil
}

// SellerUpdate advances fulfilment. Tracking details may only be attached
// when the order ships.
func (s *OrderService) SellerUpdate(ctx context.Context, id uuid.UUID, a models.Actor, in SellerOrderUpdate) (*models.Transaction, error) {
	if !sellerOrderStatuses[in.Status] {
		return nil, apperror.BadRequest("sellers cannot set status %q", in.Status)
	}
	if (in.TrackingNumber != nil || in.Carrier != nil) &&
		in.Status != models.StatusShipped && in.Status != models.StatusOutForDelivery {
		return nil, apperror.BadRequest("tracking details are only accepted when shipping")
	}

	now := s.now()
	var out *models.Transaction
	err := s.run(ctx, func(ctx context.Context, tx repositories.Repos, ob *outbox) error {
		t, err := s.lockKind(ctx, tx, id, models.KindOrder)
		if err != nil {
			return err
		}
		if _, err := requireParty(t, a, models.PartySeller); err != nil {
			return err
		}
		if in.TrackingNumber != nil {
			t.Order.TrackingNumber = in.TrackingNumber
		}
		if in.Carrier != nil {
			t.Order.Carrier = in.Carrier
		}
		if err := s.transition(ctx, tx, t, in.Status, a, in.Note, now, ob); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CustomerUpdate edits delivery details before the order is processed.
func (s *OrderService) CustomerUpdate(ctx context.Context, id uuid.UUID, a models.Actor, in CustomerOrderUpdate) (*models.Transaction, error) {
	if in.DeliveryAddress == nil && in.DeliveryNote == nil {
		return nil, apperror.BadRequest("nothing to update")
	}
	if in.DeliveryAddress != nil && strings.TrimSpace(*in.DeliveryAddress) == "" {
		return nil, apperror.BadRequest("delivery address cannot be empty")
	}

	var out *models.Transaction
	err := s.run(ctx, func(ctx context.Context, tx repositories.Repos, ob *outbox) error {
		t, err := s.lockKind(ctx, tx, id, models.KindOrder)
		if err != nil {
			return err
		}
		if _, err := requireParty(t, a, models.PartyCustomer); err != nil {
			return err
		}
		if t.Status != models.StatusPending && t.Status != models.StatusConfirmed {
			return apperror.BadRequest("%s can no longer be edited (%s)", t.Reference, t.Status)
		}

		changed := map[string]any{}
		if in.DeliveryAddress != nil {
			t.Order.DeliveryAddress = *in.DeliveryAddress
			changed["delivery_address"] = *in.DeliveryAddress
		}
		if in.DeliveryNote != nil {
			t.Order.DeliveryNote = *in.DeliveryNote
			changed["delivery_note"] = *in.DeliveryNote
		}
		if err := tx.Transactions().Update(ctx, t); err != nil {
			return apperror.Internal(err, "update transaction")
		}
		ob.audits = append(ob.audits, models.NewAuditLog(a, "order_delivery_updated", "transaction", t.ID, changed))
		s.notifyParties(ob, t, a, notify.KindStatusChanged, "Delivery details updated for "+t.Reference, "")
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Cancel cancels an order that has not shipped yet. Orders are always
// refunded in full.
func (s *OrderService) Cancel(ctx context.Context, id uuid.UUID, a models.Actor, reason string) (*CancelResult, error) {
	if reason == "" {
		return nil, apperror.BadRequest("a reason is required")
	}
	now := s.now()
	var out *CancelResult
	err := s.run(ctx, func(ctx context.Context, tx repositories.Repos, ob *outbox) error {
		t, err := s.lockKind(ctx, tx, id, models.KindOrder)
		if err != nil {
			return err
		}
		party, err := requireParty(t, a, models.PartyCustomer, models.PartySeller, models.PartyAdmin, models.PartySystem)
		if err != nil {
			return err
		}
		out, err = s.terminate(ctx, tx, t, a, party, policy.ActionCancel, reason, now, ob)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ConfirmDelivery records one party's confirmation that the goods arrived.
func (s *OrderService) ConfirmDelivery(ctx context.Context, id uuid.UUID, a models.Actor) (*models.Transaction, error) {
	return s.confirm(ctx, id, models.KindOrder, a)
}

