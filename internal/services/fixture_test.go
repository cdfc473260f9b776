package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace-escrow/backend/internal/config"
	"github.com/marketplace-escrow/backend/internal/escrow"
	"github.com/marketplace-escrow/backend/internal/events"
	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/marketplace-escrow/backend/internal/notify"
	"github.com/marketplace-escrow/backend/internal/payments"
	"github.com/marketplace-escrow/backend/internal/services"
	"github.com/marketplace-escrow/backend/internal/testutil/memstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	platform = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	bangkok  = 7 * time.Hour
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateCharge(ctx context.Context, req payments.ChargeRequest) (*payments.Charge, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.Charge), args.Error(1)
}

func (m *mockGateway) RetrieveCharge(ctx context.Context, chargeID string) (*payments.Charge, error) {
	args := m.Called(ctx, chargeID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.Charge), args.Error(1)
}

func (m *mockGateway) RetrieveEvent(ctx context.Context, eventID string) (*payments.WebhookEvent, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payments.WebhookEvent), args.Error(1)
}

// recorder captures notifications and broadcasts. failWith makes every
// delivery fail.
type recorder struct {
	mu       sync.Mutex
	notes    []notify.Notification
	events   []events.Event
	failWith error
}

func (r *recorder) Notify(_ context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
	return r.failWith
}

func (r *recorder) Publish(_ context.Context, _ string, ev events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.failWith
}

func (r *recorder) kinds(user uuid.UUID) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, n := range r.notes {
		if n.UserID == user {
			out = append(out, n.Kind)
		}
	}
	return out
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type env struct {
	store    *memstore.Store
	cfg      *config.Config
	clock    *clock
	gateway  *mockGateway
	sink     *recorder
	bookings *services.BookingService
	orders   *services.OrderService
	payments *services.PaymentService
	disputes *services.DisputeService
	jobs     *services.Jobs
	queries  *services.TransactionQueries
	wallets  *services.WalletService

	customer models.Actor
	seller   models.Actor
	admin    models.Actor
	outsider models.Actor
}

func testConfig() *config.Config {
	return &config.Config{
		Currency:          "thb",
		PaymentWindow:     15 * time.Minute,
		OmiseReturnURI:    "https://example.test/payments/return",
		PlatformAccountID: platform,
		CommissionRates: map[string]decimal.Decimal{
			"free":    dec("0.10"),
			"basic":   dec("0.07"),
			"premium": dec("0.05"),
		},
		DefaultCommission:     dec("0.10"),
		FeeTiers:              []config.FeeTier{{UpToKm: 1000, Fee: dec("500")}},
		FeePerExtraKm:         dec("10"),
		ScheduleUTCOffset:     bangkok,
		CustomerPenaltyWindow: 59 * time.Minute,
		CustomerPenaltyPct:    dec("20"),
		VendorFlagWindow:      3*time.Hour + 59*time.Minute,
		RedFlagLookback:       30 * 24 * time.Hour,
		AutoCompleteAfter:     72 * time.Hour,
		ReaperBatchSize:       50,
	}
}

func newEnv(t *testing.T) *env {
	t.Helper()

	clk := &clock{t: time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)}
	store := memstore.New()
	store.Now = clk.Now
	cfg := testConfig()
	gw := &mockGateway{}
	sink := &recorder{}

	deps := services.Deps{
		Store:     store,
		Custodian: escrow.NewCustodian(platform, cfg.CommissionRate, zap.NewNop()),
		Gateway:   gw,
		Publisher: sink,
		Notifier:  sink,
		Config:    cfg,
		Log:       zap.NewNop(),
		Clock:     clk.Now,
	}

	customer := store.AddUser(models.User{Role: models.RoleCustomer, Name: "Somchai"})
	seller := store.AddUser(models.User{
		Role:     models.RoleSeller,
		Name:     "Bangkok Repairs",
		Location: &models.GeoPoint{Lat: 13.7563, Lng: 100.5018},
	})
	admin := store.AddUser(models.User{Role: models.RoleAdmin, Name: "ops"})
	outsider := store.AddUser(models.User{Role: models.RoleCustomer, Name: "stranger"})

	return &env{
		store:    store,
		cfg:      cfg,
		clock:    clk,
		gateway:  gw,
		sink:     sink,
		bookings: services.NewBookingService(deps),
		orders:   services.NewOrderService(deps),
		payments: services.NewPaymentService(deps),
		disputes: services.NewDisputeService(deps),
		jobs:     services.NewJobs(deps),
		queries:  services.NewTransactionQueries(store),
		wallets:  services.NewWalletService(store, cfg, zap.NewNop()),
		customer: models.Actor{ID: customer.ID, Role: models.RoleCustomer},
		seller:   models.Actor{ID: seller.ID, Role: models.RoleSeller},
		admin:    models.Actor{ID: admin.ID, Role: models.RoleAdmin},
		outsider: models.Actor{ID: outsider.ID, Role: models.RoleCustomer},
	}
}

func (e *env) product(price string, stock int) *models.Product {
	return e.store.AddProduct(models.Product{
		SellerID: e.seller.ID,
		Name:     "Rice cooker",
		Price:    dec(price),
		Stock:    stock,
		Active:   true,
	})
}

func (e *env) service(price string) *models.Service {
	return e.store.AddService(models.Service{
		SellerID:        e.seller.ID,
		Name:            "Aircon cleaning",
		Price:           dec(price),
		DurationMinutes: 90,
		Active:          true,
	})
}

var nearby = &models.GeoPoint{Lat: 13.7460, Lng: 100.5340}

func wallet() services.PaymentInput {
	return services.PaymentInput{Method: models.PaymentWallet}
}

func (e *env) order(t *testing.T, p *models.Product, qty int) *models.Transaction {
	t.Helper()
	res, err := e.orders.Create(context.Background(), e.customer, services.CreateOrderInput{
		Items:            []services.OrderLine{{ProductID: p.ID, Quantity: qty}},
		DeliveryAddress:  "99 Sukhumvit Rd",
		DeliveryLocation: nearby,
		Payment:          wallet(),
	})
	require.NoError(t, err)
	return res.Transaction
}

// local renders a UTC instant as the platform's scheduled date and time.
func local(at time.Time) (string, string) {
	l := at.In(time.FixedZone("", int(bangkok/time.Second)))
	return l.Format("2006-01-02"), l.Format("15:04")
}

func (e *env) booking(t *testing.T, sv *models.Service, at time.Time) *models.Transaction {
	t.Helper()
	date, tm := local(at)
	res, err := e.bookings.Create(context.Background(), e.customer, services.CreateBookingInput{
		ServiceID:     sv.ID,
		ScheduledDate: date,
		ScheduledTime: tm,
		Payment:       wallet(),
	})
	require.NoError(t, err)
	return res.Transaction
}

func (e *env) reload(t *testing.T, id uuid.UUID) *models.Transaction {
	t.Helper()
	tx, err := e.store.Transactions().GetByID(context.Background(), id)
	require.NoError(t, err)
	return tx
}

// deliverOrder walks a paid order to delivered.
func (e *env) deliverOrder(t *testing.T, id uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	for _, status := range []string{models.StatusConfirmed, models.StatusProcessing, models.StatusShipped, models.StatusDelivered} {
		_, err := e.orders.SellerUpdate(ctx, id, e.seller, services.SellerOrderUpdate{Status: status})
		require.NoError(t, err, status)
	}
}
