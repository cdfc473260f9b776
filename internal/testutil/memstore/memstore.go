// Package memstore is an in-memory repositories.Store for tests.
// Units of work are serialised and roll back on error.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/marketplace-escrow/backend/internal/repositories"
	"github.com/shopspring/decimal"
)

type state struct {
	transactions map[uuid.UUID]*models.Transaction
	disputes     map[uuid.UUID]*models.Dispute
	wallets      map[uuid.UUID]*models.Wallet
	entries      []models.WalletEntry
	products     map[uuid.UUID]*models.Product
	services     map[uuid.UUID]*models.Service
	categories   map[uuid.UUID]bool
	users        map[uuid.UUID]*models.User
	flags        []models.RedFlag
	audit        []models.AuditLog
	txSeq        int
	dpSeq        int
}

func newState() *state {
	return &state{
		transactions: make(map[uuid.UUID]*models.Transaction),
		disputes:     make(map[uuid.UUID]*models.Dispute),
		wallets:      make(map[uuid.UUID]*models.Wallet),
		products:     make(map[uuid.UUID]*models.Product),
		services:     make(map[uuid.UUID]*models.Service),
		categories:   make(map[uuid.UUID]bool),
		users:        make(map[uuid.UUID]*models.User),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.transactions {
		c.transactions[k] = cloneTransaction(v)
	}
	for k, v := range s.disputes {
		c.disputes[k] = cloneDispute(v)
	}
	for k, v := range s.wallets {
		w := *v
		c.wallets[k] = &w
	}
	for k, v := range s.products {
		p := *v
		c.products[k] = &p
	}
	for k, v := range s.services {
		sv := *v
		c.services[k] = &sv
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.users {
		u := *v
		c.users[k] = &u
	}
	c.entries = append([]models.WalletEntry(nil), s.entries...)
	c.flags = append([]models.RedFlag(nil), s.flags...)
	c.audit = append([]models.AuditLog(nil), s.audit...)
	c.txSeq, c.dpSeq = s.txSeq, s.dpSeq
	return c
}

func cloneTransaction(t *models.Transaction) *models.Transaction {
	c := *t
	c.History = append([]models.StatusEntry(nil), t.History...)
	if t.Booking != nil {
		b := *t.Booking
		c.Booking = &b
	}
	if t.Order != nil {
		o := *t.Order
		o.Items = append([]models.OrderItem(nil), t.Order.Items...)
		c.Order = &o
	}
	return &c
}

func cloneDispute(d *models.Dispute) *models.Dispute {
	c := *d
	c.Evidence = append([]string(nil), d.Evidence...)
	c.Messages = append([]models.DisputeMessage(nil), d.Messages...)
	c.History = append([]models.StatusEntry(nil), d.History...)
	return &c
}

// Store implements repositories.Store.
type Store struct {
	mu   sync.Mutex
	data *state
	Now  func() time.Time
}

var _ repositories.Store = (*Store)(nil)

func New() *Store {
	return &Store{data: newState(), Now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx repositories.Repos) error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	defer func() {
		if p := recover(); p != nil {
			s.data = snapshot
			panic(p)
		}
		if err != nil {
			s.data = snapshot
		}
	}()

	return fn(ctx, repos{s: s})
}

func (s *Store) Transactions() repositories.TransactionRepository { return lockedTransactions{s: s} }
func (s *Store) Wallets() repositories.WalletRepository           { return lockedWallets{s: s} }
func (s *Store) Catalog() repositories.CatalogRepository          { return lockedCatalog{s: s} }
func (s *Store) Disputes() repositories.DisputeRepository         { return lockedDisputes{s: s} }
func (s *Store) RedFlags() repositories.RedFlagRepository         { return lockedRedFlags{s: s} }
func (s *Store) Users() repositories.UserRepository               { return lockedUsers{s: s} }
func (s *Store) Audit() repositories.AuditRepository              { return lockedAudit{s: s} }

// repos is bound to a unit of work already holding s.mu.
type repos struct {
	s *Store
}

func (r repos) Transactions() repositories.TransactionRepository { return transactions{r.s} }
func (r repos) Wallets() repositories.WalletRepository           { return wallets{r.s} }
func (r repos) Catalog() repositories.CatalogRepository          { return catalog{r.s} }
func (r repos) Disputes() repositories.DisputeRepository         { return disputes{r.s} }
func (r repos) RedFlags() repositories.RedFlagRepository         { return redFlags{r.s} }
func (r repos) Users() repositories.UserRepository               { return users{r.s} }
func (r repos) Audit() repositories.AuditRepository              { return audit{r.s} }

// --- seeding and inspection helpers ---

func (s *Store) AddUser(u models.User) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.SubscriptionTier == "" {
		u.SubscriptionTier = models.TierFree
	}
	u.CreatedAt = s.Now()
	s.data.users[u.ID] = &u
	c := u
	return &c
}

func (s *Store) AddCategory() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	s.data.categories[id] = true
	return id
}

func (s *Store) AddProduct(p models.Product) *models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.SellerType == "" {
		p.SellerType = models.SellerTypeVendor
	}
	p.CreatedAt = s.Now()
	s.data.products[p.ID] = &p
	c := p
	return &c
}

func (s *Store) AddService(sv models.Service) *models.Service {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sv.ID == uuid.Nil {
		sv.ID = uuid.New()
	}
	if sv.SellerType == "" {
		sv.SellerType = models.SellerTypeVendor
	}
	sv.CreatedAt = s.Now()
	s.data.services[sv.ID] = &sv
	c := sv
	return &c
}

// Fund credits a wallet outside any transaction.
func (s *Store) Fund(userID uuid.UUID, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := models.WalletEntry{UserID: userID, Amount: amount, Category: models.CategoryTopUp, Description: "test top-up"}
	_ = wallets{s}.Credit(context.Background(), &e)
}

func (s *Store) Balance(userID uuid.UUID) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.data.wallets[userID]; ok {
		return w.Balance
	}
	return decimal.Zero
}

func (s *Store) Stock(productID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.data.products[productID]; ok {
		return p.Stock
	}
	return -1
}

func (s *Store) Flags(sellerID uuid.UUID) []models.RedFlag {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.RedFlag
	for _, f := range s.data.flags {
		if f.SellerID == sellerID {
			out = append(out, f)
		}
	}
	return out
}

func (s *Store) AuditActions(entityID uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, l := range s.data.audit {
		if l.EntityID != nil && *l.EntityID == entityID {
			out = append(out, l.Action)
		}
	}
	return out
}

// Mutate edits a stored transaction directly, for arranging test fixtures.
func (s *Store) Mutate(id uuid.UUID, fn func(t *models.Transaction)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.data.transactions[id]; ok {
		fn(t)
	}
}

// --- transactions ---

type transactions struct{ s *Store }

func (r transactions) Create(_ context.Context, t *models.Transaction) error {
	d := r.s.data
	for _, existing := range d.transactions {
		if existing.PaymentReference == t.PaymentReference {
			return fmt.Errorf("%w: payment_reference", repositories.ErrDuplicate)
		}
	}
	d.txSeq++
	prefix := "OR"
	if t.Kind == models.KindBooking {
		prefix = "BK"
	}
	now := r.s.Now()
	t.ID = uuid.New()
	t.Reference = fmt.Sprintf("%s-%s-%06d", prefix, now.Format("060102"), d.txSeq)
	t.CreatedAt, t.UpdatedAt = now, now
	if t.History == nil {
		t.History = []models.StatusEntry{}
	}
	d.transactions[t.ID] = cloneTransaction(t)
	return nil
}

func (r transactions) GetByID(_ context.Context, id uuid.UUID) (*models.Transaction, error) {
	t, ok := r.s.data.transactions[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return cloneTransaction(t), nil
}

func (r transactions) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return r.GetByID(ctx, id)
}

func (r transactions) GetByPaymentReference(_ context.Context, ref string) (*models.Transaction, error) {
	for _, t := range r.s.data.transactions {
		if t.PaymentReference == ref {
			return cloneTransaction(t), nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r transactions) Update(_ context.Context, t *models.Transaction) error {
	stored, ok := r.s.data.transactions[t.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	u := cloneTransaction(t)
	u.Kind, u.Reference = stored.Kind, stored.Reference
	u.CustomerID, u.SellerID, u.SellerType = stored.CustomerID, stored.SellerID, stored.SellerType
	u.PaymentMethod, u.PaymentReference, u.Currency = stored.PaymentMethod, stored.PaymentReference, stored.Currency
	u.EscrowStatus, u.EscrowedAmount = stored.EscrowStatus, stored.EscrowedAmount
	u.History = stored.History
	u.CreatedAt = stored.CreatedAt
	u.UpdatedAt = r.s.Now()
	t.UpdatedAt = u.UpdatedAt
	r.s.data.transactions[t.ID] = u
	return nil
}

func (r transactions) AppendHistory(_ context.Context, id uuid.UUID, entry models.StatusEntry) error {
	stored, ok := r.s.data.transactions[id]
	if !ok {
		return repositories.ErrNotFound
	}
	stored.History = append(stored.History, entry)
	return nil
}

func (r transactions) SwapEscrow(_ context.Context, id uuid.UUID, from, to models.EscrowStatus, escrowed decimal.Decimal) error {
	stored, ok := r.s.data.transactions[id]
	if !ok || stored.EscrowStatus != from {
		return repositories.ErrStaleEscrow
	}
	stored.EscrowStatus = to
	stored.EscrowedAmount = escrowed
	stored.UpdatedAt = r.s.Now()
	return nil
}

func (r transactions) List(_ context.Context, f repositories.TransactionFilter) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, t := range r.s.data.transactions {
		if t.DeletedAt != nil {
			continue
		}
		switch {
		case f.CustomerID != nil && f.SellerID != nil:
			if t.CustomerID != *f.CustomerID && t.SellerID != *f.SellerID {
				continue
			}
		case f.CustomerID != nil && t.CustomerID != *f.CustomerID:
			continue
		case f.SellerID != nil && t.SellerID != *f.SellerID:
			continue
		}
		if f.Kind != nil && t.Kind != *f.Kind {
			continue
		}
		if f.Status != nil && t.Status != *f.Status {
			continue
		}
		out = append(out, *cloneTransaction(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, f.Limit, f.Offset), nil
}

func (r transactions) ListExpiredUnpaid(_ context.Context, now time.Time, limit int) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, t := range r.s.data.transactions {
		if !t.IsPaid && t.DeletedAt == nil && t.Status == models.StatusPending &&
			t.PaymentExpiresAt != nil && t.PaymentExpiresAt.Before(now) {
			out = append(out, *cloneTransaction(t))
		}
	}
	return page(out, limit, 0), nil
}

func (r transactions) ListDeliveredBefore(_ context.Context, cutoff time.Time, limit int) ([]models.Transaction, error) {
	var out []models.Transaction
	for _, t := range r.s.data.transactions {
		if t.Status == models.StatusDelivered && !t.HasDispute && t.EscrowStatus == models.EscrowLocked &&
			t.DeletedAt == nil && t.DeliveredAt != nil && t.DeliveredAt.Before(cutoff) {
			out = append(out, *cloneTransaction(t))
		}
	}
	return page(out, limit, 0), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

// --- wallets ---

type wallets struct{ s *Store }

func (r wallets) GetOrCreate(_ context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	w := r.wallet(userID)
	if currency != "" {
		w.Currency = currency
	}
	c := *w
	return &c, nil
}

func (r wallets) wallet(userID uuid.UUID) *models.Wallet {
	w, ok := r.s.data.wallets[userID]
	if !ok {
		now := r.s.Now()
		w = &models.Wallet{ID: uuid.New(), UserID: userID, Balance: decimal.Zero, Currency: "thb", CreatedAt: now, UpdatedAt: now}
		r.s.data.wallets[userID] = w
	}
	return w
}

func (r wallets) Credit(_ context.Context, e *models.WalletEntry) error {
	w := r.wallet(e.UserID)
	w.Balance = w.Balance.Add(e.Amount)
	w.UpdatedAt = r.s.Now()
	e.Type = models.EntryCredit
	r.record(w, e)
	return nil
}

func (r wallets) Debit(_ context.Context, e *models.WalletEntry) error {
	w, ok := r.s.data.wallets[e.UserID]
	if !ok || w.Balance.LessThan(e.Amount) {
		return repositories.ErrInsufficientFunds
	}
	w.Balance = w.Balance.Sub(e.Amount)
	w.UpdatedAt = r.s.Now()
	e.Type = models.EntryDebit
	r.record(w, e)
	return nil
}

func (r wallets) record(w *models.Wallet, e *models.WalletEntry) {
	e.ID = uuid.New()
	e.WalletID = w.ID
	e.BalanceAfter = w.Balance
	e.CreatedAt = r.s.Now()
	r.s.data.entries = append(r.s.data.entries, *e)
}

func (r wallets) Entries(_ context.Context, userID uuid.UUID, limit, offset int) ([]models.WalletEntry, error) {
	var out []models.WalletEntry
	for i := len(r.s.data.entries) - 1; i >= 0; i-- {
		if e := r.s.data.entries[i]; e.UserID == userID {
			out = append(out, e)
		}
	}
	return page(out, limit, offset), nil
}

func (r wallets) EntriesForTransaction(_ context.Context, transactionID uuid.UUID) ([]models.WalletEntry, error) {
	var out []models.WalletEntry
	for _, e := range r.s.data.entries {
		if e.TransactionID != nil && *e.TransactionID == transactionID {
			out = append(out, e)
		}
	}
	return out, nil
}

// --- catalog ---

type catalog struct{ s *Store }

func (r catalog) GetProduct(_ context.Context, id uuid.UUID) (*models.Product, error) {
	p, ok := r.s.data.products[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (r catalog) GetService(_ context.Context, id uuid.UUID) (*models.Service, error) {
	sv, ok := r.s.data.services[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	c := *sv
	return &c, nil
}

func (r catalog) CategoryExists(_ context.Context, id uuid.UUID) (bool, error) {
	return r.s.data.categories[id], nil
}

func (r catalog) ReserveStock(_ context.Context, productID uuid.UUID, qty int) error {
	p, ok := r.s.data.products[productID]
	if !ok {
		return repositories.ErrNotFound
	}
	if p.Stock < qty {
		return repositories.ErrInsufficientStock
	}
	p.Stock -= qty
	return nil
}

func (r catalog) RestoreStock(_ context.Context, productID uuid.UUID, qty int) error {
	p, ok := r.s.data.products[productID]
	if !ok {
		return repositories.ErrNotFound
	}
	p.Stock += qty
	return nil
}

// --- disputes ---

type disputes struct{ s *Store }

func (r disputes) Create(_ context.Context, d *models.Dispute) error {
	for _, existing := range r.s.data.disputes {
		if existing.TransactionID == d.TransactionID && existing.Status != models.DisputeStatusClosed {
			return fmt.Errorf("%w: idx_disputes_open_per_transaction", repositories.ErrDuplicate)
		}
	}
	r.s.data.dpSeq++
	now := r.s.Now()
	d.ID = uuid.New()
	d.Reference = fmt.Sprintf("DP-%s-%06d", now.Format("060102"), r.s.data.dpSeq)
	d.CreatedAt, d.UpdatedAt = now, now
	r.s.data.disputes[d.ID] = cloneDispute(d)
	return nil
}

func (r disputes) GetByID(_ context.Context, id uuid.UUID) (*models.Dispute, error) {
	d, ok := r.s.data.disputes[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return cloneDispute(d), nil
}

func (r disputes) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return r.GetByID(ctx, id)
}

func (r disputes) Update(_ context.Context, d *models.Dispute) error {
	stored, ok := r.s.data.disputes[d.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	u := cloneDispute(d)
	u.Messages, u.History, u.Evidence = stored.Messages, stored.History, stored.Evidence
	u.CreatedAt = stored.CreatedAt
	u.UpdatedAt = r.s.Now()
	d.UpdatedAt = u.UpdatedAt
	r.s.data.disputes[d.ID] = u
	return nil
}

func (r disputes) AppendMessage(_ context.Context, id uuid.UUID, msg models.DisputeMessage) error {
	stored, ok := r.s.data.disputes[id]
	if !ok {
		return repositories.ErrNotFound
	}
	stored.Messages = append(stored.Messages, msg)
	return nil
}

func (r disputes) AppendHistory(_ context.Context, id uuid.UUID, entry models.StatusEntry) error {
	stored, ok := r.s.data.disputes[id]
	if !ok {
		return repositories.ErrNotFound
	}
	stored.History = append(stored.History, entry)
	return nil
}

func (r disputes) List(_ context.Context, f repositories.DisputeFilter) ([]models.Dispute, error) {
	var out []models.Dispute
	for _, d := range r.s.data.disputes {
		if f.Status != nil && d.Status != *f.Status {
			continue
		}
		if f.Priority != nil && d.Priority != *f.Priority {
			continue
		}
		if f.AssignedTo != nil && (d.AssignedTo == nil || *d.AssignedTo != *f.AssignedTo) {
			continue
		}
		if f.PartyID != nil && d.CustomerID != *f.PartyID && d.SellerID != *f.PartyID {
			continue
		}
		out = append(out, *cloneDispute(d))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return page(out, f.Limit, f.Offset), nil
}

// --- red flags, users, audit ---

type redFlags struct{ s *Store }

func (r redFlags) Create(_ context.Context, f *models.RedFlag) error {
	f.ID = uuid.New()
	f.CreatedAt = r.s.Now()
	r.s.data.flags = append(r.s.data.flags, *f)
	return nil
}

func (r redFlags) CountSince(_ context.Context, sellerID uuid.UUID, since time.Time) (int, error) {
	n := 0
	for _, f := range r.s.data.flags {
		if f.SellerID == sellerID && !f.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

type users struct{ s *Store }

func (r users) Create(_ context.Context, u *models.User) error {
	u.ID = uuid.New()
	u.CreatedAt = r.s.Now()
	c := *u
	r.s.data.users[u.ID] = &c
	return nil
}

func (r users) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := r.s.data.users[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	c := *u
	return &c, nil
}

type audit struct{ s *Store }

func (r audit) Log(_ context.Context, entry models.AuditLog) error {
	entry.ID = uuid.New()
	entry.CreatedAt = r.s.Now()
	r.s.data.audit = append(r.s.data.audit, entry)
	return nil
}

func (r audit) GetByEntity(_ context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	var out []models.AuditLog
	for i := len(r.s.data.audit) - 1; i >= 0; i-- {
		l := r.s.data.audit[i]
		if l.EntityType == entityType && l.EntityID != nil && *l.EntityID == entityID {
			out = append(out, l)
		}
	}
	return page(out, limit, offset), nil
}
