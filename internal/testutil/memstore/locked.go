package memstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/marketplace-escrow/backend/internal/repositories"
	"github.com/shopspring/decimal"
)

// Pool-level repositories take the store lock per call, like single statements
// outside a transaction.

func locked[T any](s *Store, fn func() (T, error)) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

func lockedErr(s *Store, fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

type lockedTransactions struct{ s *Store }

func (r lockedTransactions) inner() transactions { return transactions{r.s} }

func (r lockedTransactions) Create(ctx context.Context, t *models.Transaction) error {
	return lockedErr(r.s, func() error { return r.inner().Create(ctx, t) })
}

func (r lockedTransactions) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return locked(r.s, func() (*models.Transaction, error) { return r.inner().GetByID(ctx, id) })
}

func (r lockedTransactions) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return locked(r.s, func() (*models.Transaction, error) { return r.inner().GetForUpdate(ctx, id) })
}

func (r lockedTransactions) GetByPaymentReference(ctx context.Context, ref string) (*models.Transaction, error) {
	return locked(r.s, func() (*models.Transaction, error) { return r.inner().GetByPaymentReference(ctx, ref) })
}

func (r lockedTransactions) Update(ctx context.Context, t *models.Transaction) error {
	return lockedErr(r.s, func() error { return r.inner().Update(ctx, t) })
}

func (r lockedTransactions) AppendHistory(ctx context.Context, id uuid.UUID, entry models.StatusEntry) error {
	return lockedErr(r.s, func() error { return r.inner().AppendHistory(ctx, id, entry) })
}

func (r lockedTransactions) SwapEscrow(ctx context.Context, id uuid.UUID, from, to models.EscrowStatus, escrowed decimal.Decimal) error {
	return lockedErr(r.s, func() error { return r.inner().SwapEscrow(ctx, id, from, to, escrowed) })
}

func (r lockedTransactions) List(ctx context.Context, f repositories.TransactionFilter) ([]models.Transaction, error) {
	return locked(r.s, func() ([]models.Transaction, error) { return r.inner().List(ctx, f) })
}

func (r lockedTransactions) ListExpiredUnpaid(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error) {
	return locked(r.s, func() ([]models.Transaction, error) { return r.inner().ListExpiredUnpaid(ctx, now, limit) })
}

func (r lockedTransactions) ListDeliveredBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error) {
	return locked(r.s, func() ([]models.Transaction, error) { return r.inner().ListDeliveredBefore(ctx, cutoff, limit) })
}

type lockedWallets struct{ s *Store }

func (r lockedWallets) inner() wallets { return wallets{r.s} }

func (r lockedWallets) GetOrCreate(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	return locked(r.s, func() (*models.Wallet, error) { return r.inner().GetOrCreate(ctx, userID, currency) })
}

func (r lockedWallets) Credit(ctx context.Context, e *models.WalletEntry) error {
	return lockedErr(r.s, func() error { return r.inner().Credit(ctx, e) })
}

func (r lockedWallets) Debit(ctx context.Context, e *models.WalletEntry) error {
	return lockedErr(r.s, func() error { return r.inner().Debit(ctx, e) })
}

func (r lockedWallets) Entries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.WalletEntry, error) {
	return locked(r.s, func() ([]models.WalletEntry, error) { return r.inner().Entries(ctx, userID, limit, offset) })
}

func (r lockedWallets) EntriesForTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.WalletEntry, error) {
	return locked(r.s, func() ([]models.WalletEntry, error) { return r.inner().EntriesForTransaction(ctx, transactionID) })
}

type lockedCatalog struct{ s *Store }

func (r lockedCatalog) inner() catalog { return catalog{r.s} }

func (r lockedCatalog) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	return locked(r.s, func() (*models.Product, error) { return r.inner().GetProduct(ctx, id) })
}

func (r lockedCatalog) GetService(ctx context.Context, id uuid.UUID) (*models.Service, error) {
	return locked(r.s, func() (*models.Service, error) { return r.inner().GetService(ctx, id) })
}

func (r lockedCatalog) CategoryExists(ctx context.Context, id uuid.UUID) (bool, error) {
	return locked(r.s, func() (bool, error) { return r.inner().CategoryExists(ctx, id) })
}

func (r lockedCatalog) ReserveStock(ctx context.Context, productID uuid.UUID, qty int) error {
	return lockedErr(r.s, func() error { return r.inner().ReserveStock(ctx, productID, qty) })
}

func (r lockedCatalog) RestoreStock(ctx context.Context, productID uuid.UUID, qty int) error {
	return lockedErr(r.s, func() error { return r.inner().RestoreStock(ctx, productID, qty) })
}

type lockedDisputes struct{ s *Store }

func (r lockedDisputes) inner() disputes { return disputes{r.s} }

func (r lockedDisputes) Create(ctx context.Context, d *models.Dispute) error {
	return lockedErr(r.s, func() error { return r.inner().Create(ctx, d) })
}

func (r lockedDisputes) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return locked(r.s, func() (*models.Dispute, error) { return r.inner().GetByID(ctx, id) })
}

func (r lockedDisputes) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return locked(r.s, func() (*models.Dispute, error) { return r.inner().GetForUpdate(ctx, id) })
}

func (r lockedDisputes) Update(ctx context.Context, d *models.Dispute) error {
	return lockedErr(r.s, func() error { return r.inner().Update(ctx, d) })
}

func (r lockedDisputes) AppendMessage(ctx context.Context, id uuid.UUID, msg models.DisputeMessage) error {
	return lockedErr(r.s, func() error { return r.inner().AppendMessage(ctx, id, msg) })
}

func (r lockedDisputes) AppendHistory(ctx context.Context, id uuid.UUID, entry models.StatusEntry) error {
	return lockedErr(r.s, func() error { return r.inner().AppendHistory(ctx, id, entry) })
}

func (r lockedDisputes) List(ctx context.Context, f repositories.DisputeFilter) ([]models.Dispute, error) {
	return locked(r.s, func() ([]models.Dispute, error) { return r.inner().List(ctx, f) })
}

type lockedRedFlags struct{ s *Store }

func (r lockedRedFlags) Create(ctx context.Context, f *models.RedFlag) error {
	return lockedErr(r.s, func() error { return redFlags{r.s}.Create(ctx, f) })
}

func (r lockedRedFlags) CountSince(ctx context.Context, sellerID uuid.UUID, since time.Time) (int, error) {
	return locked(r.s, func() (int, error) { return redFlags{r.s}.CountSince(ctx, sellerID, since) })
}

type lockedUsers struct{ s *Store }

func (r lockedUsers) Create(ctx context.Context, u *models.User) error {
	return lockedErr(r.s, func() error { return users{r.s}.Create(ctx, u) })
}

func (r lockedUsers) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return locked(r.s, func() (*models.User, error) { return users{r.s}.GetByID(ctx, id) })
}

type lockedAudit struct{ s *Store }

func (r lockedAudit) Log(ctx context.Context, entry models.AuditLog) error {
	return lockedErr(r.s, func() error { return audit{r.s}.Log(ctx, entry) })
}

func (r lockedAudit) GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	return locked(r.s, func() ([]models.AuditLog, error) {
		return audit{r.s}.GetByEntity(ctx, entityType, entityID, limit, offset)
	})
}
