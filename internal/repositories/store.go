package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrStaleEscrow       = errors.New("escrow status changed concurrently")
	ErrInsufficientFunds = errors.New("insufficient wallet balance")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrDuplicate         = errors.New("duplicate record")
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type TransactionFilter struct {
	CustomerID *uuid.UUID
	SellerID   *uuid.UUID
	Kind       *models.Kind
	Status     *string
	Limit      int
	Offset     int
}

type DisputeFilter struct {
	Status     *string
	Priority   *models.Priority
	AssignedTo *uuid.UUID
	PartyID    *uuid.UUID
	Limit      int
	Offset     int
}

type TransactionRepository interface {
	Create(ctx context.Context, t *models.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	// GetForUpdate locks the row until the surrounding unit of work ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetByPaymentReference(ctx context.Context, ref string) (*models.Transaction, error)
	// Update persists every mutable field except escrow state and history.
	Update(ctx context.Context, t *models.Transaction) error
	AppendHistory(ctx context.Context, id uuid.UUID, entry models.StatusEntry) error
	// SwapEscrow moves escrow_status from -> to, failing with ErrStaleEscrow if it is no longer from.
	SwapEscrow(ctx context.Context, id uuid.UUID, from, to models.EscrowStatus, escrowed decimal.Decimal) error
	List(ctx context.Context, f TransactionFilter) ([]models.Transaction, error)
	ListExpiredUnpaid(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error)
	ListDeliveredBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error)
}

type WalletRepository interface {
	GetOrCreate(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error)
	// Credit and Debit fill WalletID, Type, BalanceAfter, ID and CreatedAt of e.
	Credit(ctx context.Context, e *models.WalletEntry) error
	Debit(ctx context.Context, e *models.WalletEntry) error
	Entries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.WalletEntry, error)
	EntriesForTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.WalletEntry, error)
}

type CatalogRepository interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	GetService(ctx context.Context, id uuid.UUID) (*models.Service, error)
	CategoryExists(ctx context.Context, id uuid.UUID) (bool, error)
	ReserveStock(ctx context.Context, productID uuid.UUID, qty int) error
	RestoreStock(ctx context.Context, productID uuid.UUID, qty int) error
}

type DisputeRepository interface {
	Create(ctx context.Context, d *models.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	// Update persists every mutable field except messages and history.
	Update(ctx context.Context, d *models.Dispute) error
	AppendMessage(ctx context.Context, id uuid.UUID, msg models.DisputeMessage) error
	AppendHistory(ctx context.Context, id uuid.UUID, entry models.StatusEntry) error
	List(ctx context.Context, f DisputeFilter) ([]models.Dispute, error)
}

type RedFlagRepository interface {
	Create(ctx context.Context, f *models.RedFlag) error
	CountSince(ctx context.Context, sellerID uuid.UUID, since time.Time) (int, error)
}

type UserRepository interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type AuditRepository interface {
	Log(ctx context.Context, entry models.AuditLog) error
	GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

// Repos groups the repositories bound to one connection or transaction.
type Repos interface {
	Transactions() TransactionRepository
	Wallets() WalletRepository
	Catalog() CatalogRepository
	Disputes() DisputeRepository
	RedFlags() RedFlagRepository
	Users() UserRepository
	Audit() AuditRepository
}

// Store hands out pool-bound repositories and runs units of work.
type Store interface {
	Repos
	// WithTx runs fn inside one database transaction. Any error or panic rolls back.
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Repos) error) error
}

type pgRepos struct {
	db DBTX
}

func (r pgRepos) Transactions() TransactionRepository { return NewTransactionRepo(r.db) }
func (r pgRepos) Wallets() WalletRepository           { return NewWalletRepo(r.db) }
func (r pgRepos) Catalog() CatalogRepository          { return NewCatalogRepo(r.db) }
func (r pgRepos) Disputes() DisputeRepository         { return NewDisputeRepo(r.db) }
func (r pgRepos) RedFlags() RedFlagRepository         { return NewRedFlagRepo(r.db) }
func (r pgRepos) Users() UserRepository               { return NewUserRepo(r.db) }
func (r pgRepos) Audit() AuditRepository              { return NewAuditRepo(r.db) }

type PgStore struct {
	pgRepos
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pgRepos: pgRepos{db: pool}, pool: pool}
}

func (s *PgStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx Repos) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(ctx, pgRepos{db: tx}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func uniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}
