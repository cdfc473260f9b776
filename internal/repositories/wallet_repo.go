package repositories

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/marketplace-escrow/backend/internal/models"
)

type WalletRepo struct {
	db DBTX
}

func NewWalletRepo(db DBTX) *WalletRepo {
	return &WalletRepo{db: db}
}

func (r *WalletRepo) GetOrCreate(ctx context.Context, userID uuid.UUID, currency string) (*models.Wallet, error) {
	var w models.Wallet
	err := r.db.QueryRow(ctx, `
		INSERT INTO wallets (user_id, currency) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING id, user_id, balance, currency, created_at, updated_at
	`, userID, currency).Scan(&w.ID, &w.UserID, &w.Balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// Credit creates the wallet on first use.
func (r *WalletRepo) Credit(ctx context.Context, e *models.WalletEntry) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO wallets (user_id, balance) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET balance = wallets.balance + EXCLUDED.balance, updated_at = now()
		RETURNING id, balance
	`, e.UserID, e.Amount).Scan(&e.WalletID, &e.BalanceAfter)
	if err != nil {
		return err
	}
	e.Type = models.EntryCredit
	return r.insertEntry(ctx, e)
}

func (r *WalletRepo) Debit(ctx context.Context, e *models.WalletEntry) error {
	err := r.db.QueryRow(ctx, `
		UPDATE wallets SET balance = balance - $2, updated_at = now()
		WHERE user_id = $1 AND balance >= $2
		RETURNING id, balance
	`, e.UserID, e.Amount).Scan(&e.WalletID, &e.BalanceAfter)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrInsufficientFunds
		}
		return err
	}
	e.Type = models.EntryDebit
	return r.insertEntry(ctx, e)
}

func (r *WalletRepo) insertEntry(ctx context.Context, e *models.WalletEntry) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO wallet_entries (wallet_id, user_id, type, category, amount, balance_after, transaction_id, payment_reference, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`, e.WalletID, e.UserID, e.Type, e.Category, e.Amount, e.BalanceAfter, e.TransactionID, e.PaymentReference, e.Description,
	).Scan(&e.ID, &e.CreatedAt)
}

const walletEntryColumns = `id, wallet_id, user_id, type, category, amount, balance_after, transaction_id, payment_reference, description, created_at`

func (r *WalletRepo) Entries(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.WalletEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.queryEntries(ctx, `SELECT `+walletEntryColumns+` FROM wallet_entries
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, userID, limit, offset)
}

func (r *WalletRepo) EntriesForTransaction(ctx context.Context, transactionID uuid.UUID) ([]models.WalletEntry, error) {
	return r.queryEntries(ctx, `SELECT `+walletEntryColumns+` FROM wallet_entries
		WHERE transaction_id = $1 ORDER BY created_at`, transactionID)
}

func (r *WalletRepo) queryEntries(ctx context.Context, sql string, args ...any) ([]models.WalletEntry, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.WalletEntry
	for rows.Next() {
		var e models.WalletEntry
		if err := rows.Scan(&e.ID, &e.WalletID, &e.UserID, &e.Type, &e.Category, &e.Amount, &e.BalanceAfter,
			&e.TransactionID, &e.PaymentReference, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
