package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/marketplace-escrow/backend/internal/models"
	"github.com/shopspring/decimal"
)

type TransactionRepo struct {
	db DBTX
}

func NewTransactionRepo(db DBTX) *TransactionRepo {
	return &TransactionRepo{db: db}
}

const transactionColumns = `
	id, kind, reference, customer_id, seller_id, seller_type,
	subtotal, fee, discount, total_amount, escrowed_amount, currency,
	payment_method, payment_reference, gateway_charge_id, is_paid, paid_at, payment_expires_at,
	escrow_status, status, status_history,
	customer_confirmed, customer_confirmed_at, seller_confirmed, seller_confirmed_at,
	delivered_at, has_dispute, dispute_id, cancellation_reason, cancelled_by, cancelled_at,
	booking_details, order_details, deleted_at, created_at, updated_at`

func scanTransaction(row pgx.Row) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(
		&t.ID, &t.Kind, &t.Reference, &t.CustomerID, &t.SellerID, &t.SellerType,
		&t.Subtotal, &t.Fee, &t.Discount, &t.TotalAmount, &t.EscrowedAmount, &t.Currency,
		&t.PaymentMethod, &t.PaymentReference, &t.GatewayChargeID, &t.IsPaid, &t.PaidAt, &t.PaymentExpiresAt,
		&t.EscrowStatus, &t.Status, &t.History,
		&t.CustomerConfirmed, &t.CustomerConfirmedAt, &t.SellerConfirmed, &t.SellerConfirmedAt,
		&t.DeliveredAt, &t.HasDispute, &t.DisputeID, &t.CancellationReason, &t.CancelledBy, &t.CancelledAt,
		&t.Booking, &t.Order, &t.DeletedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &t, nil
}

func referencePrefix(kind models.Kind) string {
	if kind == models.KindBooking {
		return "BK"
	}
	return "OR"
}

func (r *TransactionRepo) Create(ctx context.Context, t *models.Transaction) error {
	if t.History == nil {
		t.History = []models.StatusEntry{}
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO transactions (
			kind, reference, customer_id, seller_id, seller_type,
			subtotal, fee, discount, total_amount, escrowed_amount, currency,
			payment_method, payment_reference, gateway_charge_id, is_paid, paid_at, payment_expires_at,
			escrow_status, status, status_history, booking_details, order_details
		)
		VALUES ($1, next_reference($2, 'transaction_ref_seq'), $3, $4, $5,
			$6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22)
		RETURNING id, reference, created_at, updated_at
	`, t.Kind, referencePrefix(t.Kind), t.CustomerID, t.SellerID, t.SellerType,
		t.Subtotal, t.Fee, t.Discount, t.TotalAmount, t.EscrowedAmount, t.Currency,
		t.PaymentMethod, t.PaymentReference, t.GatewayChargeID, t.IsPaid, t.PaidAt, t.PaymentExpiresAt,
		t.EscrowStatus, t.Status, t.History, t.Booking, t.Order,
	).Scan(&t.ID, &t.Reference, &t.CreatedAt, &t.UpdatedAt)
	return uniqueViolation(err)
}

func (r *TransactionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
}

func (r *TransactionRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	return scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
}

func (r *TransactionRepo) GetByPaymentReference(ctx context.Context, ref string) (*models.Transaction, error) {
	return scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE payment_reference = $1`, ref))
}

func (r *TransactionRepo) Update(ctx context.Context, t *models.Transaction) error {
	err := r.db.QueryRow(ctx, `
		UPDATE transactions SET
			subtotal = $2, fee = $3, discount = $4, total_amount = $5,
			gateway_charge_id = $6, is_paid = $7, paid_at = $8, payment_expires_at = $9,
			status = $10,
			customer_confirmed = $11, customer_confirmed_at = $12,
			seller_confirmed = $13, seller_confirmed_at = $14,
			has_dispute = $15, dispute_id = $16,
			cancellation_reason = $17, cancelled_by = $18, cancelled_at = $19,
			booking_details = $20, order_details = $21, deleted_at = $22,
			delivered_at = $23,
			updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, t.ID,
		t.Subtotal, t.Fee, t.Discount, t.TotalAmount,
		t.GatewayChargeID, t.IsPaid, t.PaidAt, t.PaymentExpiresAt,
		t.Status,
		t.CustomerConfirmed, t.CustomerConfirmedAt,
		t.SellerConfirmed, t.SellerConfirmedAt,
		t.HasDispute, t.DisputeID,
		t.CancellationReason, t.CancelledBy, t.CancelledAt,
		t.Booking, t.Order, t.DeletedAt,
		t.DeliveredAt,
	).Scan(&t.UpdatedAt)
	return notFound(err)
}

func (r *TransactionRepo) AppendHistory(ctx context.Context, id uuid.UUID, entry models.StatusEntry) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions SET status_history = status_history || jsonb_build_array($2::jsonb)
		WHERE id = $1
	`, id, entry)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *TransactionRepo) SwapEscrow(ctx context.Context, id uuid.UUID, from, to models.EscrowStatus, escrowed decimal.Decimal) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE transactions SET escrow_status = $3, escrowed_amount = $4, updated_at = now()
		WHERE id = $1 AND escrow_status = $2
	`, id, from, to, escrowed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleEscrow
	}
	return nil
}

func (r *TransactionRepo) List(ctx context.Context, f TransactionFilter) ([]models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions`
	args := []any{}
	argIdx := 1
	where := []string{"deleted_at IS NULL"}

	if f.CustomerID != nil && f.SellerID != nil {
		where = append(where, fmt.Sprintf("(customer_id = $%d OR seller_id = $%d)", argIdx, argIdx+1))
		args = append(args, *f.CustomerID, *f.SellerID)
		argIdx += 2
	} else if f.CustomerID != nil {
		where = append(where, fmt.Sprintf("customer_id = $%d", argIdx))
		args = append(args, *f.CustomerID)
		argIdx++
	} else if f.SellerID != nil {
		where = append(where, fmt.Sprintf("seller_id = $%d", argIdx))
		args = append(args, *f.SellerID)
		argIdx++
	}
	if f.Kind != nil {
		where = append(where, fmt.Sprintf("kind = $%d", argIdx))
		args = append(args, *f.Kind)
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}

	query += " WHERE " + strings.Join(where, " AND ")
	query += " ORDER BY created_at DESC"

	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, f.Limit, f.Offset)

	return r.query(ctx, query, args...)
}

func (r *TransactionRepo) ListExpiredUnpaid(ctx context.Context, now time.Time, limit int) ([]models.Transaction, error) {
	return r.query(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE is_paid = false AND deleted_at IS NULL AND status = 'pending'
		  AND payment_expires_at IS NOT NULL AND payment_expires_at < $1
		ORDER BY payment_expires_at LIMIT $2`, now, limit)
}

func (r *TransactionRepo) ListDeliveredBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error) {
	return r.query(ctx, `SELECT `+transactionColumns+` FROM transactions
		WHERE status = 'delivered' AND has_dispute = false AND escrow_status = 'locked'
		  AND deleted_at IS NULL AND delivered_at < $1
		ORDER BY delivered_at LIMIT $2`, cutoff, limit)
}

func (r *TransactionRepo) query(ctx context.Context, sql string, args ...any) ([]models.Transaction, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}
