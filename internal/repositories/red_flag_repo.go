package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/marketplace-escrow/backend/internal/models"
)

type RedFlagRepo struct {
	db DBTX
}

func NewRedFlagRepo(db DBTX) *RedFlagRepo {
	return &RedFlagRepo{db: db}
}

func (r *RedFlagRepo) Create(ctx context.Context, f *models.RedFlag) error {
	return r.db.QueryRow(ctx, `
		INSERT INTO seller_red_flags (seller_id, transaction_id, reason, severity, note)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, f.SellerID, f.TransactionID, f.Reason, f.Severity, f.Note).Scan(&f.ID, &f.CreatedAt)
}

func (r *RedFlagRepo) CountSince(ctx context.Context, sellerID uuid.UUID, since time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT count(*) FROM seller_red_flags WHERE seller_id = $1 AND created_at >= $2
	`, sellerID, since).Scan(&n)
	return n, err
}
