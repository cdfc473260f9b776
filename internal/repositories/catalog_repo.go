package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/marketplace-escrow/backend/internal/models"
)

type CatalogRepo struct {
	db DBTX
}

func NewCatalogRepo(db DBTX) *CatalogRepo {
	return &CatalogRepo{db: db}
}

func (r *CatalogRepo) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	var p models.Product
	err := r.db.QueryRow(ctx, `
		SELECT id, seller_id, seller_type, category_id, name, price, sale_price, stock, active, created_at
		FROM products WHERE id = $1
	`, id).Scan(&p.ID, &p.SellerID, &p.SellerType, &p.CategoryID, &p.Name, &p.Price, &p.SalePrice, &p.Stock, &p.Active, &p.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *CatalogRepo) GetService(ctx context.Context, id uuid.UUID) (*models.Service, error) {
	var s models.Service
	err := r.db.QueryRow(ctx, `
		SELECT id, seller_id, seller_type, category_id, name, price, duration_minutes, requires_location, active, created_at
		FROM services WHERE id = $1
	`, id).Scan(&s.ID, &s.SellerID, &s.SellerType, &s.CategoryID, &s.Name, &s.Price, &s.DurationMinutes, &s.RequiresLocation, &s.Active, &s.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *CatalogRepo) CategoryExists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM categories WHERE id = $1)", id).Scan(&exists)
	return exists, err
}

// ReserveStock decrements stock only if enough units remain.
func (r *CatalogRepo) ReserveStock(ctx context.Context, productID uuid.UUID, qty int) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2
	`, productID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientStock
	}
	return nil
}

func (r *CatalogRepo) RestoreStock(ctx context.Context, productID uuid.UUID, qty int) error {
	tag, err := r.db.Exec(ctx, `UPDATE products SET stock = stock + $2 WHERE id = $1`, productID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
