package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/marketplace-escrow/backend/internal/models"
)

type UserRepo struct {
	db DBTX
}

func NewUserRepo(db DBTX) *UserRepo {
	return &UserRepo{db: db}
}

func (r *UserRepo) Create(ctx context.Context, u *models.User) error {
	if u.SubscriptionTier == "" {
		u.SubscriptionTier = models.TierFree
	}
	return r.db.QueryRow(ctx, `
		INSERT INTO users (role, name, email, verified, subscription_tier, location)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, u.Role, u.Name, u.Email, u.Verified, u.SubscriptionTier, u.Location).Scan(&u.ID, &u.CreatedAt)
}

func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := r.db.QueryRow(ctx, `
		SELECT id, role, name, email, verified, subscription_tier, location, created_at
		FROM users WHERE id = $1
	`, id).Scan(&u.ID, &u.Role, &u.Name, &u.Email, &u.Verified, &u.SubscriptionTier, &u.Location, &u.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}
